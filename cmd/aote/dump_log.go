/**
 * Copyright 2021 The IcecaneDB Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"io"

	"github.com/dr0pdb/aote/pkg/redolog"
	"github.com/dr0pdb/aote/pkg/storage"
	"github.com/spf13/cobra"
)

func newDumpLogCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "dump-log",
		Short: "Print every record of the redo log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				conf, err := loadConfig()
				if err != nil {
					return err
				}
				dir = conf.RedoLogPath()
			}
			return dumpLog(cmd.OutOrStdout(), dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "redo log directory, defaults to the one of the config")
	return cmd
}

func dumpLog(w io.Writer, dir string) error {
	return redolog.ReadLog(dir, func(seq uint64, r redolog.Record) error {
		fmt.Fprintf(w, "%016x %v\n", seq, r)

		lt, ok := r.(*redolog.LocalTransaction)
		if !ok {
			return nil
		}
		ops, err := redolog.DecodeOperations(lt.Operations)
		if err != nil {
			return err
		}
		for _, op := range ops {
			wb, err := storage.NewWriteBatchFromData(op.Data)
			if err != nil {
				return err
			}

			it := wb.Iterator()
			for {
				kind, key, value, ok := it.Next()
				if !ok {
					break
				}
				if kind == storage.BatchKindSet {
					fmt.Fprintf(w, "\t%s set %q = %q\n", op.MapName, key, value)
				} else {
					fmt.Fprintf(w, "\t%s delete %q\n", op.MapName, key)
				}
			}
			if err := it.Err(); err != nil {
				return err
			}
		}
		return nil
	})
}
