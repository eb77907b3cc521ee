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

	"github.com/dr0pdb/aote/pkg/common"
	"github.com/spf13/cobra"
)

func newRecoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Replay the redo log into the maps and checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return recoverEngine(cmd.OutOrStdout(), conf)
		},
	}
}

// recoverEngine applies the redo log to every map and compacts the log with a checkpoint.
func recoverEngine(w io.Writer, conf *common.EngineConfig) error {
	s, e, err := openEngine(conf)
	if err != nil {
		return err
	}

	if err := e.Checkpoint(); err != nil {
		closeEngine(s, e)
		return err
	}

	fmt.Fprintf(w, "recovered %d maps in %s\n", len(s.MapNames()), conf.DataPath())
	return closeEngine(s, e)
}
