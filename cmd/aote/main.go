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
	"os"

	"github.com/dr0pdb/aote/pkg/common"
	"github.com/dr0pdb/aote/pkg/mvcc"
	"github.com/dr0pdb/aote/pkg/storage"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "aote",
		Short:         "aote transaction engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path of the yaml engine config")

	rootCmd.AddCommand(
		newServeCommand(),
		newDumpLogCommand(),
		newRecoverCommand(),
	)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file given with --config on top of the defaults.
func loadConfig() (*common.EngineConfig, error) {
	conf := common.NewDefaultEngineConfig()
	if configPath != "" {
		if err := conf.LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	level, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	return conf, nil
}

// openEngine opens the storage of the config and registers its maps and the
// maps that only exist in the redo log with a new engine.
func openEngine(conf *common.EngineConfig) (storage.Storage, *mvcc.Engine, error) {
	s, err := storage.NewFileStorage(conf.DataPath(), nil)
	if err != nil {
		return nil, nil, err
	}

	e := mvcc.NewEngine()
	if err := e.Init(conf); err != nil {
		s.Close()
		return nil, nil, err
	}

	names := s.MapNames()
	names = append(names, e.PendingRedoLogMaps()...)
	for _, name := range names {
		m, err := s.OpenMap(name)
		if err == nil {
			err = e.AddStorageMap(m)
		}
		if err != nil {
			e.Close()
			s.Close()
			return nil, nil, err
		}
	}

	log.WithFields(log.Fields{"maps": len(s.MapNames()), "dir": conf.DataPath()}).Info("aote::openEngine; opened the engine")
	return s, e, nil
}

// closeEngine closes the engine and then the storage.
func closeEngine(s storage.Storage, e *mvcc.Engine) error {
	err := e.Close()
	if serr := s.Close(); serr != nil && err == nil {
		err = serr
	}
	return err
}
