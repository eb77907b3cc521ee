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

package common

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	// LogSyncTypePeriodic syncs the redo log in the background every LogSyncPeriod.
	LogSyncTypePeriodic = "periodic"

	// LogSyncTypeInstant syncs the redo log before a commit returns.
	LogSyncTypeInstant = "instant"

	// LogSyncTypeNoSync never fsyncs the redo log; the OS decides.
	LogSyncTypeNoSync = "no_sync"
)

const (
	defaultBaseDir                       = "/tmp/aote"
	defaultRedoLogDir                    = "redo_log"
	defaultCommittedDataCacheSize        = "32MB"
	defaultLogSyncPeriod                 = 500 * time.Millisecond
	defaultCheckpointPeriod              = 1 * time.Hour
	defaultCheckpointServiceLoopInterval = 1 * time.Minute
)

// EngineConfig defines the configuration settings of the transaction engine.
type EngineConfig struct {
	BaseDir    string `yaml:"baseDir"`
	RedoLogDir string `yaml:"redoLogDir"`

	// LogSyncType is one of periodic, instant or no_sync.
	LogSyncType   string        `yaml:"logSyncType"`
	LogSyncPeriod time.Duration `yaml:"logSyncPeriod"`

	// CommittedDataCacheSize is the estimated amount of dirty data that forces a checkpoint.
	// It accepts human readable sizes such as 32MB or 1GiB.
	CommittedDataCacheSize string `yaml:"committedDataCacheSize"`

	CheckpointPeriod              time.Duration `yaml:"checkpointPeriod"`
	CheckpointServiceLoopInterval time.Duration `yaml:"checkpointServiceLoopInterval"`

	RunMode  string `yaml:"runMode"`
	LogLevel string `yaml:"logLevel"`
}

// NewDefaultEngineConfig returns a new default engine configuration.
func NewDefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		BaseDir:                       defaultBaseDir,
		RedoLogDir:                    defaultRedoLogDir,
		LogSyncType:                   LogSyncTypePeriodic,
		LogSyncPeriod:                 defaultLogSyncPeriod,
		CommittedDataCacheSize:        defaultCommittedDataCacheSize,
		CheckpointPeriod:              defaultCheckpointPeriod,
		CheckpointServiceLoopInterval: defaultCheckpointServiceLoopInterval,
		RunMode:                       Embedded.String(),
		LogLevel:                      "info",
	}
}

// NewEngineConfigFromMap builds a config out of the string settings used by the hosting server.
// Unknown keys are ignored, missing keys keep their defaults.
func NewEngineConfigFromMap(settings map[string]string) (*EngineConfig, error) {
	conf := NewDefaultEngineConfig()

	if v, ok := settings["base_dir"]; ok && v != "" {
		conf.BaseDir = v
	}
	if v, ok := settings["redo_log_dir"]; ok && v != "" {
		conf.RedoLogDir = v
	}
	if v, ok := settings["log_sync_type"]; ok && v != "" {
		conf.LogSyncType = strings.ToLower(v)
	}
	if v, ok := settings["committed_data_cache_size_in_mb"]; ok && v != "" {
		// plain numbers are megabytes.
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			conf.CommittedDataCacheSize = fmt.Sprintf("%dMB", n)
		} else {
			conf.CommittedDataCacheSize = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"log_sync_period", &conf.LogSyncPeriod},
		{"checkpoint_period", &conf.CheckpointPeriod},
		{"checkpoint_service_loop_interval", &conf.CheckpointServiceLoopInterval},
	}
	for _, d := range durations {
		v, ok := settings[d.key]
		if !ok || v == "" {
			continue
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value for %s", d.key)
		}
		*d.dst = time.Duration(ms) * time.Millisecond
	}

	if v, ok := settings["run_mode"]; ok && v != "" {
		conf.RunMode = v
	}
	if v, ok := settings["log_level"]; ok && v != "" {
		conf.LogLevel = v
	}

	return conf, conf.Validate()
}

// Validate validates an EngineConfig and returns an error if it's invalid.
func (conf *EngineConfig) Validate() error {
	if conf.BaseDir == "" {
		return fmt.Errorf("invalid base dir provided in config")
	}
	if conf.RedoLogDir == "" {
		return fmt.Errorf("invalid redo log dir provided in config")
	}
	switch conf.LogSyncType {
	case LogSyncTypePeriodic, LogSyncTypeInstant, LogSyncTypeNoSync:
	default:
		return fmt.Errorf("invalid log sync type %q provided in config", conf.LogSyncType)
	}
	if conf.LogSyncType == LogSyncTypePeriodic && conf.LogSyncPeriod <= 0 {
		return fmt.Errorf("invalid log sync period provided in config")
	}
	if _, err := conf.CommittedDataCacheBytes(); err != nil {
		return err
	}
	if conf.CheckpointPeriod <= 0 {
		return fmt.Errorf("invalid checkpoint period provided in config")
	}
	if conf.CheckpointServiceLoopInterval <= 0 {
		return fmt.Errorf("invalid checkpoint service loop interval provided in config")
	}
	if _, err := ParseRunMode(conf.RunMode); err != nil {
		return err
	}
	if _, err := log.ParseLevel(conf.LogLevel); err != nil {
		return err
	}
	return nil
}

// CommittedDataCacheBytes returns the checkpoint memory threshold in bytes.
func (conf *EngineConfig) CommittedDataCacheBytes() (int64, error) {
	n, err := units.RAMInBytes(conf.CommittedDataCacheSize)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid committed data cache size %q", conf.CommittedDataCacheSize)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid committed data cache size %q", conf.CommittedDataCacheSize)
	}
	return n, nil
}

// LoopInterval returns how long the checkpoint service sleeps between two passes.
// It never exceeds the checkpoint period.
func (conf *EngineConfig) LoopInterval() time.Duration {
	if conf.CheckpointPeriod < conf.CheckpointServiceLoopInterval {
		return conf.CheckpointPeriod
	}
	return conf.CheckpointServiceLoopInterval
}

// RedoLogPath returns the absolute redo log directory.
func (conf *EngineConfig) RedoLogPath() string {
	if filepath.IsAbs(conf.RedoLogDir) {
		return conf.RedoLogDir
	}
	return filepath.Join(conf.BaseDir, conf.RedoLogDir)
}

// DataPath returns the directory used by the file storage.
func (conf *EngineConfig) DataPath() string {
	return filepath.Join(conf.BaseDir, "data")
}

// LoadFromFile loads the config from the file. It assumes that config already has the defaults.
// In the case of an error, it leaves the config untouched.
func (conf *EngineConfig) LoadFromFile(path string) error {
	log.Info(fmt.Sprintf("common::config::LoadFromFile; loading config from file %s", path))
	data, err := ioutil.ReadFile(path)
	if err != nil {
		log.Error(fmt.Sprintf("common::config::LoadFromFile; error reading config from file %s, error %s", path, err))
		return errors.Wrapf(err, "reading config file %s", path)
	}
	fconf := EngineConfig{}
	err = yaml.Unmarshal(data, &fconf)
	if err != nil {
		log.Error(fmt.Sprintf("common::config::LoadFromFile; error unmarshalling config from file %s, error %s", path, err))
		return errors.Wrapf(err, "parsing config file %s", path)
	}

	log.WithFields(log.Fields{"config": fconf}).Debug("common::config::LoadFromFile; read contents from the file")

	// populate fields
	if fconf.BaseDir != "" {
		conf.BaseDir = fconf.BaseDir
	}
	if fconf.RedoLogDir != "" {
		conf.RedoLogDir = fconf.RedoLogDir
	}
	if fconf.LogSyncType != "" {
		conf.LogSyncType = strings.ToLower(fconf.LogSyncType)
	}
	if fconf.LogSyncPeriod != 0 {
		conf.LogSyncPeriod = fconf.LogSyncPeriod
	}
	if fconf.CommittedDataCacheSize != "" {
		conf.CommittedDataCacheSize = fconf.CommittedDataCacheSize
	}
	if fconf.CheckpointPeriod != 0 {
		conf.CheckpointPeriod = fconf.CheckpointPeriod
	}
	if fconf.CheckpointServiceLoopInterval != 0 {
		conf.CheckpointServiceLoopInterval = fconf.CheckpointServiceLoopInterval
	}
	if fconf.RunMode != "" {
		conf.RunMode = fconf.RunMode
	}
	if fconf.LogLevel != "" {
		conf.LogLevel = fconf.LogLevel
	}
	return nil
}
