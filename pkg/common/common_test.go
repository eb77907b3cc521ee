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
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	units "github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	conf := NewDefaultEngineConfig()
	assert.Nil(t, conf.Validate(), "default config should be valid")

	n, err := conf.CommittedDataCacheBytes()
	assert.Nil(t, err)
	assert.Equal(t, int64(32*units.MiB), n, "default committed data cache size should be 32MB")
	assert.Equal(t, time.Minute, conf.LoopInterval(), "loop interval should default to one minute")
}

func TestLoopIntervalCappedByCheckpointPeriod(t *testing.T) {
	conf := NewDefaultEngineConfig()
	conf.CheckpointPeriod = 10 * time.Second
	assert.Equal(t, 10*time.Second, conf.LoopInterval())
}

func TestConfigFromMap(t *testing.T) {
	conf, err := NewEngineConfigFromMap(map[string]string{
		"base_dir":                         "/var/lib/aote",
		"redo_log_dir":                     "redo",
		"log_sync_type":                    "INSTANT",
		"committed_data_cache_size_in_mb":  "64",
		"checkpoint_period":                "2000",
		"checkpoint_service_loop_interval": "5000",
		"run_mode":                         "client_server",
	})
	require.Nil(t, err, "Unexpected error while building config from map")

	assert.Equal(t, LogSyncTypeInstant, conf.LogSyncType)
	assert.Equal(t, filepath.Join("/var/lib/aote", "redo"), conf.RedoLogPath())
	n, err := conf.CommittedDataCacheBytes()
	assert.Nil(t, err)
	assert.Equal(t, int64(64*units.MiB), n)
	assert.Equal(t, 2*time.Second, conf.LoopInterval(), "loop interval is capped by the checkpoint period")

	rm, err := ParseRunMode(conf.RunMode)
	assert.Nil(t, err)
	assert.Equal(t, ClientServer, rm)
}

func TestConfigFromMapInvalid(t *testing.T) {
	_, err := NewEngineConfigFromMap(map[string]string{"checkpoint_period": "soon"})
	assert.NotNil(t, err, "expected an error for a non numeric period")

	_, err = NewEngineConfigFromMap(map[string]string{"log_sync_type": "sometimes"})
	assert.NotNil(t, err, "expected an error for an unknown sync type")

	_, err = NewEngineConfigFromMap(map[string]string{"committed_data_cache_size_in_mb": "lots"})
	assert.NotNil(t, err, "expected an error for an invalid cache size")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	contents := []byte("baseDir: /data/aote\nlogSyncType: no_sync\ncommittedDataCacheSize: 1GiB\ncheckpointPeriod: 30s\n")
	require.Nil(t, ioutil.WriteFile(path, contents, 0644))

	conf := NewDefaultEngineConfig()
	require.Nil(t, conf.LoadFromFile(path))
	assert.Nil(t, conf.Validate())

	assert.Equal(t, "/data/aote", conf.BaseDir)
	assert.Equal(t, LogSyncTypeNoSync, conf.LogSyncType)
	assert.Equal(t, 30*time.Second, conf.CheckpointPeriod)
	assert.Equal(t, defaultRedoLogDir, conf.RedoLogDir, "fields missing in the file keep their defaults")
	n, _ := conf.CommittedDataCacheBytes()
	assert.Equal(t, int64(units.GiB), n)

	err := conf.LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.NotNil(t, err)
	assert.Equal(t, "/data/aote", conf.BaseDir, "config should be untouched after a failed load")
}
