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

package test

import (
	"io/ioutil"
	"os"
	"path"
	"testing"

	"github.com/dr0pdb/aote/pkg/common"
)

var (
	// TestKeys - test data
	TestKeys [][]byte = [][]byte{[]byte("Key1"), []byte("Key2"), []byte("Key3"), []byte("Key4"), []byte("Key5")}

	// TestValues - test data
	TestValues [][]byte = [][]byte{[]byte("Value1"), []byte("Value2"), []byte("Value3"), []byte("Value4"), []byte("Value5")}

	// TestUpdatedValues - test data
	TestUpdatedValues [][]byte = [][]byte{[]byte("UpdatedValue1"), []byte("UpdatedValue2"), []byte("UpdatedValue3"), []byte("UpdatedValue4"), []byte("UpdatedValue5")}
)

// NewTestEngineConfig returns the default engine config rooted at a fresh temp dir
// with the given redo log sync type.
func NewTestEngineConfig(t *testing.T, syncType string) *common.EngineConfig {
	conf := common.NewDefaultEngineConfig()
	conf.BaseDir = t.TempDir()
	conf.LogSyncType = syncType
	return conf
}

// CreateTestDirectory creates a test directory for running tests.
func CreateTestDirectory(testDirectory string) {
	os.MkdirAll(testDirectory, os.ModePerm)
}

// CleanupTestDirectory removes everything inside the test directory but keeps the directory.
func CleanupTestDirectory(testDirectory string) error {
	dir, err := ioutil.ReadDir(testDirectory)
	if err != nil {
		return err
	}
	for _, d := range dir {
		if err := os.RemoveAll(path.Join(testDirectory, d.Name())); err != nil {
			return err
		}
	}
	return nil
}
