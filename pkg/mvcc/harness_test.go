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

package mvcc

import (
	"testing"
	"time"

	"github.com/dr0pdb/aote/pkg/common"
	"github.com/dr0pdb/aote/pkg/redolog"
	"github.com/dr0pdb/aote/pkg/storage"
	"github.com/dr0pdb/aote/test"
	"github.com/stretchr/testify/require"
)

const testMapName = "test"

type engineTestHarness struct {
	t       *testing.T
	conf    *common.EngineConfig
	storage storage.Storage
	engine  *Engine
	m       storage.Map
}

// newEngineTestHarness creates an engine over a file storage in a temp dir.
// The checkpoint loop isn't started, tests drive checkpoints themselves.
func newEngineTestHarness(t *testing.T, syncType string, opts ...func(*common.EngineConfig)) *engineTestHarness {
	conf := test.NewTestEngineConfig(t, syncType)
	conf.LogSyncPeriod = time.Hour
	conf.RunMode = common.ClientServer.String()
	for _, opt := range opts {
		opt(conf)
	}

	h := &engineTestHarness{t: t, conf: conf}
	h.open()
	return h
}

func (h *engineTestHarness) open() {
	s, err := storage.NewFileStorage(h.conf.DataPath(), nil)
	require.NoError(h.t, err, "Unexpected error while opening the storage")

	e := NewEngine()
	require.NoError(h.t, e.Init(h.conf), "Unexpected error while initiating the engine")

	m, err := s.OpenMap(testMapName)
	require.NoError(h.t, err, "Unexpected error while opening the map")
	require.NoError(h.t, e.AddStorageMap(m), "Unexpected error while registering the map")

	h.storage, h.engine, h.m = s, e, m
}

// crash abandons the engine and the storage without closing them and opens new ones.
// Whatever wasn't saved or logged is lost.
func (h *engineTestHarness) crash() {
	h.open()
}

// restart closes the engine and the storage and opens new ones.
func (h *engineTestHarness) restart() {
	h.close()
	h.open()
}

func (h *engineTestHarness) close() {
	require.NoError(h.t, h.engine.Close(), "Unexpected error while closing the engine")
	require.NoError(h.t, h.storage.Close(), "Unexpected error while closing the storage")
}

// openMap opens and registers another map of the storage.
func (h *engineTestHarness) openMap(name string) storage.Map {
	m, err := h.storage.OpenMap(name)
	require.NoError(h.t, err, "Unexpected error while opening the map")
	require.NoError(h.t, h.engine.AddStorageMap(m), "Unexpected error while registering the map")
	return m
}

// records returns every record of the redo log.
func (h *engineTestHarness) records() []redolog.Record {
	var records []redolog.Record
	err := redolog.ReadLog(h.conf.RedoLogPath(), func(_ uint64, r redolog.Record) error {
		records = append(records, r)
		return nil
	})
	require.NoError(h.t, err, "Unexpected error while reading the redo log")
	return records
}

func (h *engineTestHarness) begin(level IsolationLevel) (*Transaction, *TransactionMap) {
	txn, err := h.engine.BeginTransactionWithLevel(false, common.Embedded, level)
	require.NoError(h.t, err, "Unexpected error while beginning a txn")

	tm := h.engine.GetTransactionMap(testMapName, txn)
	require.NotNil(h.t, tm, "expected the test map to be registered")
	return txn, tm
}

func (h *engineTestHarness) put(key, value []byte) {
	txn, tm := h.begin(ReadCommitted)
	require.NoError(h.t, tm.Put(key, value), "Unexpected error during put")
	require.NoError(h.t, txn.Commit(), "Unexpected error during commit")
}

func (h *engineTestHarness) remove(key []byte) {
	txn, tm := h.begin(ReadCommitted)
	require.NoError(h.t, tm.Remove(key), "Unexpected error during remove")
	require.NoError(h.t, txn.Commit(), "Unexpected error during commit")
}

func (h *engineTestHarness) get(key []byte) ([]byte, error) {
	txn, tm := h.begin(ReadCommitted)
	defer txn.Rollback()

	return tm.Get(key)
}

// stored returns the persisted transactional value of the key in the map.
func (h *engineTestHarness) stored(key []byte) *txnValue {
	raw, ok := h.m.Get(key)
	require.True(h.t, ok, "expected the key to be present in the map")

	v, err := decodeTxnValue(raw)
	require.NoError(h.t, err, "Unexpected error while decoding the stored value")
	return v
}
