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

package redolog

import (
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dr0pdb/aote/pkg/common"
	"github.com/dr0pdb/aote/pkg/storage"
	"github.com/dr0pdb/aote/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openService(t *testing.T, conf *common.EngineConfig) (*LogSyncService, uint64) {
	s := New(conf)
	last, err := s.Init()
	require.NoError(t, err)
	return s, last
}

func txRecord(tid uint64, ops map[string]map[string]string) *LocalTransaction {
	blobs := make(map[string][]byte)
	for name, kvs := range ops {
		wb := storage.NewWriteBatch()
		wb.SetSeqNum(tid)
		for k, v := range kvs {
			if v == "" {
				wb.Delete([]byte(k))
			} else {
				wb.Set([]byte(k), []byte(v))
			}
		}
		blobs[name] = wb.Data()
	}
	return &LocalTransaction{TransactionID: tid, Operations: EncodeOperations(blobs)}
}

func applyBlobs(t *testing.T, state map[string]map[string]string, name string, blobs [][]byte) {
	for _, blob := range blobs {
		wb, err := storage.NewWriteBatchFromData(blob)
		require.NoError(t, err)
		if state[name] == nil {
			state[name] = make(map[string]string)
		}
		it := wb.Iterator()
		for {
			kind, key, value, ok := it.Next()
			if !ok {
				break
			}
			if kind == storage.BatchKindSet {
				state[name][string(key)] = string(value)
			} else {
				delete(state[name], string(key))
			}
		}
		require.NoError(t, it.Err())
	}
}

func segmentCount(t *testing.T, dir string) int {
	seqs, err := listSegments(dir)
	require.NoError(t, err)
	return len(seqs)
}

func TestInitEmptyDir(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeInstant)
	s, last := openService(t, conf)
	defer s.Close()

	assert.Equal(t, uint64(0), last)
	assert.Empty(t, s.PendingRedoLog())
	assert.Equal(t, 1, segmentCount(t, conf.RedoLogPath()))
}

func TestReplayAfterRestart(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeInstant)
	s, _ := openService(t, conf)
	s.Start()

	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(1, map[string]map[string]string{"foo": {"a": "1"}})))
	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(2, map[string]map[string]string{"foo": {"b": "2"}, "bar": {"c": "3"}})))
	assert.False(t, s.IsPending(2), "instant sync leaves nothing pending")
	require.NoError(t, s.Close())
	s.Join()

	s, last := openService(t, conf)
	defer s.Close()
	assert.Equal(t, uint64(2), last)
	assert.Equal(t, uint64(2), s.LastTransactionID())

	state := make(map[string]map[string]string)
	applyBlobs(t, state, "foo", s.TakePendingRedoLog("foo"))
	applyBlobs(t, state, "bar", s.TakePendingRedoLog("bar"))
	assert.Equal(t, map[string]map[string]string{
		"foo": {"a": "1", "b": "2"},
		"bar": {"c": "3"},
	}, state)
	assert.Empty(t, s.PendingRedoLog())
	assert.Empty(t, s.TakePendingRedoLog("foo"))
}

func TestCheckpointTruncatesLog(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeInstant)
	dir := conf.RedoLogPath()
	s, _ := openService(t, conf)

	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(1, map[string]map[string]string{"foo": {"a": "1"}})))
	assert.Equal(t, uint64(0), s.LastCheckpointID())
	require.NoError(t, s.Checkpoint(2))
	assert.Equal(t, 1, segmentCount(t, dir))
	assert.Equal(t, uint64(2), s.LastCheckpointID())

	var records []Record
	require.NoError(t, ReadLog(dir, func(seq uint64, r Record) error {
		records = append(records, r)
		return nil
	}))
	assert.Equal(t, []Record{&Checkpoint{ID: 2, Saved: true}}, records)

	// nothing happened since, so the second checkpoint writes nothing.
	info, err := os.Stat(segmentFileName(dir, 2))
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint(3))
	after, err := os.Stat(segmentFileName(dir, 2))
	require.NoError(t, err)
	assert.Equal(t, info.Size(), after.Size())
	assert.Equal(t, 1, segmentCount(t, dir))
	assert.Equal(t, uint64(2), s.LastCheckpointID(), "expected a skipped checkpoint to keep the id")
	require.NoError(t, s.Close())

	s, last := openService(t, conf)
	defer s.Close()
	assert.Equal(t, uint64(2), last)
	assert.Equal(t, uint64(2), s.LastCheckpointID(), "expected init to find the checkpoint")
	assert.Empty(t, s.PendingRedoLog())
}

func TestDroppedMapIsNotResurrected(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeInstant)
	s, _ := openService(t, conf)

	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(1, map[string]map[string]string{"foo": {"a": "1"}, "keep": {"k": "v"}})))
	require.NoError(t, s.AddAndWaitForSync(&DroppedMap{MapName: "foo"}))
	require.NoError(t, s.Close())

	s, last := openService(t, conf)
	defer s.Close()
	assert.Equal(t, uint64(1), last)
	pending := s.PendingRedoLog()
	assert.NotContains(t, pending, "foo")
	assert.Len(t, pending["keep"], 1)
}

func TestPeriodicSyncPending(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypePeriodic)
	s, _ := openService(t, conf)
	defer s.Close()

	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(5, map[string]map[string]string{"foo": {"a": "1"}})))
	assert.True(t, s.IsPending(5))

	require.NoError(t, s.sync())
	assert.False(t, s.IsPending(5))
}

func TestPeriodicSyncGoroutine(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypePeriodic)
	conf.LogSyncPeriod = 5 * time.Millisecond
	s, _ := openService(t, conf)
	s.Start()
	defer s.Close()

	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(5, map[string]map[string]string{"foo": {"a": "1"}})))
	assert.Eventually(t, func() bool { return !s.IsPending(5) }, 5*time.Second, 5*time.Millisecond)
}

func TestNoSyncIsNeverPending(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeNoSync)
	s, _ := openService(t, conf)
	defer s.Close()

	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(5, map[string]map[string]string{"foo": {"a": "1"}})))
	assert.False(t, s.IsPending(5))
}

func TestClosedServiceRejectsAppends(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeInstant)
	s, _ := openService(t, conf)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Error(t, s.AddAndMaybeWaitForSync(&DroppedMap{MapName: "foo"}))
}

func TestTornTailIsRepaired(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeInstant)
	dir := conf.RedoLogPath()
	s, _ := openService(t, conf)
	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(1, map[string]map[string]string{"foo": {"a": "1"}})))
	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(2, map[string]map[string]string{"foo": {"b": "2"}})))
	require.NoError(t, s.Close())

	name := segmentFileName(dir, 1)
	info, err := os.Stat(name)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(name, info.Size()-3))

	s, last := openService(t, conf)
	assert.Equal(t, uint64(1), last, "the torn record is dropped")
	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(3, map[string]map[string]string{"foo": {"c": "3"}})))
	require.NoError(t, s.Close())

	// the damaged segment is no longer the newest one.
	s, last = openService(t, conf)
	defer s.Close()
	assert.Equal(t, uint64(3), last)

	state := make(map[string]map[string]string)
	applyBlobs(t, state, "foo", s.TakePendingRedoLog("foo"))
	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, state["foo"])
}

func TestCorruptionInOlderSegmentFailsInit(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeInstant)
	dir := conf.RedoLogPath()
	s, _ := openService(t, conf)
	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(1, map[string]map[string]string{"foo": {"a": "1"}})))
	require.NoError(t, s.Close())

	s, _ = openService(t, conf)
	require.NoError(t, s.Close())

	name := segmentFileName(dir, 1)
	data, err := ioutil.ReadFile(name)
	require.NoError(t, err)
	data[headerSize+2] ^= 0xff
	require.NoError(t, ioutil.WriteFile(name, data, 0644))

	_, err = New(conf).Init()
	assert.True(t, isCorruption(err))
}

func TestUnknownRecordTypeFailsInit(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeInstant)
	dir := conf.RedoLogPath()
	require.NoError(t, os.MkdirAll(dir, 0755))

	f, err := os.Create(segmentFileName(dir, 1))
	require.NoError(t, err)
	w := newLogRecordWriter(f)
	require.NoError(t, w.writeRecord([]byte{42, 1, 2, 3}))
	require.NoError(t, w.close())
	require.NoError(t, f.Close())

	_, err = New(conf).Init()
	assert.True(t, isCorruption(err))
}

func TestCheckpointCarriesUntakenMaps(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeInstant)
	s, _ := openService(t, conf)
	require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(1, map[string]map[string]string{"opened": {"a": "1"}, "cold": {"b": "2"}})))
	require.NoError(t, s.Close())

	s, _ = openService(t, conf)
	assert.Len(t, s.TakePendingRedoLog("opened"), 1)
	require.NoError(t, s.Checkpoint(5))
	require.NoError(t, s.Close())

	s, last := openService(t, conf)
	defer s.Close()
	assert.Equal(t, uint64(5), last)

	pending := s.PendingRedoLog()
	assert.NotContains(t, pending, "opened")
	state := make(map[string]map[string]string)
	applyBlobs(t, state, "cold", pending["cold"])
	assert.Equal(t, map[string]string{"b": "2"}, state["cold"])
}

// TestReplayMatchesDirectApplication applies random transactions directly and
// through the redo log and compares the results.
func TestReplayMatchesDirectApplication(t *testing.T) {
	conf := test.NewTestEngineConfig(t, common.LogSyncTypeNoSync)
	s, _ := openService(t, conf)

	rnd := rand.New(rand.NewSource(42))
	maps := []string{"m0", "m1", "m2"}
	direct := make(map[string]map[string]string)

	for tid := uint64(1); tid <= 300; tid++ {
		ops := make(map[string]map[string]string)
		for _, name := range maps {
			if rnd.Intn(2) == 0 {
				continue
			}
			ops[name] = make(map[string]string)
			for i := 0; i < 1+rnd.Intn(4); i++ {
				key := fmt.Sprintf("k%d", rnd.Intn(20))
				value := ""
				if rnd.Intn(4) != 0 {
					value = fmt.Sprintf("v%d", tid)
				}
				ops[name][key] = value
			}
		}
		if len(ops) == 0 {
			continue
		}

		for name, kvs := range ops {
			if direct[name] == nil {
				direct[name] = make(map[string]string)
			}
			for k, v := range kvs {
				if v == "" {
					delete(direct[name], k)
				} else {
					direct[name][k] = v
				}
			}
		}
		require.NoError(t, s.AddAndMaybeWaitForSync(txRecord(tid, ops)))
		if tid == 150 {
			// rotate in the middle to replay more than one segment.
			require.NoError(t, s.Close())
			s, _ = openService(t, conf)
		}
	}
	require.NoError(t, s.Close())

	s, _ = openService(t, conf)
	defer s.Close()
	replayed := make(map[string]map[string]string)
	for _, name := range maps {
		applyBlobs(t, replayed, name, s.TakePendingRedoLog(name))
	}
	assert.Equal(t, direct, replayed)
}

func TestSegmentFileNames(t *testing.T) {
	name := filepath.Base(segmentFileName("/tmp", 26))
	assert.Equal(t, "redo_000000000000001a.log", name)

	seq, ok := parseSegmentFileName(name)
	assert.True(t, ok)
	assert.Equal(t, uint64(26), seq)

	_, ok = parseSegmentFileName("redo_zz.log")
	assert.False(t, ok)
	_, ok = parseSegmentFileName("LOCK")
	assert.False(t, ok)
}
