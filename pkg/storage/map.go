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

package storage

import (
	"io/ioutil"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// fileMap is a skip list backed map persisted as a single snapshot file.
type fileMap struct {
	name    string
	storage *fileStorage
	list    *skipList

	mark   atomic.Uint64
	dirty  atomic.Bool
	closed atomic.Bool

	// saveMu serializes Save and Close.
	saveMu sync.Mutex
}

var _ Map = (*fileMap)(nil)

func (m *fileMap) Name() string {
	return m.name
}

func (m *fileMap) Get(key []byte) ([]byte, bool) {
	n := m.list.get(key)
	if n == nil {
		return nil, false
	}
	return n.value, true
}

// Put sets the value of the key. Puts on a closed map are dropped.
func (m *fileMap) Put(key, value []byte) {
	if m.closed.Load() {
		log.WithFields(log.Fields{"name": m.name}).Error("storage::map::Put; map is closed")
		return
	}

	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	m.list.set(k, v)
	m.dirty.Store(true)
}

// Remove deletes the key. Removes on a closed map are dropped.
func (m *fileMap) Remove(key []byte) {
	if m.closed.Load() {
		log.WithFields(log.Fields{"name": m.name}).Error("storage::map::Remove; map is closed")
		return
	}

	if m.list.delete(key) != nil {
		m.dirty.Store(true)
	}
}

func (m *fileMap) NewIterator() Iterator {
	return newIterator(m.list)
}

func (m *fileMap) Len() int {
	n, _ := m.list.stats()
	return n
}

// Save writes the snapshot file if the map changed since the last save.
//
// The file is written to a temporary file, synced and renamed over the old one.
func (m *fileMap) Save() error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.closed.Load() || !m.dirty.Swap(false) {
		return nil
	}

	if err := m.writeSnapshot(); err != nil {
		m.dirty.Store(true)
		log.WithFields(log.Fields{"name": m.name, "err": err}).Error("storage::map::Save; snapshot failed")
		return err
	}
	return nil
}

func (m *fileMap) writeSnapshot() error {
	fs := m.storage.fs
	mark := m.mark.Load()
	data := encodeSnapshot(mark, m.list)

	tmp := getFileName(m.storage.dirname, tempFileType, m.name)
	f, err := fs.create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp)
	}

	if err := fs.rename(tmp, getFileName(m.storage.dirname, mapFileType, m.name)); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}

	n, size := m.list.stats()
	log.WithFields(log.Fields{"name": m.name, "mark": mark, "keys": n, "bytes": size}).Debug("storage::map::Save; done")
	return nil
}

// load replaces the content with the snapshot file.
func (m *fileMap) load() error {
	name := getFileName(m.storage.dirname, mapFileType, m.name)
	f, err := m.storage.fs.open(name)
	if err != nil {
		return errors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return err
	}
	if snap.comparator != m.list.comparator.Name() {
		return errors.Errorf("map %s was saved with comparator %s, opened with %s", m.name, snap.comparator, m.list.comparator.Name())
	}

	it := snap.batch.Iterator()
	for {
		kind, key, value, ok := it.Next()
		if !ok {
			break
		}
		if kind == BatchKindSet {
			m.list.set(key, value)
		}
	}
	if it.Err() != nil {
		return it.Err()
	}

	m.mark.Store(snap.mark)
	return nil
}

func (m *fileMap) IsClosed() bool {
	return m.closed.Load()
}

// Close saves and closes the map. Closing a closed map is a no-op.
func (m *fileMap) Close() error {
	err := m.Save()

	m.saveMu.Lock()
	m.closed.Store(true)
	m.saveMu.Unlock()

	return err
}

// drop closes the map without saving.
func (m *fileMap) drop() {
	m.saveMu.Lock()
	m.closed.Store(true)
	m.saveMu.Unlock()
}

func (m *fileMap) Storage() Storage {
	return m.storage
}

func (m *fileMap) Mark() uint64 {
	return m.mark.Load()
}

func (m *fileMap) SetMark(mark uint64) {
	m.mark.Store(mark)
}

func newFileMap(s *fileStorage, name string) *fileMap {
	return &fileMap{
		name:    name,
		storage: s,
		list:    newSkipList(s.options.maxLevel(), s.options.comparator()),
	}
}
