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
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Map is an ordered key-value map owned by a Storage.
type Map interface {
	// Name returns the name of the map.
	Name() string

	// Get returns the value of the key and whether it exists.
	Get(key []byte) ([]byte, bool)

	// Put sets the value of the key.
	Put(key, value []byte)

	// Remove deletes the key.
	Remove(key []byte)

	// NewIterator returns an iterator over the current content.
	NewIterator() Iterator

	// Len returns the number of keys.
	Len() int

	// Save flushes the dirty state to durable storage.
	// Saving a clean map is a no-op.
	Save() error

	IsClosed() bool

	// Close saves and closes the map.
	Close() error

	// Storage returns the storage which owns the map.
	Storage() Storage

	// Mark returns the watermark stored with the map.
	Mark() uint64

	// SetMark sets the watermark written by the next Save.
	SetMark(mark uint64)
}

// Storage is a collection of named maps persisted in one directory.
type Storage interface {
	// OpenMap opens the map, creating an empty one if it doesn't exist.
	OpenMap(name string) (Map, error)

	// MapNames returns the names of all the maps in sorted order.
	MapNames() []string

	// DropMap closes the map and deletes its data.
	DropMap(name string) error

	// RegisterEventListener registers a listener for storage events.
	RegisterEventListener(l EventListener)

	// Close notifies the listeners and then saves and closes every map.
	Close() error
}

// EventListener receives storage lifecycle events.
type EventListener interface {
	// BeforeClose is called before the maps of the storage are closed.
	BeforeClose(s Storage)
}

// fileStorage is the file backed Storage.
// Each map lives in memory and is persisted as one snapshot file.
type fileStorage struct {
	dirname string
	options *Options
	fs      fileSystem

	lockFile file

	mu        sync.Mutex
	maps      map[string]*fileMap
	listeners []EventListener

	closed atomic.Bool
}

var _ Storage = (*fileStorage)(nil)

// OpenMap opens the map, creating an empty one if it doesn't exist.
func (s *fileStorage) OpenMap(name string) (Map, error) {
	if err := validateMapName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, errors.Errorf("storage %s is closed", s.dirname)
	}

	if m, ok := s.maps[name]; ok {
		return m, nil
	}

	m := newFileMap(s, name)
	s.maps[name] = m
	log.WithFields(log.Fields{"name": name}).Info("storage::storage::OpenMap; created map")
	return m, nil
}

// MapNames returns the names of all the maps in sorted order.
func (s *fileStorage) MapNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.maps))
	for name := range s.maps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropMap closes the map and deletes its data.
func (s *fileStorage) DropMap(name string) error {
	log.WithFields(log.Fields{"name": name}).Info("storage::storage::DropMap; started")

	s.mu.Lock()
	m, ok := s.maps[name]
	delete(s.maps, name)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	m.drop()
	err := s.fs.remove(getFileName(s.dirname, mapFileType, name))
	if err != nil && !isNotExist(err) {
		return errors.Wrapf(err, "remove map file of %s", name)
	}
	return nil
}

// RegisterEventListener registers a listener for storage events.
func (s *fileStorage) RegisterEventListener(l EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, l)
}

// Close notifies the listeners and then saves and closes every map.
// Closing a closed storage is a no-op.
func (s *fileStorage) Close() error {
	s.mu.Lock()
	listeners := append([]EventListener(nil), s.listeners...)
	s.mu.Unlock()

	if s.closed.Load() {
		return nil
	}

	log.WithFields(log.Fields{"dir": s.dirname}).Info("storage::storage::Close; started")

	// listeners may still use the maps.
	for _, l := range listeners {
		l.BeforeClose(s)
	}

	s.mu.Lock()
	if !s.closed.CAS(false, true) {
		s.mu.Unlock()
		return nil
	}
	maps := make([]*fileMap, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, m)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, m := range maps {
		m := m
		g.Go(m.Close)
	}
	err := g.Wait()

	if cerr := s.lockFile.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "close lock file")
	}

	log.WithFields(log.Fields{"dir": s.dirname, "err": err}).Info("storage::storage::Close; done")
	return err
}

// load reads every map file of the directory.
func (s *fileStorage) load() error {
	names, err := s.fs.list(s.dirname)
	if err != nil {
		return errors.Wrapf(err, "list %s", s.dirname)
	}

	for _, fname := range names {
		name, ok := parseMapFileName(fname)
		if !ok {
			continue
		}

		m := newFileMap(s, name)
		if err := m.load(); err != nil {
			return errors.Wrapf(err, "load map %s", name)
		}
		s.maps[name] = m
	}

	log.WithFields(log.Fields{"dir": s.dirname, "maps": len(s.maps)}).Info("storage::storage::load; done")
	return nil
}

// NewFileStorage opens the file storage in the given directory creating it if needed.
//
// Every map file found in the directory is loaded into memory.
func NewFileStorage(dirname string, options *Options) (Storage, error) {
	return newFileStorage(dirname, options, defaultFS)
}

func newFileStorage(dirname string, options *Options, fs fileSystem) (*fileStorage, error) {
	log.WithFields(log.Fields{"dir": dirname}).Info("storage::storage::NewFileStorage; started")

	if err := fs.mkdirAll(dirname, 0755); err != nil {
		return nil, errors.Wrapf(err, "create storage dir %s", dirname)
	}

	lockFile, err := fs.lock(getFileName(dirname, lockFileType, ""))
	if err != nil {
		return nil, errors.Wrapf(err, "lock storage dir %s", dirname)
	}

	s := &fileStorage{
		dirname:  dirname,
		options:  options,
		fs:       fs,
		lockFile: lockFile,
		maps:     make(map[string]*fileMap),
	}

	if err := s.load(); err != nil {
		_ = lockFile.Close()
		return nil, err
	}
	return s, nil
}
