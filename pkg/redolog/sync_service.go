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
	"os"
	"sync"
	"time"

	icommon "github.com/dr0pdb/aote/internal/common"
	"github.com/dr0pdb/aote/pkg/common"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// LogSyncService appends records to the redo log and makes them durable.
//
// With the instant sync type a commit waits until its record is synced, the
// periodic type syncs in the background every sync period and no_sync leaves
// the flushing to the OS.
type LogSyncService struct {
	dir      string
	syncType string
	period   time.Duration

	// mu guards the current segment, the writer and the counters below.
	mu         sync.Mutex
	segment    *os.File
	segmentSeq uint64
	writer     *logRecordWriter

	// appended and synced count the records of this session.
	appended uint64
	synced   uint64

	// sinceCheckpoint is the number of records after the newest checkpoint record.
	sinceCheckpoint int

	// lastCheckpointID is the id of the newest checkpoint record in the log.
	lastCheckpointID uint64

	// pendingTids maps the transactions that aren't durable yet to their append number.
	pendingTids map[uint64]uint64

	// err is sticky, once set every append and wait fails with it.
	err error

	// syncMu serializes fsyncs and segment rotation.
	syncMu sync.Mutex

	pendingMu         sync.Mutex
	pending           PendingRedoLog
	lastTransactionID uint64

	initialized atomic.Bool
	running     atomic.Bool
	closed      atomic.Bool
	closeCh     chan struct{}
	done        chan struct{}
}

// New creates a log sync service for the redo log dir of the config.
func New(conf *common.EngineConfig) *LogSyncService {
	return &LogSyncService{
		dir:         conf.RedoLogPath(),
		syncType:    conf.LogSyncType,
		period:      conf.LogSyncPeriod,
		pendingTids: make(map[uint64]uint64),
		pending:     make(PendingRedoLog),
		closeCh:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Init replays the redo log and opens a new segment for appends.
//
// returns the highest transaction or checkpoint id found in the log.
// The per map blobs logged after the last checkpoint are kept, see TakePendingRedoLog.
func (s *LogSyncService) Init() (uint64, error) {
	if s.initialized.Load() {
		return s.lastTransactionID, nil
	}

	log.WithFields(log.Fields{"dir": s.dir, "syncType": s.syncType}).Info("redolog::sync_service::Init; started")

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return 0, errors.Wrapf(err, "create redo log dir %s", s.dir)
	}

	seqs, err := listSegments(s.dir)
	if err != nil {
		return 0, err
	}

	pending := make(PendingRedoLog)
	var last, lastCheckpoint uint64
	records, since := 0, 0
	err = replay(s.dir, true, func(seq uint64, r Record) error {
		var err error
		last, err = r.InitPendingRedoLog(pending, last)
		if err != nil {
			return err
		}

		records++
		if cp, ok := r.(*Checkpoint); ok {
			lastCheckpoint = cp.ID
			since = 0
		} else {
			since++
		}
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{"dir": s.dir, "err": err}).Error("redolog::sync_service::Init; replay failed")
		return 0, err
	}

	var nextSeq uint64 = 1
	if len(seqs) > 0 {
		nextSeq = seqs[len(seqs)-1] + 1
	}

	s.mu.Lock()
	err = s.openSegment(nextSeq)
	s.sinceCheckpoint = since
	s.lastCheckpointID = lastCheckpoint
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.pending = pending
	s.lastTransactionID = last
	s.initialized.Store(true)

	log.WithFields(log.Fields{
		"segments":          len(seqs),
		"records":           records,
		"lastTransactionID": last,
		"lastCheckpointID":  lastCheckpoint,
		"pendingMaps":       len(pending),
	}).Info("redolog::sync_service::Init; replay done")
	return last, nil
}

// openSegment switches appends to a new segment file.
// REQUIRES: mu held.
func (s *LogSyncService) openSegment(seq uint64) error {
	name := segmentFileName(s.dir, seq)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrapf(err, "create redo log segment %s", name)
	}
	if err := syncDir(s.dir); err != nil {
		_ = f.Close()
		return err
	}

	if s.segment != nil {
		if err := s.segment.Close(); err != nil {
			log.WithFields(log.Fields{"err": err}).Error("redolog::sync_service::openSegment; closing previous segment failed")
		}
	}

	s.segment = f
	s.segmentSeq = seq
	s.writer = newLogRecordWriter(f)
	return nil
}

// Start starts the background sync goroutine.
func (s *LogSyncService) Start() {
	if !s.running.CAS(false, true) {
		return
	}
	go s.run()
}

func (s *LogSyncService) run() {
	defer close(s.done)

	var tick <-chan time.Time
	if s.syncType == common.LogSyncTypePeriodic {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.closeCh:
			return
		case <-tick:
			if err := s.sync(); err != nil {
				log.WithFields(log.Fields{"err": err}).Error("redolog::sync_service::run; periodic sync failed")
			}
		}
	}
}

// append writes the record to the current segment.
// returns the append number of the record.
func (s *LogSyncService) append(r Record) (uint64, error) {
	data := r.Write(nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return 0, icommon.NewEngineClosedError("redo log is closed")
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.writer == nil {
		return 0, errors.New("redo log isn't initialized")
	}

	if err := s.writer.writeRecord(data); err != nil {
		s.err = errors.Wrap(err, "append redo log record")
		return 0, s.err
	}
	if err := s.writer.flush(); err != nil {
		s.err = errors.Wrap(err, "flush redo log")
		return 0, s.err
	}

	s.appended++
	s.sinceCheckpoint++
	if s.syncType == common.LogSyncTypeNoSync {
		s.synced = s.appended
	} else if lt, ok := r.(*LocalTransaction); ok {
		s.pendingTids[lt.TransactionID] = s.appended
	}
	return s.appended, nil
}

// sync makes every appended record durable.
func (s *LogSyncService) sync() error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return s.err
	}
	target := s.appended
	if s.synced >= target {
		s.mu.Unlock()
		return nil
	}
	f := s.segment
	s.mu.Unlock()

	err := f.Sync()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.err = errors.Wrap(err, "sync redo log")
		return s.err
	}

	s.synced = target
	for tid, n := range s.pendingTids {
		if n <= target {
			delete(s.pendingTids, tid)
		}
	}
	return nil
}

// waitForSync returns once the record with the append number n is durable.
func (s *LogSyncService) waitForSync(n uint64) error {
	s.mu.Lock()
	synced, err := s.synced, s.err
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if synced >= n {
		return nil
	}
	return s.sync()
}

// AddAndMaybeWaitForSync appends the record. With the instant sync type it
// also waits until the record and everything before it is durable.
func (s *LogSyncService) AddAndMaybeWaitForSync(r Record) error {
	n, err := s.append(r)
	if err != nil {
		return err
	}

	if s.syncType == common.LogSyncTypeInstant {
		return s.waitForSync(n)
	}
	return nil
}

// AddAndWaitForSync appends the record and waits until it is durable.
func (s *LogSyncService) AddAndWaitForSync(r Record) error {
	n, err := s.append(r)
	if err != nil {
		return err
	}
	return s.waitForSync(n)
}

// IsPending reports whether the record of the transaction was appended but isn't durable yet.
func (s *LogSyncService) IsPending(tid uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pendingTids[tid]
	return ok
}

// Checkpoint writes a checkpoint record with the id into a new segment and
// deletes the older segments.
//
// Nothing is written if no record was appended since the previous checkpoint.
// Blobs of maps that were never taken are carried over into the new segment.
func (s *LogSyncService) Checkpoint(id uint64) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if s.writer == nil {
		return errors.New("redo log isn't initialized")
	}
	if s.sinceCheckpoint == 0 {
		log.WithFields(log.Fields{"id": id}).Debug("redolog::sync_service::Checkpoint; nothing logged since the last checkpoint")
		return nil
	}

	if err := s.segment.Sync(); err != nil {
		s.err = errors.Wrap(err, "sync redo log before checkpoint")
		return s.err
	}
	s.synced = s.appended
	s.pendingTids = make(map[uint64]uint64)

	old := s.segmentSeq
	if err := s.openSegment(old + 1); err != nil {
		s.err = err
		return err
	}

	buf := (&Checkpoint{ID: id, Saved: true}).Write(nil)
	if err := s.writer.writeRecord(buf); err != nil {
		s.err = errors.Wrap(err, "append checkpoint record")
		return s.err
	}
	s.appended++

	if carry := s.carryOver(); carry != nil {
		if err := s.writer.writeRecord(carry.Write(nil)); err != nil {
			s.err = errors.Wrap(err, "append carried over redo log")
			return s.err
		}
		s.appended++
	}

	if err := s.writer.flush(); err != nil {
		s.err = errors.Wrap(err, "flush checkpoint record")
		return s.err
	}
	if err := s.segment.Sync(); err != nil {
		s.err = errors.Wrap(err, "sync checkpoint record")
		return s.err
	}
	s.synced = s.appended
	s.sinceCheckpoint = 0
	s.lastCheckpointID = id

	s.removeSegmentsUpTo(old)

	log.WithFields(log.Fields{"id": id, "segment": s.segmentSeq}).Info("redolog::sync_service::Checkpoint; done")
	return nil
}

// carryOver returns a record with the blobs nobody took since Init, or nil.
func (s *LogSyncService) carryOver() Record {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	var ops []byte
	for name, blobs := range s.pending {
		for _, blob := range blobs {
			ops = AppendOperation(ops, name, blob)
		}
	}
	log.WithFields(log.Fields{"maps": len(s.pending)}).Info("redolog::sync_service::carryOver; keeping redo log of unopened maps")
	return &LocalTransaction{Operations: ops}
}

func (s *LogSyncService) removeSegmentsUpTo(seq uint64) {
	seqs, err := listSegments(s.dir)
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Error("redolog::sync_service::removeSegmentsUpTo; listing segments failed")
		return
	}

	for _, old := range seqs {
		if old > seq {
			break
		}
		if err := os.Remove(segmentFileName(s.dir, old)); err != nil {
			log.WithFields(log.Fields{"segment": old, "err": err}).Error("redolog::sync_service::removeSegmentsUpTo; removing segment failed")
		}
	}
}

// TakePendingRedoLog returns the blobs logged for the map after the last
// checkpoint and forgets them.
func (s *LogSyncService) TakePendingRedoLog(mapName string) [][]byte {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	blobs := s.pending[mapName]
	delete(s.pending, mapName)
	return blobs
}

// PendingRedoLog returns a copy of the blobs nobody took yet.
func (s *LogSyncService) PendingRedoLog() PendingRedoLog {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	cp := make(PendingRedoLog, len(s.pending))
	for name, blobs := range s.pending {
		cp[name] = append([][]byte(nil), blobs...)
	}
	return cp
}

// LastTransactionID returns the id watermark found by Init.
func (s *LogSyncService) LastTransactionID() uint64 {
	return s.lastTransactionID
}

// LastCheckpointID returns the id of the newest checkpoint record, 0 if the log has none.
func (s *LogSyncService) LastCheckpointID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastCheckpointID
}

// SyncType returns the configured sync type.
func (s *LogSyncService) SyncType() string {
	return s.syncType
}

// Dir returns the redo log directory.
func (s *LogSyncService) Dir() string {
	return s.dir
}

// Close stops the sync goroutine, syncs and closes the current segment.
// Closing twice is a no-op.
func (s *LogSyncService) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}

	log.WithFields(log.Fields{"dir": s.dir}).Info("redolog::sync_service::Close; started")

	close(s.closeCh)
	s.Join()

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.segment == nil {
		return nil
	}

	err := s.err
	if err == nil {
		if err = s.writer.close(); err == nil {
			err = s.segment.Sync()
		}
	}
	if cerr := s.segment.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.segment = nil
	s.writer = nil

	if err != nil {
		log.WithFields(log.Fields{"err": err}).Error("redolog::sync_service::Close; closing the redo log failed")
		return errors.Wrap(err, "close redo log")
	}
	return nil
}

// Join waits for the sync goroutine to exit.
func (s *LogSyncService) Join() {
	if s.running.Load() {
		<-s.done
	}
}

func (s *LogSyncService) String() string {
	return fmt.Sprintf("LogSyncService{dir=%s, syncType=%s}", s.dir, s.syncType)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "open dir %s", dir)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return errors.Wrapf(err, "sync dir %s", dir)
	}
	return nil
}
