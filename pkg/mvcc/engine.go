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
	"fmt"
	"sort"
	"sync"

	units "github.com/docker/go-units"
	icommon "github.com/dr0pdb/aote/internal/common"
	"github.com/dr0pdb/aote/pkg/common"
	"github.com/dr0pdb/aote/pkg/redolog"
	"github.com/dr0pdb/aote/pkg/storage"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Engine is the async adaptive optimization transaction engine.
//
// Committed writes go to the redo log first and are then applied to the storage maps.
// The maps are persisted by checkpoints, which also truncate the redo log.
type Engine struct {
	// mu guards init, close and map registration.
	mu          sync.Mutex
	conf        *common.EngineConfig
	ready       atomic.Bool
	closed      atomic.Bool
	threshold   int64
	recovered   map[string]recovery
	listeningOn map[storage.Storage]bool

	// id of the newest checkpoint record found by recovery.
	recoveredCheckpoint uint64

	lastTransactionID atomic.Uint64

	// epoch is stamped on provisional values, it never decreases.
	epoch atomic.Uint64

	transactionTable *transactionTable
	repeatableReads  atomic.Int64
	maps             *mapRegistry
	versions         *versionTable
	latches          *latchTable

	logSync           *redolog.LogSyncService
	checkpointService *CheckpointService

	// commitBarrier is held shared by commits and exclusively by checkpoints and map (de)registration.
	commitBarrier sync.RWMutex

	// applyGate is held shared while commits apply and gc runs, exclusively while a
	// repeatable read txn takes its snapshot.
	applyGate sync.RWMutex
}

// NewEngine creates a new engine. It is initialized by Init or lazily by the first transaction.
func NewEngine() *Engine {
	return &Engine{
		recovered:        make(map[string]recovery),
		listeningOn:      make(map[storage.Storage]bool),
		transactionTable: newTransactionTable(),
		maps:             &mapRegistry{},
		versions:         &versionTable{},
		latches:          &latchTable{},
	}
}

// Init recovers the redo log and starts the background services.
// Calling it again is a no-op.
func (e *Engine) Init(conf *common.EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.initLocked(conf)
}

// initLocked initializes the engine.
// REQUIRES: mu held.
func (e *Engine) initLocked(conf *common.EngineConfig) error {
	if e.ready.Load() {
		return nil
	}
	if e.closed.Load() {
		return icommon.NewEngineClosedError("engine is closed")
	}

	log.WithFields(log.Fields{"baseDir": conf.BaseDir, "redoLog": conf.RedoLogPath()}).Info("mvcc::engine::Init; started")

	if err := conf.Validate(); err != nil {
		log.WithFields(log.Fields{"err": err}).Error("mvcc::engine::Init; invalid config")
		return err
	}
	threshold, err := conf.CommittedDataCacheBytes()
	if err != nil {
		return err
	}
	runMode, err := common.ParseRunMode(conf.RunMode)
	if err != nil {
		return err
	}

	logSync := redolog.New(conf)
	last, err := logSync.Init()
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Error("mvcc::engine::Init; redo log recovery failed")
		return errors.Wrap(err, "recover redo log")
	}
	logSync.Start()

	e.conf = conf
	e.threshold = threshold
	e.logSync = logSync
	e.recoveredCheckpoint = logSync.LastCheckpointID()
	e.lastTransactionID.Store(last)
	e.epoch.Store(e.recoveredCheckpoint)
	e.checkpointService = newCheckpointService(e, conf, threshold)
	if runMode == common.Embedded {
		e.checkpointService.Start()
	}
	e.ready.Store(true)

	log.WithFields(log.Fields{
		"lastTransactionID": last,
		"checkpoint":        e.recoveredCheckpoint,
		"cacheSize":         units.BytesSize(float64(threshold)),
		"runMode":           runMode,
	}).Info("mvcc::engine::Init; done")
	return nil
}

// ensureInit initializes the engine with the default config unless Init was called.
func (e *Engine) ensureInit() error {
	if e.closed.Load() {
		return icommon.NewEngineClosedError("engine is closed")
	}
	if e.ready.Load() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initLocked(common.NewDefaultEngineConfig())
}

// NextTransactionID allocates a new transaction id.
func (e *Engine) NextTransactionID() uint64 {
	return e.lastTransactionID.Inc()
}

// raiseTransactionID makes sure that every future id is greater than id.
func (e *Engine) raiseTransactionID(id uint64) {
	for {
		cur := e.lastTransactionID.Load()
		if cur >= id || e.lastTransactionID.CAS(cur, id) {
			return
		}
	}
}

// raiseEpoch moves the epoch forward to at least epoch.
func (e *Engine) raiseEpoch(epoch uint64) {
	for {
		cur := e.epoch.Load()
		if cur >= epoch || e.epoch.CAS(cur, epoch) {
			return
		}
	}
}

// BeginTransaction starts a new read committed transaction.
func (e *Engine) BeginTransaction(autoCommit bool, runMode common.RunMode) (*Transaction, error) {
	return e.BeginTransactionWithLevel(autoCommit, runMode, ReadCommitted)
}

// BeginTransactionWithLevel starts a new transaction with the isolation level.
func (e *Engine) BeginTransactionWithLevel(autoCommit bool, runMode common.RunMode, level IsolationLevel) (*Transaction, error) {
	if err := e.ensureInit(); err != nil {
		return nil, err
	}

	var t *Transaction
	if level >= RepeatableRead {
		// no commit may apply between taking the id and the snapshot.
		e.applyGate.Lock()
		id := e.NextTransactionID()
		t = newTransaction(id, e, level, autoCommit, runMode, e.transactionTable.ids())
		e.transactionTable.put(t)
		e.repeatableReads.Inc()
		e.applyGate.Unlock()
	} else {
		// the id must be in the table before a repeatable read snapshot can miss it.
		e.applyGate.RLock()
		t = newTransaction(e.NextTransactionID(), e, level, autoCommit, runMode, nil)
		e.transactionTable.put(t)
		e.applyGate.RUnlock()
	}

	log.WithFields(log.Fields{"id": t.id, "level": level, "autoCommit": autoCommit}).Debug("mvcc::engine::BeginTransaction; started txn")
	return t, nil
}

// removeTransaction drops the txn from the transaction table.
func (e *Engine) removeTransaction(t *Transaction) {
	if e.transactionTable.remove(t.id) && t.isRepeatableRead() {
		e.repeatableReads.Dec()
	}
}

// GetTransactionMap returns the view of the named map through the txn.
// returns nil if no map with the name is registered.
func (e *Engine) GetTransactionMap(name string, t *Transaction) *TransactionMap {
	mi := e.maps.get(name)
	if mi == nil {
		return nil
	}
	return &TransactionMap{t: t, mi: mi}
}

// ContainsRepeatableReadTransactions reports whether any repeatable read txn is active.
func (e *Engine) ContainsRepeatableReadTransactions() bool {
	return e.repeatableReads.Load() > 0
}

// ContainsRepeatableReadTransactionsBefore reports whether a repeatable read txn with an id below tid is active.
func (e *Engine) ContainsRepeatableReadTransactionsBefore(tid uint64) bool {
	if !e.ContainsRepeatableReadTransactions() {
		return false
	}
	for _, t := range e.transactionTable.headValues(tid) {
		if t.isRepeatableRead() {
			return true
		}
	}
	return false
}

// AddStorageMap registers the map with the engine.
//
// On the first registration of a map name the redo log records of the map that
// were logged after the last checkpoint are applied to it.
func (e *Engine) AddStorageMap(m storage.Map) error {
	if err := e.ensureInit(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return icommon.NewEngineClosedError("engine is closed")
	}

	name := m.Name()
	if mi := e.maps.get(name); mi != nil {
		if mi.m == m {
			return nil
		}
		return fmt.Errorf("another map with the name %s is already registered", name)
	}

	e.commitBarrier.Lock()
	defer e.commitBarrier.Unlock()

	rec, ok := e.recovered[name]
	if !ok {
		rec = recovery{checkpoint: e.recoveredCheckpoint, ceiling: m.Mark()}
		e.recovered[name] = rec

		// ids and epochs of this session must be above everything the map has seen.
		e.raiseTransactionID(rec.ceiling)
		if e.epoch.Load() <= rec.ceiling {
			e.raiseEpoch(e.NextTransactionID())
		}
	}

	mi := &mapInfo{m: m, recovery: rec}
	n, err := e.replay(mi)
	if err != nil {
		log.WithFields(log.Fields{"map": name, "err": err}).Error("mvcc::engine::AddStorageMap; replaying the redo log failed")
		return err
	}
	e.maps.put(mi)

	if s := m.Storage(); s != nil && !e.listeningOn[s] {
		s.RegisterEventListener(e)
		e.listeningOn[s] = true
	}

	log.WithFields(log.Fields{"map": name, "mark": rec.ceiling, "replayed": n}).Info("mvcc::engine::AddStorageMap; registered map")
	return nil
}

// replay applies the pending redo log of the map.
// returns the number of replayed batches.
func (e *Engine) replay(mi *mapInfo) (int, error) {
	blobs := e.logSync.TakePendingRedoLog(mi.m.Name())
	for _, blob := range blobs {
		wb, err := storage.NewWriteBatchFromData(blob)
		if err != nil {
			return 0, icommon.NewLogCorruptionError(fmt.Sprintf("map %s: %v", mi.m.Name(), err))
		}

		tid := wb.SeqNum()
		e.raiseTransactionID(tid)

		it := wb.Iterator()
		for {
			kind, key, value, ok := it.Next()
			if !ok {
				break
			}
			if kind == storage.BatchKindSet {
				mi.m.Put(key, newSetTxnValue(tid, value).encode())
			} else {
				mi.m.Remove(key)
			}
			mi.estimatedMemory.Add(int64(len(key) + len(value)))
		}
		if err := it.Err(); err != nil {
			return 0, icommon.NewLogCorruptionError(fmt.Sprintf("map %s: %v", mi.m.Name(), err))
		}
	}
	return len(blobs), nil
}

// PendingRedoLogMaps returns the names of the maps with redo log records that
// weren't applied yet because the maps aren't registered.
func (e *Engine) PendingRedoLogMaps() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.logSync == nil {
		return nil
	}

	var names []string
	for name := range e.logSync.PendingRedoLog() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoveStorageMap deregisters the map and logs that it was dropped.
// The caller drops the storage map itself.
func (e *Engine) RemoveStorageMap(name string) error {
	if err := e.ensureInit(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.commitBarrier.Lock()
	defer e.commitBarrier.Unlock()

	if e.logSync == nil {
		return icommon.NewEngineClosedError("engine is closed")
	}

	e.maps.remove(name)
	if err := e.logSync.AddAndWaitForSync(&redolog.DroppedMap{MapName: name}); err != nil {
		log.WithFields(log.Fields{"map": name, "err": err}).Error("mvcc::engine::RemoveStorageMap; logging the drop failed")
		return err
	}
	e.logSync.TakePendingRedoLog(name)
	e.versions.removeMap(name)
	delete(e.recovered, name)

	log.WithFields(log.Fields{"map": name}).Info("mvcc::engine::RemoveStorageMap; removed map")
	return nil
}

// BeforeClose is called by a storage before it closes its maps.
// The maps are checkpointed and deregistered.
func (e *Engine) BeforeClose(s storage.Storage) {
	if e.closed.Load() || !e.ready.Load() {
		return
	}

	if err := e.Checkpoint(); err != nil {
		log.WithFields(log.Fields{"err": err}).Error("mvcc::engine::BeforeClose; checkpoint failed")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, mi := range e.maps.values() {
		if mi.m.Storage() == s {
			e.maps.remove(mi.m.Name())
		}
	}
	delete(e.listeningOn, s)
	log.Info("mvcc::engine::BeforeClose; deregistered the maps of the storage")
}

// IncrementEstimatedMemory adds n bytes to the dirty estimate of the named map.
func (e *Engine) IncrementEstimatedMemory(name string, n int64) {
	e.commitBarrier.RLock()
	defer e.commitBarrier.RUnlock()

	if mi := e.maps.get(name); mi != nil {
		e.incrementEstimatedMemory(mi, n)
	}
}

// REQUIRES: commitBarrier held.
func (e *Engine) incrementEstimatedMemory(mi *mapInfo, n int64) {
	e.maps.incrementEstimatedMemory(mi, n)
	if e.maps.totalMemory.Load() > e.threshold {
		if cs := e.checkpointService; cs != nil {
			cs.Wakeup()
		}
	}
}

// Checkpoint runs a forced checkpoint and waits for it.
func (e *Engine) Checkpoint() error {
	if err := e.ensureInit(); err != nil {
		return err
	}

	e.mu.Lock()
	cs := e.checkpointService
	e.mu.Unlock()

	if cs == nil {
		return icommon.NewEngineClosedError("engine is closed")
	}
	return cs.Checkpoint()
}

// CheckpointRunner returns the checkpoint service.
// In non embedded run modes the caller runs it with Run.
func (e *Engine) CheckpointRunner() *CheckpointService {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.checkpointService
}

// Close runs a final checkpoint and closes the redo log.
// Closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed.CAS(false, true) {
		return nil
	}
	if !e.ready.Load() {
		return nil
	}

	log.Info("mvcc::engine::Close; started")

	var result error
	if err := e.checkpointService.Close(); err != nil {
		log.WithFields(log.Fields{"err": err}).Error("mvcc::engine::Close; final checkpoint failed")
		result = err
	}

	e.commitBarrier.Lock()
	if err := e.logSync.Close(); err != nil && result == nil {
		result = err
	}
	e.logSync = nil
	e.checkpointService = nil
	e.commitBarrier.Unlock()

	log.Info("mvcc::engine::Close; done")
	return result
}

// commit logs and applies the writes of the txn.
// The txn is removed from the transaction table whatever the result.
func (e *Engine) commit(t *Transaction) error {
	var names []string
	for name, wb := range t.writes {
		if wb.size() > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		e.removeTransaction(t)
		return nil
	}
	sort.Strings(names)

	e.commitBarrier.RLock()
	defer e.commitBarrier.RUnlock()

	logSync := e.logSync
	if logSync == nil || e.closed.Load() {
		e.removeTransaction(t)
		return icommon.NewEngineClosedError(fmt.Sprintf("engine closed before txn %d committed", t.id))
	}

	type mapWrites struct {
		mi   *mapInfo
		keys []string
		wb   *writeBuffer
	}
	var writes []mapWrites
	var latchKeys []string
	for _, name := range names {
		wb := t.writes[name]
		if e.maps.get(name) != wb.mi {
			// the map was dropped after the txn wrote to it.
			log.WithFields(log.Fields{"id": t.id, "map": name}).Warn("mvcc::engine::commit; skipping writes to a removed map")
			continue
		}

		keys := make([]string, 0, wb.size())
		for k := range wb.sets {
			keys = append(keys, k)
		}
		for k := range wb.deletes {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			latchKeys = append(latchKeys, chainKey(name, []byte(k)))
		}
		writes = append(writes, mapWrites{mi: wb.mi, keys: keys, wb: wb})
	}
	if len(writes) == 0 {
		e.removeTransaction(t)
		return nil
	}

	release := e.latches.acquire(latchKeys)
	defer release()

	if t.isRepeatableRead() {
		for _, w := range writes {
			for _, k := range w.keys {
				latest, err := e.latestTid(w.mi, []byte(k))
				if err != nil {
					e.removeTransaction(t)
					return err
				}
				if latest != 0 && latest != t.id && !t.isVisible(latest) {
					e.removeTransaction(t)
					return icommon.NewWriteConflictError(fmt.Sprintf("txn %d: key %s of map %s was written by txn %d", t.id, k, w.mi.m.Name(), latest))
				}
			}
		}
	}

	blobs := make(map[string][]byte, len(writes))
	for _, w := range writes {
		batch := storage.NewWriteBatch()
		batch.SetSeqNum(t.id)
		for _, k := range w.keys {
			if value, ok := w.wb.sets[k]; ok {
				batch.Set([]byte(k), value)
			} else {
				batch.Delete([]byte(k))
			}
		}
		blobs[w.mi.m.Name()] = batch.Data()
	}

	rec := &redolog.LocalTransaction{TransactionID: t.id, Operations: redolog.EncodeOperations(blobs)}
	if err := logSync.AddAndMaybeWaitForSync(rec); err != nil {
		e.removeTransaction(t)
		log.WithFields(log.Fields{"id": t.id, "err": err}).Error("mvcc::engine::commit; appending to the redo log failed")
		return icommon.NewTransactionCommitError(fmt.Sprintf("txn %d: %v", t.id, err))
	}

	provisional := logSync.IsPending(t.id)

	e.applyGate.RLock()
	defer e.applyGate.RUnlock()

	pushHistory := e.repeatableReads.Load() > 0
	if t.isRepeatableRead() {
		pushHistory = e.repeatableReads.Load() > 1
	}

	for _, w := range writes {
		var size int64
		for _, k := range w.keys {
			key := []byte(k)
			var v *txnValue
			if value, ok := w.wb.sets[k]; ok {
				v = newSetTxnValue(t.id, value)
			} else {
				v = newDeleteTxnValue(t.id)
			}
			e.apply(w.mi, key, v, provisional, pushHistory, logSync)
			size += int64(len(key) + len(v.value))
		}
		e.incrementEstimatedMemory(w.mi, size)
	}

	e.removeTransaction(t)
	return nil
}

// current returns the committed version stored in the map, resolved for lost provisional writes.
// returns nil if the key isn't present.
func (e *Engine) current(mi *mapInfo, key []byte) (*txnValue, error) {
	raw, ok := mi.m.Get(key)
	if !ok {
		return nil, nil
	}
	v, err := decodeTxnValue(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "map %s key %s", mi.m.Name(), key)
	}
	return mi.resolve(v), nil
}

// latestTid returns the id of the txn that committed the newest version of the key, 0 if none.
// REQUIRES: key latched.
func (e *Engine) latestTid(mi *mapInfo, key []byte) (uint64, error) {
	if c := e.versions.get(mi.m.Name(), key); c != nil {
		if tid, ok := c.headTid(); ok {
			return tid, nil
		}
	}
	cur, err := e.current(mi, key)
	if err != nil || cur == nil {
		return 0, err
	}
	return cur.tid, nil
}

// apply writes the committed version v of the key to the map.
// REQUIRES: key latched, applyGate held shared.
func (e *Engine) apply(mi *mapInfo, key []byte, v *txnValue, provisional, pushHistory bool, logSync *redolog.LogSyncService) {
	name := mi.m.Name()

	cur, err := e.current(mi, key)
	if err != nil {
		log.WithFields(log.Fields{"map": name, "err": err}).Error("mvcc::engine::apply; undecodable stored value is overwritten")
		cur = nil
	}

	if pushHistory || e.versions.get(name, key) != nil {
		base := absentValue
		if cur != nil {
			base = cur.durable()
		}
		e.versions.push(name, key, base, v)
	}

	switch {
	case provisional:
		pv := *v
		pv.provisional = true
		pv.epoch = e.epoch.Load()
		pv.old = carry(cur, logSync)
		mi.m.Put(key, pv.encode())
	case v.deleted:
		mi.m.Remove(key)
	default:
		mi.m.Put(key, v.encode())
	}
}

// carry returns the newest version of the key whose redo record is known to be durable.
func carry(cur *txnValue, logSync *redolog.LogSyncService) *txnValue {
	if cur == nil {
		return absentValue
	}
	if !cur.provisional {
		return cur
	}
	if !logSync.IsPending(cur.tid) {
		return cur.durable()
	}
	if cur.old == nil {
		return absentValue
	}
	return cur.old
}

// read returns the version of the key visible to the txn.
// returns absentValue if no version is visible.
func (e *Engine) read(mi *mapInfo, key []byte, t *Transaction) (*txnValue, error) {
	cur, err := e.current(mi, key)
	if err != nil {
		return nil, err
	}

	if !t.isRepeatableRead() {
		if cur == nil {
			return absentValue, nil
		}
		return cur, nil
	}

	if cur != nil && t.isVisible(cur.tid) {
		return cur, nil
	}
	if c := e.versions.get(mi.m.Name(), key); c != nil {
		if ov, ok := c.find(t); ok {
			return &txnValue{tid: ov.tid, deleted: ov.deleted, value: ov.value}, nil
		}
	}
	return absentValue, nil
}

// gc prunes the version chains that no active txn can read anymore.
func (e *Engine) gc() {
	e.applyGate.RLock()
	defer e.applyGate.RUnlock()

	if e.repeatableReads.Load() == 0 {
		if n := e.versions.clear(); n > 0 {
			log.WithFields(log.Fields{"chains": n}).Debug("mvcc::engine::gc; dropped every version chain")
		}
		return
	}

	minTid, ok := e.gcBound()
	if !ok {
		return
	}

	n := e.versions.gc(minTid)
	log.WithFields(log.Fields{"minTid": minTid, "dropped": n}).Debug("mvcc::engine::gc; done")
}

// gcBound returns the smallest id a repeatable read txn may still need to tell apart,
// false if no repeatable read txn is active.
func (e *Engine) gcBound() (uint64, bool) {
	var minTid uint64
	found := false
	for _, t := range e.transactionTable.values() {
		if !t.isRepeatableRead() {
			continue
		}
		if id := t.minConcID(); !found || id < minTid {
			minTid, found = id, true
		}
	}
	return minTid, found
}

// settle rewrites the values lost by the last crash to their durable versions,
// before a checkpoint moves the recovery window past them.
// returns the number of rewritten bytes.
func settle(mi *mapInfo) int64 {
	defer mi.settled.Store(true)

	if mi.recovery.checkpoint > mi.recovery.ceiling {
		return 0
	}

	type fix struct {
		key []byte
		v   *txnValue
	}
	var fixes []fix
	it := mi.m.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		v, err := decodeTxnValue(it.Value())
		if err != nil || !mi.recovery.lost(v) {
			continue
		}
		fixes = append(fixes, fix{key: it.Key(), v: mi.resolve(v)})
	}

	var n int64
	for _, f := range fixes {
		if f.v.deleted {
			mi.m.Remove(f.key)
		} else {
			mi.m.Put(f.key, f.v.encode())
		}
		n += int64(len(f.key) + len(f.v.value))
	}

	if len(fixes) > 0 {
		log.WithFields(log.Fields{"map": mi.m.Name(), "values": len(fixes)}).Info("mvcc::engine::settle; rewrote values lost by the crash")
	}
	return n
}

// checkpoint saves the maps and writes a checkpoint record.
// Without force only maps with unsaved changes are saved.
func (e *Engine) checkpoint(force bool) error {
	e.commitBarrier.Lock()
	defer e.commitBarrier.Unlock()

	logSync := e.logSync
	if logSync == nil {
		return icommon.NewEngineClosedError("engine is closed")
	}

	id := e.NextTransactionID()
	saved, failed := 0, 0
	for _, mi := range e.maps.values() {
		if mi.m.IsClosed() {
			continue
		}
		if !mi.settled.Load() {
			e.maps.incrementEstimatedMemory(mi, settle(mi))
		}

		dirty := e.maps.resetEstimatedMemory(mi)
		if !force && dirty == 0 {
			continue
		}

		mi.m.SetMark(id)
		if err := mi.m.Save(); err != nil {
			log.WithFields(log.Fields{"map": mi.m.Name(), "err": err}).Error("mvcc::engine::checkpoint; saving map failed")
			if dirty == 0 {
				dirty = 1
			}
			e.maps.incrementEstimatedMemory(mi, dirty)
			failed++
			continue
		}
		saved++
	}

	if failed > 0 {
		return fmt.Errorf("checkpoint %d: %d maps failed to save, the redo log is kept", id, failed)
	}

	if err := logSync.Checkpoint(id); err != nil {
		log.WithFields(log.Fields{"id": id, "err": err}).Error("mvcc::engine::checkpoint; writing the checkpoint record failed")
		return err
	}
	e.raiseEpoch(logSync.LastCheckpointID())

	log.WithFields(log.Fields{"id": id, "saved": saved, "force": force}).Info("mvcc::engine::checkpoint; done")
	return nil
}
