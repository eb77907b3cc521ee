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

	icommon "github.com/dr0pdb/aote/internal/common"
	"github.com/dr0pdb/aote/pkg/common"
	log "github.com/sirupsen/logrus"
)

// IsolationLevel decides which committed versions a transaction reads.
type IsolationLevel int

const (
	// ReadCommitted reads the latest committed version of every key.
	ReadCommitted IsolationLevel = iota

	// RepeatableRead reads from the snapshot taken when the transaction began.
	RepeatableRead

	// Serializable behaves like RepeatableRead.
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "read_committed"
	case RepeatableRead:
		return "repeatable_read"
	case Serializable:
		return "serializable"
	}
	return fmt.Sprintf("IsolationLevel(%d)", int(l))
}

// Transaction is the MVCC transaction.
// It implements an optimistic concurrency control protocol.
// A single transaction is not thread safe.
// Operations on a single txn should be called sequentially.
type Transaction struct {
	// unique transaction id
	id uint64

	// engine is the Engine that this txn was created from.
	// required to inform it once the txn is committed/aborted.
	engine *Engine

	isolationLevel IsolationLevel
	autoCommit     bool
	runMode        common.RunMode

	// concurrent txns at the start. Their writes are invisible to repeatable read txns.
	concTxns map[uint64]bool

	// writes are the buffered set/delete operations of every map.
	writes map[string]*writeBuffer

	// committed indicates txn commit status.
	committed bool

	// aborted indicates txn rollback status.
	aborted bool
}

// writeBuffer holds the writes of a txn to one map.
// invariant is that a key can only be present in one of sets and deletes.
type writeBuffer struct {
	mi      *mapInfo
	sets    map[string][]byte
	deletes map[string]bool
}

func newWriteBuffer(mi *mapInfo) *writeBuffer {
	return &writeBuffer{
		mi:      mi,
		sets:    make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

func (wb *writeBuffer) size() int {
	return len(wb.sets) + len(wb.deletes)
}

// newTransaction creates a new transaction.
func newTransaction(id uint64, engine *Engine, level IsolationLevel, autoCommit bool, runMode common.RunMode, concTxns map[uint64]bool) *Transaction {
	return &Transaction{
		id:             id,
		engine:         engine,
		isolationLevel: level,
		autoCommit:     autoCommit,
		runMode:        runMode,
		concTxns:       concTxns,
		writes:         make(map[string]*writeBuffer),
	}
}

// ID returns the transaction id.
func (t *Transaction) ID() uint64 {
	return t.id
}

func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.isolationLevel
}

func (t *Transaction) IsAutoCommit() bool {
	return t.autoCommit
}

func (t *Transaction) RunMode() common.RunMode {
	return t.runMode
}

// IsClosed reports whether the transaction was committed or rolled back.
func (t *Transaction) IsClosed() bool {
	return t.committed || t.aborted
}

func (t *Transaction) isRepeatableRead() bool {
	return t.isolationLevel >= RepeatableRead
}

// isVisible reports whether a version written by tid is part of the snapshot of the txn.
func (t *Transaction) isVisible(tid uint64) bool {
	if !t.isRepeatableRead() {
		return true
	}
	return tid == t.id || (tid < t.id && !t.concTxns[tid])
}

// minConcID returns the smallest id of the snapshot, or the txn id when the snapshot is empty.
func (t *Transaction) minConcID() uint64 {
	min := t.id
	for id := range t.concTxns {
		if id < min {
			min = id
		}
	}
	return min
}

func (t *Transaction) checkActive() error {
	if t.aborted {
		return icommon.NewAbortedTransactionError(fmt.Sprintf("txn %d is already aborted", t.id))
	}
	if t.committed {
		return icommon.NewCommittedTransactionError(fmt.Sprintf("txn %d is already committed", t.id))
	}
	return nil
}

// Commit commits the transaction.
//
// The writes are logged to the redo log and then applied to the maps.
// returns TransactionCommitError if the redo log append fails and
// WriteConflictError if a concurrent repeatable read txn committed a write to the same key first.
// The txn is finished after Commit, whatever the result.
func (t *Transaction) Commit() error {
	log.WithFields(log.Fields{"id": t.id}).Debug("mvcc::transaction::Commit; started")

	if err := t.checkActive(); err != nil {
		return err
	}

	if err := t.engine.commit(t); err != nil {
		t.aborted = true
		log.WithFields(log.Fields{"id": t.id, "err": err}).Debug("mvcc::transaction::Commit; failed")
		return err
	}

	t.committed = true
	log.WithFields(log.Fields{"id": t.id}).Debug("mvcc::transaction::Commit; done")
	return nil
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	if err := t.checkActive(); err != nil {
		return err
	}

	// Since the writes are buffered in this optimistic concurrency control protocol, we can just drop them.
	t.aborted = true
	t.writes = nil
	t.engine.removeTransaction(t)
	return nil
}

// finishAutoCommit commits an autocommit txn after a single operation.
func (t *Transaction) finishAutoCommit() error {
	if !t.autoCommit {
		return nil
	}
	return t.Commit()
}

func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{id=%d, level=%s, autoCommit=%t}", t.id, t.isolationLevel, t.autoCommit)
}
