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
	"sync"

	"github.com/google/btree"
)

const transactionTableDegree = 32

type transactionItem struct {
	id uint64
	t  *Transaction
}

func (ti transactionItem) Less(than btree.Item) bool {
	return ti.id < than.(transactionItem).id
}

// transactionTable is the ordered set of active transactions keyed by id.
type transactionTable struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

func newTransactionTable() *transactionTable {
	return &transactionTable{tree: btree.New(transactionTableDegree)}
}

func (tt *transactionTable) put(t *Transaction) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	tt.tree.ReplaceOrInsert(transactionItem{id: t.id, t: t})
}

// remove returns false if the transaction wasn't in the table.
func (tt *transactionTable) remove(id uint64) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	return tt.tree.Delete(transactionItem{id: id}) != nil
}

func (tt *transactionTable) contains(id uint64) bool {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	return tt.tree.Has(transactionItem{id: id})
}

func (tt *transactionTable) get(id uint64) *Transaction {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	item := tt.tree.Get(transactionItem{id: id})
	if item == nil {
		return nil
	}
	return item.(transactionItem).t
}

// values returns the active transactions in id order.
func (tt *transactionTable) values() []*Transaction {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	txns := make([]*Transaction, 0, tt.tree.Len())
	tt.tree.Ascend(func(i btree.Item) bool {
		txns = append(txns, i.(transactionItem).t)
		return true
	})
	return txns
}

// headValues returns the active transactions with id < lessThan in id order.
func (tt *transactionTable) headValues(lessThan uint64) []*Transaction {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	var txns []*Transaction
	tt.tree.AscendLessThan(transactionItem{id: lessThan}, func(i btree.Item) bool {
		txns = append(txns, i.(transactionItem).t)
		return true
	})
	return txns
}

// ids returns the ids of the active transactions.
func (tt *transactionTable) ids() map[uint64]bool {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	ids := make(map[uint64]bool, tt.tree.Len())
	tt.tree.Ascend(func(i btree.Item) bool {
		ids[i.(transactionItem).id] = true
		return true
	})
	return ids
}

func (tt *transactionTable) size() int {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	return tt.tree.Len()
}
