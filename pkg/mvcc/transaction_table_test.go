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

	"github.com/dr0pdb/aote/pkg/common"
	"github.com/stretchr/testify/assert"
)

func newTestTransaction(id uint64, level IsolationLevel) *Transaction {
	return newTransaction(id, nil, level, false, common.Embedded, nil)
}

func TestTransactionTable(t *testing.T) {
	tt := newTransactionTable()

	assert.Empty(t, tt.values(), "expected an empty table")

	for _, id := range []uint64{7, 3, 12, 5} {
		tt.put(newTestTransaction(id, RepeatableRead))
	}
	assert.Equal(t, 4, tt.size())

	assert.True(t, tt.contains(12))
	assert.Equal(t, uint64(12), tt.get(12).ID())
	assert.Nil(t, tt.get(4))

	var ids []uint64
	for _, txn := range tt.values() {
		ids = append(ids, txn.ID())
	}
	assert.Equal(t, []uint64{3, 5, 7, 12}, ids, "expected the txns ordered by id")

	var head []uint64
	for _, txn := range tt.headValues(7) {
		head = append(head, txn.ID())
	}
	assert.Equal(t, []uint64{3, 5}, head)

	assert.Equal(t, map[uint64]bool{3: true, 5: true, 7: true, 12: true}, tt.ids())

	assert.True(t, tt.remove(3))
	assert.False(t, tt.remove(3), "expected removing twice to report false")
	assert.Equal(t, uint64(5), tt.values()[0].ID())
}
