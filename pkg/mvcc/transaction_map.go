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
	log "github.com/sirupsen/logrus"
)

// TransactionMap is the view of a storage map through a transaction.
type TransactionMap struct {
	t  *Transaction
	mi *mapInfo
}

// Name returns the name of the underlying map.
func (tm *TransactionMap) Name() string {
	return tm.mi.m.Name()
}

// Transaction returns the transaction of the map view.
func (tm *TransactionMap) Transaction() *Transaction {
	return tm.t
}

func (tm *TransactionMap) buffer() *writeBuffer {
	name := tm.Name()
	wb, ok := tm.t.writes[name]
	if !ok {
		wb = newWriteBuffer(tm.mi)
		tm.t.writes[name] = wb
	}
	return wb
}

// Get returns the value associated with the given key.
// returns a byte slice pointing to the value if the key is found.
// returns NotFoundError if the key is not found.
func (tm *TransactionMap) Get(key []byte) ([]byte, error) {
	t := tm.t
	log.WithFields(log.Fields{"id": t.id, "map": tm.Name(), "key": string(key)}).Debug("mvcc::transaction_map::Get; started")

	if err := t.checkActive(); err != nil {
		return nil, err
	}

	skey := string(key)
	if wb, ok := t.writes[tm.Name()]; ok {
		if wb.deletes[skey] {
			return nil, icommon.NewNotFoundError(fmt.Sprintf("key %v not found", skey))
		}
		if value, found := wb.sets[skey]; found {
			return value, nil
		}
	}

	// This key hasn't been modified in this txn, so read the committed versions.
	v, err := t.engine.read(tm.mi, key, t)
	if err != nil {
		return nil, err
	}
	if err := t.finishAutoCommit(); err != nil {
		return nil, err
	}

	if v.deleted {
		return nil, icommon.NewNotFoundError(fmt.Sprintf("key %v not found", skey))
	}
	return v.value, nil
}

// Put overwrites the data if the key already exists.
// The write becomes visible to other txns on commit.
func (tm *TransactionMap) Put(key, value []byte) error {
	t := tm.t
	log.WithFields(log.Fields{"id": t.id, "map": tm.Name(), "key": string(key)}).Debug("mvcc::transaction_map::Put; started")

	if err := t.checkActive(); err != nil {
		return err
	}

	skey := string(key)
	wb := tm.buffer()
	delete(wb.deletes, skey)
	wb.sets[skey] = append([]byte{}, value...)

	return t.finishAutoCommit()
}

// Remove deletes the key.
// The delete becomes visible to other txns on commit.
func (tm *TransactionMap) Remove(key []byte) error {
	t := tm.t
	log.WithFields(log.Fields{"id": t.id, "map": tm.Name(), "key": string(key)}).Debug("mvcc::transaction_map::Remove; started")

	if err := t.checkActive(); err != nil {
		return err
	}

	skey := string(key)
	wb := tm.buffer()
	delete(wb.sets, skey)
	wb.deletes[skey] = true

	return t.finishAutoCommit()
}
