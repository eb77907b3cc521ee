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
	"math"
	"strings"
	"sync"
)

// oldValue is one committed version of a key.
// Chains are ordered newest first by the id of the writing transaction.
type oldValue struct {
	tid     uint64
	deleted bool
	value   []byte
	next    *oldValue
}

func newOldValue(v *txnValue, next *oldValue) *oldValue {
	return &oldValue{tid: v.tid, deleted: v.deleted, value: v.value, next: next}
}

// versionChain is the history of one key.
// Writers only add at the head, gc only cuts the tail.
type versionChain struct {
	mu   sync.Mutex
	head *oldValue

	// removed is set once gc dropped the chain from the table.
	removed bool
}

// find returns the newest version visible to the transaction.
func (c *versionChain) find(t *Transaction) (*oldValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ov := c.head; ov != nil; ov = ov.next {
		if t.isVisible(ov.tid) {
			return ov, true
		}
	}
	return nil, false
}

// headTid returns the id of the newest version.
func (c *versionChain) headTid() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removed || c.head == nil {
		return 0, false
	}
	return c.head.tid, true
}

// tids returns the ids of the chain, newest first.
func (c *versionChain) tids() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tids []uint64
	for ov := c.head; ov != nil; ov = ov.next {
		tids = append(tids, ov.tid)
	}
	return tids
}

// versionTable maps map name + key to the version chain of the key.
type versionTable struct {
	chains sync.Map
}

func chainKey(mapName string, key []byte) string {
	return mapName + "\x00" + string(key)
}

func (vt *versionTable) get(mapName string, key []byte) *versionChain {
	c, ok := vt.chains.Load(chainKey(mapName, key))
	if !ok {
		return nil
	}
	return c.(*versionChain)
}

// push adds the version at the head of the chain of the key.
// A missing chain starts with base, the version the new one replaces.
func (vt *versionTable) push(mapName string, key []byte, base, v *txnValue) {
	k := chainKey(mapName, key)
	for {
		c, _ := vt.chains.LoadOrStore(k, &versionChain{})
		chain := c.(*versionChain)

		chain.mu.Lock()
		if chain.removed {
			// lost the race with gc, the next LoadOrStore sees a fresh chain.
			chain.mu.Unlock()
			continue
		}
		if chain.head == nil {
			chain.head = newOldValue(base, nil)
		}
		chain.head = newOldValue(v, chain.head)
		chain.mu.Unlock()
		return
	}
}

// gc drops the chains whose newest version is older than minTid and cuts the
// others after their first version older than minTid.
// returns the number of dropped chains.
func (vt *versionTable) gc(minTid uint64) int {
	dropped := 0
	vt.chains.Range(func(k, c interface{}) bool {
		chain := c.(*versionChain)

		chain.mu.Lock()
		defer chain.mu.Unlock()

		if chain.head == nil || chain.head.tid < minTid {
			chain.removed = true
			vt.chains.Delete(k)
			dropped++
			return true
		}

		for ov := chain.head; ov != nil; ov = ov.next {
			if ov.tid < minTid {
				ov.next = nil
				break
			}
		}
		return true
	})
	return dropped
}

// clear drops every chain.
func (vt *versionTable) clear() int {
	return vt.gc(math.MaxUint64)
}

// removeMap drops the chains of the map.
func (vt *versionTable) removeMap(mapName string) {
	prefix := mapName + "\x00"
	vt.chains.Range(func(k, c interface{}) bool {
		if !strings.HasPrefix(k.(string), prefix) {
			return true
		}
		chain := c.(*versionChain)
		chain.mu.Lock()
		chain.removed = true
		vt.chains.Delete(k)
		chain.mu.Unlock()
		return true
	})
}

func (vt *versionTable) len() int {
	n := 0
	vt.chains.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
