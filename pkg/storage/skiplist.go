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
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// defaultMaxLevel is the default max level of the skip list
	defaultMaxLevel int32 = 12

	// maxAllowedLevel caps the levels a caller may ask for.
	maxAllowedLevel int32 = 18

	defaultProbability float64 = 0.5
)

// skipList is the ordered in-memory structure behind every storage map.
// It supports byte key and values along with custom comparators.
//
// It can be accessed concurrently.
type skipList struct {
	mutex       sync.RWMutex
	head        *skipListNode
	maxLevel    int32
	comparator  Comparator
	probability float64
	rnd         *rand.Rand

	// length and size are the number of nodes and the sum of key and value lengths.
	length int
	size   int64
}

// get finds an element by key.
//
// returns a pointer to the skip list node if the key is found.
// returns nil in case the node with key is not found.
func (s *skipList) get(key []byte) *skipListNode {
	log.WithFields(log.Fields{"key": string(key)}).Debug("storage::skiplist::get; started")

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	next := s.findGreaterOrEqual(key, nil)
	if next != nil && s.comparator.Compare(next.key, key) == 0 {
		return next
	}

	return nil
}

// set inserts a value in the list associated with the specified key.
//
// Overwrites the data if the key already exists.
// returns the previous value of the key and whether it existed.
func (s *skipList) set(key, value []byte) ([]byte, bool) {
	log.WithFields(log.Fields{"key": string(key)}).Debug("storage::skiplist::set; started")

	s.mutex.Lock()
	defer s.mutex.Unlock()

	prevs := make([]*skipListNode, s.maxLevel)
	element := s.findGreaterOrEqual(key, prevs)

	if element != nil && s.comparator.Compare(element.key, key) == 0 {
		old := element.value
		s.size += int64(len(value) - len(old))
		element.value = value
		return old, true
	}

	element = &skipListNode{
		key:   key,
		value: value,
		next:  make([]*skipListNode, s.randomLevel()),
	}

	for i := range element.next {
		element.next[i] = prevs[i].next[i]
		prevs[i].next[i] = element
	}
	s.length++
	s.size += int64(len(key) + len(value))

	return nil, false
}

// delete deletes a value in the list associated with the specified key.
//
// returns the removed node.
// returns nil if the node isn't found.
func (s *skipList) delete(key []byte) *skipListNode {
	log.WithFields(log.Fields{"key": string(key)}).Debug("storage::skiplist::delete; started")

	s.mutex.Lock()
	defer s.mutex.Unlock()

	prevs := make([]*skipListNode, s.maxLevel)
	element := s.findGreaterOrEqual(key, prevs)

	if element == nil || s.comparator.Compare(element.key, key) != 0 {
		return nil
	}

	for k, v := range element.next {
		prevs[k].next[k] = v
	}
	s.length--
	s.size -= int64(len(element.key) + len(element.value))

	return element
}

// findGreaterOrEqual returns the first node with key >= the passed key.
// nil key denotes -inf i.e. the smallest.
// if prevs is not nil, it's filled with the previous node at each level.
// REQUIRES: lock held by the caller.
func (s *skipList) findGreaterOrEqual(key []byte, prevs []*skipListNode) *skipListNode {
	var next *skipListNode
	prev := s.head

	for i := s.maxLevel - 1; i >= 0; i-- {
		next = prev.next[i]

		// while the user key is bigger than next.key
		for next != nil && s.comparator.Compare(key, next.key) > 0 {
			prev = next
			next = next.next[i]
		}

		if prevs != nil {
			prevs[i] = prev
		}
	}

	return next
}

// getEqualOrGreater returns the skiplist node with key >= the passed key.
// obtains a read lock on the skip list internally.
func (s *skipList) getEqualOrGreater(key []byte) *skipListNode {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.findGreaterOrEqual(key, nil)
}

// first returns the node with the smallest key under the read lock.
func (s *skipList) first() *skipListNode {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.head.next[0]
}

// nextOf returns the node after n under the read lock.
func (s *skipList) nextOf(n *skipListNode) *skipListNode {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return n.next[0]
}

// stats returns the number of entries and their estimated size in bytes.
func (s *skipList) stats() (int, int64) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.length, s.size
}

// randomLevel picks a level for a new node. Must be called with the write lock held.
func (s *skipList) randomLevel() int32 {
	var level int32 = 1

	for level < s.maxLevel && s.rnd.Float64() > s.probability {
		level++
	}

	return level
}

type skipListNode struct {
	key   []byte
	value []byte
	next  []*skipListNode
}

// skipListIterator is the iterator over the key-value pairs of the skip list.
// It relies on the internal synchronization of the skiplist.
// Multiple goroutines can use different iterators
// but two goroutines using the same iterator requires external synchronization.
type skipListIterator struct {
	skipList *skipList
	node     *skipListNode
}

var _ Iterator = (*skipListIterator)(nil)

// Valid checks if the current position of the iterator is valid.
func (sli *skipListIterator) Valid() bool {
	return sli.node != nil
}

// SeekToFirst moves to the first entry of the skiplist.
func (sli *skipListIterator) SeekToFirst() {
	sli.node = sli.skipList.first()
}

// Seek moves the iterator to the first element whose key is >= target.
func (sli *skipListIterator) Seek(target []byte) {
	sli.node = sli.skipList.getEqualOrGreater(target)
}

// Next moves to the next key-value pair in the skiplist.
// REQUIRES: Current position of iterator is valid. Panic otherwise.
func (sli *skipListIterator) Next() {
	if !sli.Valid() {
		panic("Next on an invalid iterator position in skiplist.")
	}
	sli.node = sli.skipList.nextOf(sli.node)
}

// Key returns the key of the current iterator position.
// REQUIRES: Current position of iterator is valid. Panics otherwise.
func (sli *skipListIterator) Key() []byte {
	if !sli.Valid() {
		panic("Key on an invalid iterator position in skiplist.")
	}
	return sli.node.key
}

// Value returns the value of the current iterator position.
// REQUIRES: Current position of iterator is valid. Panics otherwise.
func (sli *skipListIterator) Value() []byte {
	if !sli.Valid() {
		panic("Value on an invalid iterator position in skiplist.")
	}
	return sli.node.value
}

// newSkipList creates a new skipList
//
// Passing 0 for maxLevel leads to a default max level.
func newSkipList(maxLevel int32, comparator Comparator) *skipList {
	if maxLevel == 0 {
		maxLevel = defaultMaxLevel
	}

	if maxLevel < 1 || maxLevel > maxAllowedLevel {
		panic("maxLevel for the SkipList must be a positive integer <= 18")
	}

	return &skipList{
		head:        &skipListNode{next: make([]*skipListNode, maxLevel)},
		maxLevel:    maxLevel,
		comparator:  comparator,
		probability: defaultProbability,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}
