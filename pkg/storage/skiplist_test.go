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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	key1   = []byte("Key1")
	key2   = []byte("Key2")
	key3   = []byte("Key3")
	key4   = []byte("Key4")
	key5   = []byte("Key5")
	value1 = []byte("Value 1")
	value2 = []byte("Value 2")
	value3 = []byte("Value 3")
	value4 = []byte("Value 4")
	value5 = []byte("Value 5")
)

// TestBasicCRUD tests the basic CRUD operations on the skip list
func TestBasicCRUD(t *testing.T) {
	skipList := newSkipList(10, DefaultComparator)

	skipList.set(key1, value1)
	skipList.set(key2, value2)
	skipList.set(key3, value3)

	key1Node := skipList.get(key1)
	assert.Equal(t, value1, key1Node.value, "Value for Key1 is different than what's set in Skiplist.")

	skipList.set(key4, value4)
	skipList.set(key5, value5)

	key2Node := skipList.get(key2)
	assert.Equal(t, value2, key2Node.value, "Value for Key2 is different than what's set in Skiplist.")

	key5Node := skipList.get(key5)
	assert.Equal(t, value5, key5Node.value, "Value for Key5 is different than what's set in Skiplist.")

	key2Node = skipList.delete(key2)
	assert.NotNil(t, key2Node)
	assert.Nil(t, skipList.get(key2))

	old, existed := skipList.set(key1, value2)
	assert.True(t, existed)
	assert.Equal(t, value1, old)
	assert.Equal(t, value2, skipList.get(key1).value)

	n, size := skipList.stats()
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(4*len(key1)+4*len(value1)), size)
}

func TestSkipListIterator(t *testing.T) {
	skipList := newSkipList(0, DefaultComparator)
	skipList.set(key3, value3)
	skipList.set(key1, value1)
	skipList.set(key5, value5)

	itr := newIterator(skipList)
	assert.False(t, itr.Valid())

	var keys [][]byte
	for itr.SeekToFirst(); itr.Valid(); itr.Next() {
		keys = append(keys, itr.Key())
	}
	assert.Equal(t, [][]byte{key1, key3, key5}, keys)

	itr.Seek(key2)
	assert.True(t, itr.Valid())
	assert.Equal(t, key3, itr.Key())
	assert.Equal(t, value3, itr.Value())

	itr.Seek([]byte("Key9"))
	assert.False(t, itr.Valid())
	assert.Panics(t, func() { itr.Next() })
}

// TestConcurrency tests the concurrent operations on the skip list
func TestConcurrency(t *testing.T) {
	skipList := newSkipList(10, DefaultComparator)
	l := 10000

	wg := &sync.WaitGroup{}
	wg.Add(2)

	go func() {
		for i := 0; i < l; i++ {
			skipList.set([]byte(fmt.Sprintf("%06d", i)), []byte(fmt.Sprintf("%06d", i)))
		}
		wg.Done()
	}()

	go func() {
		for i := 0; i < l; i++ {
			skipList.set([]byte(fmt.Sprintf("%06d", i+l)), []byte(fmt.Sprintf("%06d", i+l)))
		}
		wg.Done()
	}()

	wg.Wait()

	for i := 0; i < 2*l; i++ {
		node := skipList.get([]byte(fmt.Sprintf("%06d", i)))
		assert.NotNil(t, node)
		assert.Equal(t, []byte(fmt.Sprintf("%06d", i)), node.value, "Value mismatch in concurrency testing.")
	}

	n, _ := skipList.stats()
	assert.Equal(t, 2*l, n)
}

func TestInvalidMaxLevel(t *testing.T) {
	assert.Panics(t, func() { newSkipList(19, DefaultComparator) })
	assert.Panics(t, func() { newSkipList(-1, DefaultComparator) })
}
