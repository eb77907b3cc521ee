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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBatchSetDelete(t *testing.T) {
	wb := NewWriteBatch()
	assert.Equal(t, uint32(0), wb.Count())

	wb.Set(key1, value1)
	wb.Delete(key2)
	wb.Set(key3, []byte{})
	wb.SetSeqNum(42)

	assert.Equal(t, uint32(3), wb.Count())
	assert.Equal(t, uint64(42), wb.SeqNum())

	decoded, err := NewWriteBatchFromData(wb.Data())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), decoded.SeqNum())

	it := decoded.Iterator()

	kind, key, value, ok := it.Next()
	assert.True(t, ok)
	assert.Equal(t, BatchKindSet, kind)
	assert.Equal(t, key1, key)
	assert.Equal(t, value1, value)

	kind, key, value, ok = it.Next()
	assert.True(t, ok)
	assert.Equal(t, BatchKindDelete, kind)
	assert.Equal(t, key2, key)
	assert.Nil(t, value)

	kind, key, value, ok = it.Next()
	assert.True(t, ok)
	assert.Equal(t, BatchKindSet, kind)
	assert.Equal(t, key3, key)
	assert.Empty(t, value)

	_, _, _, ok = it.Next()
	assert.False(t, ok)
	assert.NoError(t, it.Err())
}

func TestWriteBatchCorrupt(t *testing.T) {
	_, err := NewWriteBatchFromData([]byte{1, 2, 3})
	assert.Error(t, err)

	wb := NewWriteBatch()
	wb.Set(key1, value1)
	data := wb.Data()

	// cut the value short.
	truncated, err := NewWriteBatchFromData(data[:len(data)-2])
	require.NoError(t, err)
	it := truncated.Iterator()
	_, _, _, ok := it.Next()
	assert.False(t, ok)
	assert.Error(t, it.Err())

	// unknown kind.
	bad := append([]byte(nil), data...)
	bad[batchHeaderSize] = 9
	badBatch, err := NewWriteBatchFromData(bad)
	require.NoError(t, err)
	it = badBatch.Iterator()
	_, _, _, ok = it.Next()
	assert.False(t, ok)
	assert.Error(t, it.Err())
}

func TestSnapshotCodec(t *testing.T) {
	s := newSkipList(0, DefaultComparator)
	s.set(key2, value2)
	s.set(key1, value1)

	data := encodeSnapshot(7, s)
	snap, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snap.mark)
	assert.Equal(t, DefaultComparator.Name(), snap.comparator)
	assert.Equal(t, uint32(2), snap.batch.Count())

	data[len(data)/2] ^= 0xff
	_, err = decodeSnapshot(data)
	assert.Error(t, err)
}
