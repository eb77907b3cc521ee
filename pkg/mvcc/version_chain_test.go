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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain pushes the versions oldest first so that tids[0] ends up at the tail.
func buildChain(vt *versionTable, key string, tids ...uint64) {
	base := newSetTxnValue(tids[0], []byte(key))
	for _, tid := range tids[1:] {
		vt.push("m", []byte(key), base, newSetTxnValue(tid, []byte(key)))
	}
}

func TestVersionChainOrder(t *testing.T) {
	vt := &versionTable{}
	buildChain(vt, "a", 3, 7, 9, 15)

	c := vt.get("m", []byte("a"))
	require.NotNil(t, c)
	assert.Equal(t, []uint64{15, 9, 7, 3}, c.tids(), "expected the newest version at the head")

	tid, ok := c.headTid()
	assert.True(t, ok)
	assert.Equal(t, uint64(15), tid)

	assert.Nil(t, vt.get("m", []byte("b")))
	assert.Nil(t, vt.get("other", []byte("a")))
}

func TestVersionChainFind(t *testing.T) {
	vt := &versionTable{}
	buildChain(vt, "a", 3, 7, 9, 15)
	c := vt.get("m", []byte("a"))

	// txn 10 began while 9 was active.
	reader := newTransaction(10, nil, RepeatableRead, false, 0, map[uint64]bool{9: true})
	ov, ok := c.find(reader)
	require.True(t, ok)
	assert.Equal(t, uint64(7), ov.tid)

	old := newTransaction(2, nil, RepeatableRead, false, 0, nil)
	_, ok = c.find(old)
	assert.False(t, ok, "expected no version older than the chain")
}

func TestVersionTableGCKeepsHistoryOfActiveReaders(t *testing.T) {
	vt := &versionTable{}
	buildChain(vt, "a", 1, 3, 7, 9, 15)
	buildChain(vt, "b", 1, 2, 4)

	// the oldest active repeatable read txn is 5.
	dropped := vt.gc(5)
	assert.Equal(t, 1, dropped, "expected the chain whose newest version is below 5 to be dropped")
	assert.Nil(t, vt.get("m", []byte("b")))

	c := vt.get("m", []byte("a"))
	require.NotNil(t, c)
	assert.Equal(t, []uint64{15, 9, 7, 3}, c.tids(), "expected the chain to be cut after the first version below 5")

	assert.Equal(t, 1, vt.clear())
	assert.Equal(t, 0, vt.len())
}

func TestVersionTablePushAfterGC(t *testing.T) {
	vt := &versionTable{}
	buildChain(vt, "a", 1, 2)
	c := vt.get("m", []byte("a"))
	vt.clear()

	vt.push("m", []byte("a"), newSetTxnValue(2, nil), newSetTxnValue(3, nil))
	fresh := vt.get("m", []byte("a"))
	require.NotNil(t, fresh)
	assert.NotSame(t, c, fresh, "expected a removed chain to be replaced")
	assert.Equal(t, []uint64{3, 2}, fresh.tids())

	_, ok := c.headTid()
	assert.False(t, ok, "expected the removed chain to report no head")
}

func TestVersionTableRemoveMap(t *testing.T) {
	vt := &versionTable{}
	buildChain(vt, "a", 1, 2)
	buildChain(vt, "b", 1, 2)
	vt.push("keep", []byte("a"), newSetTxnValue(1, nil), newSetTxnValue(2, nil))

	vt.removeMap("m")
	assert.Equal(t, 1, vt.len())
	assert.NotNil(t, vt.get("keep", []byte("a")))
}
