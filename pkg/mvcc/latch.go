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
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const latchStripes = 1024

// latchTable serializes commits that write the same keys.
// Keys are hashed onto a fixed number of mutexes.
type latchTable struct {
	stripes [latchStripes]sync.Mutex
}

// acquire locks the stripes of the keys in ascending order and returns the release func.
func (lt *latchTable) acquire(keys []string) func() {
	seen := make(map[uint64]bool, len(keys))
	idx := make([]uint64, 0, len(keys))
	for _, k := range keys {
		i := xxhash.Sum64String(k) % latchStripes
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	for _, i := range idx {
		lt.stripes[i].Lock()
	}

	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			lt.stripes[idx[j]].Unlock()
		}
	}
}
