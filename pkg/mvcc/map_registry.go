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

	"github.com/dr0pdb/aote/pkg/storage"
	"go.uber.org/atomic"
)

// recovery describes what a map looked like when it was first registered in this session.
//
// Provisional values with checkpoint <= epoch <= ceiling were saved by a
// checkpoint whose record never made it to the redo log, and the redo log
// record of their writer isn't in the log either. Reads fall back to the old version.
type recovery struct {
	checkpoint uint64
	ceiling    uint64
}

func (r recovery) lost(v *txnValue) bool {
	return v.provisional && r.checkpoint <= v.epoch && v.epoch <= r.ceiling
}

// mapInfo is a registered storage map and its estimated dirty memory.
type mapInfo struct {
	m               storage.Map
	estimatedMemory atomic.Int64
	recovery        recovery

	// settled is set once the lost values were rewritten in the map.
	settled atomic.Bool
}

// resolve applies the read time undo to a stored value.
func (mi *mapInfo) resolve(v *txnValue) *txnValue {
	if mi.recovery.lost(v) {
		if v.old == nil {
			return absentValue
		}
		return v.old
	}
	return v
}

// mapRegistry tracks the maps registered with the engine.
type mapRegistry struct {
	maps sync.Map

	// totalMemory is the sum of the estimated memory of all maps.
	totalMemory atomic.Int64
}

func (mr *mapRegistry) get(name string) *mapInfo {
	mi, ok := mr.maps.Load(name)
	if !ok {
		return nil
	}
	return mi.(*mapInfo)
}

// put registers the map unless a map with the same name is registered.
// returns the registered map info and whether it was added.
func (mr *mapRegistry) put(mi *mapInfo) (*mapInfo, bool) {
	actual, loaded := mr.maps.LoadOrStore(mi.m.Name(), mi)
	if !loaded {
		mr.totalMemory.Add(mi.estimatedMemory.Load())
	}
	return actual.(*mapInfo), !loaded
}

func (mr *mapRegistry) remove(name string) *mapInfo {
	mi, ok := mr.maps.Load(name)
	if !ok {
		return nil
	}
	mr.maps.Delete(name)

	info := mi.(*mapInfo)
	mr.totalMemory.Sub(info.estimatedMemory.Load())
	return info
}

func (mr *mapRegistry) incrementEstimatedMemory(mi *mapInfo, n int64) {
	mi.estimatedMemory.Add(n)
	mr.totalMemory.Add(n)
}

// resetEstimatedMemory sets the counter of the map to zero and returns the old value.
func (mr *mapRegistry) resetEstimatedMemory(mi *mapInfo) int64 {
	n := mi.estimatedMemory.Swap(0)
	mr.totalMemory.Sub(n)
	return n
}

// values returns the registered maps ordered by name.
func (mr *mapRegistry) values() []*mapInfo {
	var infos []*mapInfo
	mr.maps.Range(func(_, mi interface{}) bool {
		infos = append(infos, mi.(*mapInfo))
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].m.Name() < infos[j].m.Name() })
	return infos
}

func (mr *mapRegistry) names() []string {
	var names []string
	for _, mi := range mr.values() {
		names = append(names, mi.m.Name())
	}
	return names
}
