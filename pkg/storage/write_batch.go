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
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protowire"
)

// batchHeaderSize is the size of the seq number (8 bytes) and the count (4 bytes).
const batchHeaderSize = 12

// BatchKind is the kind of a single write batch entry.
type BatchKind uint8

const (
	// BatchKindDelete removes the key.
	BatchKindDelete BatchKind = iota

	// BatchKindSet sets the key to the value.
	BatchKindSet
)

// WriteBatch is an ordered list of set/delete operations.
//
// The encoded form is
//   seq uint64 | count uint32 | entries
// where every entry is the kind byte followed by the varint length prefixed key
// and, for sets, the varint length prefixed value.
// It is the body of map snapshots and the per map blob of redo log records.
type WriteBatch struct {
	data []byte
}

// NewWriteBatch returns an empty write batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

// NewWriteBatchFromData wraps previously encoded batch bytes.
func NewWriteBatchFromData(data []byte) (*WriteBatch, error) {
	if len(data) < batchHeaderSize {
		return nil, errors.Errorf("write batch too short: %d bytes", len(data))
	}
	return &WriteBatch{data: data}, nil
}

func (wb *WriteBatch) init(cap int) {
	icap := 256
	for icap < cap {
		icap *= 2
	}
	wb.data = make([]byte, batchHeaderSize, icap)
}

// Set appends a set entry to the batch.
func (wb *WriteBatch) Set(key, value []byte) {
	log.WithFields(log.Fields{"key": string(key)}).Debug("storage::write_batch::Set; start")

	if len(wb.data) == 0 {
		wb.init(len(key) + len(value) + 2*binary.MaxVarintLen64 + batchHeaderSize)
	}

	wb.incrementCount()
	wb.data = append(wb.data, byte(BatchKindSet))
	wb.data = protowire.AppendBytes(wb.data, key)
	wb.data = protowire.AppendBytes(wb.data, value)
}

// Delete appends a delete entry to the batch.
func (wb *WriteBatch) Delete(key []byte) {
	log.WithFields(log.Fields{"key": string(key)}).Debug("storage::write_batch::Delete; start")

	if len(wb.data) == 0 {
		wb.init(len(key) + binary.MaxVarintLen64 + batchHeaderSize)
	}

	wb.incrementCount()
	wb.data = append(wb.data, byte(BatchKindDelete))
	wb.data = protowire.AppendBytes(wb.data, key)
}

func (wb *WriteBatch) getSeqNumData() []byte {
	return wb.data[:8]
}

func (wb *WriteBatch) getCountData() []byte {
	return wb.data[8:12]
}

func (wb *WriteBatch) incrementCount() {
	d := wb.getCountData()
	binary.LittleEndian.PutUint32(d, binary.LittleEndian.Uint32(d)+1)
}

// SetSeqNum stores the sequence number in the batch header.
func (wb *WriteBatch) SetSeqNum(seqNum uint64) {
	if len(wb.data) == 0 {
		wb.init(batchHeaderSize)
	}
	binary.LittleEndian.PutUint64(wb.getSeqNumData(), seqNum)
}

// SeqNum returns the sequence number of the batch.
func (wb *WriteBatch) SeqNum() uint64 {
	if len(wb.data) == 0 {
		return 0
	}
	return binary.LittleEndian.Uint64(wb.getSeqNumData())
}

// Count returns the number of entries in the batch.
func (wb *WriteBatch) Count() uint32 {
	if len(wb.data) == 0 {
		return 0
	}
	return binary.LittleEndian.Uint32(wb.getCountData())
}

// Data returns the encoded batch.
func (wb *WriteBatch) Data() []byte {
	if len(wb.data) == 0 {
		wb.init(batchHeaderSize)
	}
	return wb.data
}

// Iterator returns an iterator over the entries of the batch.
func (wb *WriteBatch) Iterator() *BatchIterator {
	if len(wb.data) == 0 {
		return &BatchIterator{}
	}
	return &BatchIterator{data: wb.data[batchHeaderSize:]}
}

// BatchIterator walks the entries of a write batch in insertion order.
type BatchIterator struct {
	data []byte
	err  error
}

// Next returns the next entry.
// ok is false at the end of the batch or when the batch is corrupt, see Err.
func (bi *BatchIterator) Next() (kind BatchKind, key []byte, value []byte, ok bool) {
	if len(bi.data) == 0 || bi.err != nil {
		return 0, nil, nil, false
	}

	kind, bi.data = BatchKind(bi.data[0]), bi.data[1:]
	if kind != BatchKindSet && kind != BatchKindDelete {
		bi.err = errors.Errorf("unknown write batch entry kind %d", kind)
		return 0, nil, nil, false
	}

	key, ok = bi.nextString()
	if !ok {
		bi.err = errors.New("corrupt key in write batch")
		return 0, nil, nil, false
	}

	if kind == BatchKindSet {
		value, ok = bi.nextString()
		if !ok {
			bi.err = errors.New("corrupt value in write batch")
			return 0, nil, nil, false
		}
	}

	return kind, key, value, true
}

// Err returns the decoding error that stopped the iteration, if any.
func (bi *BatchIterator) Err() error {
	return bi.err
}

func (bi *BatchIterator) nextString() ([]byte, bool) {
	s, n := protowire.ConsumeBytes(bi.data)
	if n < 0 {
		log.WithFields(log.Fields{"err": protowire.ParseError(n)}).Error("storage::write_batch::nextString; corrupt length prefixed string")
		return nil, false
	}
	bi.data = bi.data[n:]
	return s, true
}
