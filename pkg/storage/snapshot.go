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
	"hash/crc32"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	snapshotMagic   uint32 = 0x414f4d50
	snapshotVersion byte   = 1
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// snapshot is the decoded content of a map file.
type snapshot struct {
	mark       uint64
	comparator string
	batch      *WriteBatch
}

// encodeSnapshot serializes the skip list contents.
//
// Layout: magic | version | mark uvarint | comparator name | batch | crc32.
func encodeSnapshot(mark uint64, s *skipList) []byte {
	wb := NewWriteBatch()
	wb.SetSeqNum(mark)

	it := newIterator(s)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		wb.Set(it.Key(), it.Value())
	}

	buf := make([]byte, 4, 32+len(wb.Data()))
	binary.LittleEndian.PutUint32(buf, snapshotMagic)
	buf = append(buf, snapshotVersion)
	buf = protowire.AppendVarint(buf, mark)
	buf = protowire.AppendString(buf, s.comparator.Name())
	buf = protowire.AppendBytes(buf, wb.Data())

	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc32.Checksum(buf, crcTable))
	return append(buf, sum[:]...)
}

// decodeSnapshot verifies and parses an encoded snapshot.
func decodeSnapshot(data []byte) (*snapshot, error) {
	if len(data) < 9 {
		return nil, errors.Errorf("snapshot too short: %d bytes", len(data))
	}

	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.Checksum(body, crcTable) != sum {
		return nil, errors.New("snapshot checksum mismatch")
	}
	if binary.LittleEndian.Uint32(body) != snapshotMagic {
		return nil, errors.New("bad snapshot magic")
	}
	if body[4] != snapshotVersion {
		return nil, errors.Errorf("unsupported snapshot version %d", body[4])
	}
	body = body[5:]

	mark, n := protowire.ConsumeVarint(body)
	if n < 0 {
		return nil, errors.Wrap(protowire.ParseError(n), "snapshot mark")
	}
	body = body[n:]

	cmp, n := protowire.ConsumeString(body)
	if n < 0 {
		return nil, errors.Wrap(protowire.ParseError(n), "snapshot comparator")
	}
	body = body[n:]

	data, n = protowire.ConsumeBytes(body)
	if n < 0 {
		return nil, errors.Wrap(protowire.ParseError(n), "snapshot batch")
	}
	wb, err := NewWriteBatchFromData(data)
	if err != nil {
		return nil, err
	}

	return &snapshot{mark: mark, comparator: cmp, batch: wb}, nil
}
