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

package redolog

import (
	"encoding/binary"
	"fmt"
	"sort"

	icommon "github.com/dr0pdb/aote/internal/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// record type tags.
const (
	checkpointType       byte = 0
	droppedMapType       byte = 1
	localTransactionType byte = 2
)

// PendingRedoLog holds the write batch blobs of every map that were logged
// after the last checkpoint, in log order.
type PendingRedoLog map[string][][]byte

// Record is a single entry of the redo log.
type Record interface {
	// Write appends the encoded record to buf and returns the extended buffer.
	Write(buf []byte) []byte

	// IsCheckpoint reports whether the record is a checkpoint marker.
	IsCheckpoint() bool

	// InitPendingRedoLog applies the record to the replay state and returns the new watermark.
	InitPendingRedoLog(pending PendingRedoLog, lastTransactionID uint64) (uint64, error)
}

// Checkpoint marks the point up to which every map was saved.
type Checkpoint struct {
	ID uint64

	// Saved is set once the maps were saved for this checkpoint.
	// It isn't part of the encoding; decoded checkpoints are always saved.
	Saved bool
}

var _ Record = (*Checkpoint)(nil)

func (c *Checkpoint) Write(buf []byte) []byte {
	buf = append(buf, checkpointType)
	return protowire.AppendVarint(buf, c.ID)
}

func (c *Checkpoint) IsCheckpoint() bool {
	return true
}

// InitPendingRedoLog clears the pending state. The id must not go below the watermark.
func (c *Checkpoint) InitPendingRedoLog(pending PendingRedoLog, lastTransactionID uint64) (uint64, error) {
	if c.ID < lastTransactionID {
		return 0, icommon.NewLogCorruptionError(fmt.Sprintf("checkpoint id %d is below the transaction id watermark %d", c.ID, lastTransactionID))
	}

	for name := range pending {
		delete(pending, name)
	}
	return c.ID, nil
}

func (c *Checkpoint) String() string {
	return fmt.Sprintf("Checkpoint{id=%d}", c.ID)
}

// DroppedMap records that a map was dropped.
type DroppedMap struct {
	MapName string
}

var _ Record = (*DroppedMap)(nil)

func (d *DroppedMap) Write(buf []byte) []byte {
	buf = append(buf, droppedMapType)
	return protowire.AppendString(buf, d.MapName)
}

func (d *DroppedMap) IsCheckpoint() bool {
	return false
}

// InitPendingRedoLog discards everything logged for the map so far.
func (d *DroppedMap) InitPendingRedoLog(pending PendingRedoLog, lastTransactionID uint64) (uint64, error) {
	delete(pending, d.MapName)
	return lastTransactionID, nil
}

func (d *DroppedMap) String() string {
	return fmt.Sprintf("DroppedMap{map=%s}", d.MapName)
}

// LocalTransaction is the durable unit of one committed transaction.
//
// Operations is a run of [map name][int32 blob length][blob] tuples, see EncodeOperations.
// The blobs are only decoded by the owner of the map.
type LocalTransaction struct {
	TransactionID uint64
	Operations    []byte
}

var _ Record = (*LocalTransaction)(nil)

func (l *LocalTransaction) Write(buf []byte) []byte {
	buf = append(buf, localTransactionType)
	buf = protowire.AppendVarint(buf, l.TransactionID)
	buf = appendInt32(buf, len(l.Operations))
	return append(buf, l.Operations...)
}

func (l *LocalTransaction) IsCheckpoint() bool {
	return false
}

// InitPendingRedoLog appends the blobs to the pending state of their maps.
func (l *LocalTransaction) InitPendingRedoLog(pending PendingRedoLog, lastTransactionID uint64) (uint64, error) {
	ops, err := DecodeOperations(l.Operations)
	if err != nil {
		return 0, err
	}

	for _, op := range ops {
		pending[op.MapName] = append(pending[op.MapName], op.Data)
	}

	if l.TransactionID > lastTransactionID {
		return l.TransactionID, nil
	}
	return lastTransactionID, nil
}

func (l *LocalTransaction) String() string {
	ops, err := DecodeOperations(l.Operations)
	if err != nil {
		return fmt.Sprintf("LocalTransaction{tid=%d, corrupt operations: %v}", l.TransactionID, err)
	}

	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, fmt.Sprintf("%s:%dB", op.MapName, len(op.Data)))
	}
	return fmt.Sprintf("LocalTransaction{tid=%d, ops=%v}", l.TransactionID, names)
}

// Operation is the write batch of one map inside a LocalTransaction.
type Operation struct {
	MapName string
	Data    []byte
}

// EncodeOperations encodes the per map blobs, sorted by map name.
func EncodeOperations(ops map[string][]byte) []byte {
	names := make([]string, 0, len(ops))
	size := 0
	for name, data := range ops {
		names = append(names, name)
		size += len(name) + len(data) + binary.MaxVarintLen64 + 4
	}
	sort.Strings(names)

	buf := make([]byte, 0, size)
	for _, name := range names {
		buf = AppendOperation(buf, name, ops[name])
	}
	return buf
}

// AppendOperation appends one [map name][int32 blob length][blob] tuple.
func AppendOperation(buf []byte, mapName string, data []byte) []byte {
	buf = protowire.AppendString(buf, mapName)
	buf = appendInt32(buf, len(data))
	return append(buf, data...)
}

// DecodeOperations splits an operations run into its tuples.
func DecodeOperations(buf []byte) ([]Operation, error) {
	var ops []Operation
	for len(buf) > 0 {
		name, n := protowire.ConsumeString(buf)
		if n < 0 {
			return nil, icommon.NewLogCorruptionError(fmt.Sprintf("corrupt map name in operations: %v", protowire.ParseError(n)))
		}
		buf = buf[n:]

		data, rest, err := consumeInt32Bytes(buf)
		if err != nil {
			return nil, err
		}
		buf = rest

		ops = append(ops, Operation{MapName: name, Data: data})
	}
	return ops, nil
}

// ReadRecord decodes one record.
//
// An unknown type tag is a LogCorruptionError.
func ReadRecord(buf []byte) (Record, error) {
	if len(buf) == 0 {
		return nil, icommon.NewLogCorruptionError("empty redo log record")
	}

	tag, buf := buf[0], buf[1:]
	var (
		r    Record
		rest []byte
	)

	switch tag {
	case checkpointType:
		id, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, icommon.NewLogCorruptionError(fmt.Sprintf("corrupt checkpoint id: %v", protowire.ParseError(n)))
		}
		r, rest = &Checkpoint{ID: id, Saved: true}, buf[n:]

	case droppedMapType:
		name, n := protowire.ConsumeString(buf)
		if n < 0 {
			return nil, icommon.NewLogCorruptionError(fmt.Sprintf("corrupt dropped map name: %v", protowire.ParseError(n)))
		}
		r, rest = &DroppedMap{MapName: name}, buf[n:]

	case localTransactionType:
		tid, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, icommon.NewLogCorruptionError(fmt.Sprintf("corrupt transaction id: %v", protowire.ParseError(n)))
		}
		ops, after, err := consumeInt32Bytes(buf[n:])
		if err != nil {
			return nil, err
		}
		r, rest = &LocalTransaction{TransactionID: tid, Operations: ops}, after

	default:
		return nil, icommon.NewLogCorruptionError(fmt.Sprintf("unknown redo log record type %d", tag))
	}

	if len(rest) != 0 {
		return nil, icommon.NewLogCorruptionError(fmt.Sprintf("%d trailing bytes after redo log record type %d", len(rest), tag))
	}
	return r, nil
}

func appendInt32(buf []byte, v int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func consumeInt32Bytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, icommon.NewLogCorruptionError("truncated int32 length")
	}
	n := int32(binary.BigEndian.Uint32(buf))
	buf = buf[4:]
	if n < 0 || int(n) > len(buf) {
		return nil, nil, icommon.NewLogCorruptionError(fmt.Sprintf("byte run length %d out of range, %d bytes left", n, len(buf)))
	}
	return buf[:n], buf[n:], nil
}
