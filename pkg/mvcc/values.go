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
	"fmt"

	icommon "github.com/dr0pdb/aote/internal/common"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	deletedFlag     byte = 1 << 0
	provisionalFlag byte = 1 << 1
)

// txnValue is the value of a key stored in a storage map.
// It's format is as follows
// | flags (1 byte) | tid (uvarint) | user value |
//
// A value applied before the redo log record of its transaction was durable is
// provisional and carries the newest earlier version known to be durable:
// | flags (1 byte) | tid (uvarint) | epoch (uvarint) | old flags (1 byte) | old tid (uvarint) | old value (length prefixed) | user value |
//
// In case of delete, the deleted flag is set and the user value is empty.
type txnValue struct {
	tid     uint64
	deleted bool
	value   []byte

	// provisional values only.
	provisional bool
	epoch       uint64
	old         *txnValue
}

// absentValue is the version of a key that was never written.
var absentValue = &txnValue{deleted: true}

func newSetTxnValue(tid uint64, value []byte) *txnValue {
	return &txnValue{tid: tid, value: value}
}

func newDeleteTxnValue(tid uint64) *txnValue {
	return &txnValue{tid: tid, deleted: true}
}

func (v *txnValue) flags() byte {
	var f byte
	if v.deleted {
		f |= deletedFlag
	}
	if v.provisional {
		f |= provisionalFlag
	}
	return f
}

// durable returns the value without its provisional part.
func (v *txnValue) durable() *txnValue {
	if !v.provisional {
		return v
	}
	return &txnValue{tid: v.tid, deleted: v.deleted, value: v.value}
}

func (v *txnValue) encode() []byte {
	buf := make([]byte, 0, len(v.value)+2*protowire.SizeVarint(v.tid)+8)
	buf = append(buf, v.flags())
	buf = protowire.AppendVarint(buf, v.tid)

	if v.provisional {
		old := v.old
		if old == nil {
			old = absentValue
		}
		buf = protowire.AppendVarint(buf, v.epoch)
		buf = append(buf, old.flags()&deletedFlag)
		buf = protowire.AppendVarint(buf, old.tid)
		buf = protowire.AppendBytes(buf, old.value)
	}

	return append(buf, v.value...)
}

func decodeTxnValue(buf []byte) (*txnValue, error) {
	if len(buf) == 0 {
		return nil, icommon.NewUnknownError("empty transactional value")
	}

	v := &txnValue{}
	flags := buf[0]
	v.deleted = flags&deletedFlag != 0
	v.provisional = flags&provisionalFlag != 0
	buf = buf[1:]

	tid, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return nil, icommon.NewUnknownError(fmt.Sprintf("corrupt transactional value tid: %v", protowire.ParseError(n)))
	}
	v.tid, buf = tid, buf[n:]

	if v.provisional {
		epoch, n := protowire.ConsumeVarint(buf)
		if n < 0 || len(buf) == n {
			return nil, icommon.NewUnknownError("corrupt transactional value epoch")
		}
		v.epoch, buf = epoch, buf[n:]

		old := &txnValue{deleted: buf[0]&deletedFlag != 0}
		buf = buf[1:]

		oldTid, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, icommon.NewUnknownError("corrupt transactional value old tid")
		}
		old.tid, buf = oldTid, buf[n:]

		oldValue, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, icommon.NewUnknownError("corrupt transactional value old value")
		}
		old.value, buf = oldValue, buf[n:]
		v.old = old
	}

	v.value = buf
	return v, nil
}
