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
	"fmt"
	"io"
	"os"

	icommon "github.com/dr0pdb/aote/internal/common"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ReadLog calls fn for every record of the redo log in dir, in append order.
//
// A torn record at the end of the newest segment ends the log.
// Damage anywhere else is a LogCorruptionError.
func ReadLog(dir string, fn func(seq uint64, r Record) error) error {
	return replay(dir, false, fn)
}

// replay reads every segment. With repair set, a torn tail is cut off the newest segment.
func replay(dir string, repair bool, fn func(seq uint64, r Record) error) error {
	seqs, err := listSegments(dir)
	if err != nil {
		return err
	}

	for i, seq := range seqs {
		if err := replaySegment(dir, seq, i == len(seqs)-1, repair, fn); err != nil {
			return err
		}
	}
	return nil
}

func replaySegment(dir string, seq uint64, newest, repair bool, fn func(seq uint64, r Record) error) error {
	name := segmentFileName(dir, seq)
	f, err := os.Open(name)
	if err != nil {
		return errors.Wrapf(err, "open redo log segment %s", name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat redo log segment %s", name)
	}
	lastBlock := (info.Size() - 1) / blockSize

	reader := newLogRecordReader(f)
	for {
		data, err := reader.next()
		if err == io.EOF {
			return nil
		}

		if ce, ok := err.(*chunkError); ok {
			if !newest || ce.block < lastBlock {
				return icommon.NewLogCorruptionError(fmt.Sprintf("%s: %s", name, ce.Error()))
			}

			log.WithFields(log.Fields{"segment": name, "offset": reader.recordEnd, "reason": ce.reason}).Warn("redolog::replay::replaySegment; torn tail at the end of the redo log")
			if repair {
				// a torn tail is only tolerated in the newest segment.
				if err := os.Truncate(name, reader.recordEnd); err != nil {
					return errors.Wrapf(err, "truncate torn redo log segment %s", name)
				}
			}
			return nil
		}

		if err != nil {
			return errors.Wrapf(err, "read redo log segment %s", name)
		}

		r, err := ReadRecord(data)
		if err != nil {
			return errors.Wrapf(err, "segment %s", name)
		}
		if err := fn(seq, r); err != nil {
			return err
		}
	}
}
