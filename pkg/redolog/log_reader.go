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
	"hash/crc32"
	"io"
)

// chunkError reports a chunk that can't be read. block is the index of the
// block holding the chunk, which tells a torn tail apart from corruption.
type chunkError struct {
	block  int64
	reason string
}

func (ce *chunkError) Error() string {
	return fmt.Sprintf("invalid redo log chunk in block %d: %s", ce.block, ce.reason)
}

// logRecordReader reads the records written by logRecordWriter.
type logRecordReader struct {
	r io.Reader

	buf [blockSize]byte

	// buf[lo:hi] is the payload of the current chunk.
	lo, hi int

	// n is the number of valid bytes in buf.
	n int

	// blockNumber is the index of the block in buf.
	blockNumber int64

	// started is set once the first block was read.
	started bool

	// last is set when the current chunk ends a record.
	last bool

	// recordEnd is the file offset right after the last complete record.
	recordEnd int64
}

func newLogRecordReader(r io.Reader) *logRecordReader {
	return &logRecordReader{r: r, blockNumber: -1}
}

// nextChunk moves to the next chunk.
// returns io.EOF at the clean end of the log.
func (lrr *logRecordReader) nextChunk(wantFirst bool) error {
	for {
		if lrr.hi+headerSize <= lrr.n {
			checksum := binary.LittleEndian.Uint32(lrr.buf[lrr.hi : lrr.hi+4])
			length := binary.LittleEndian.Uint16(lrr.buf[lrr.hi+4 : lrr.hi+6])
			chunkType := lrr.buf[lrr.hi+6]

			lo := lrr.hi + headerSize
			hi := lo + int(length)
			if hi > lrr.n {
				return lrr.corrupt("chunk length overflows block")
			}
			if crc32.Checksum(lrr.buf[lo-1:hi], crcTable) != checksum {
				return lrr.corrupt("checksum mismatch")
			}
			lrr.lo, lrr.hi = lo, hi

			switch chunkType {
			case fullChunkType, firstChunkType:
				if !wantFirst {
					return lrr.corrupt("record started inside another record")
				}
			case middleChunkType, lastChunkType:
				if wantFirst {
					return lrr.corrupt("orphan continuation chunk")
				}
			default:
				return lrr.corrupt(fmt.Sprintf("unknown chunk type %d", chunkType))
			}

			lrr.last = chunkType == fullChunkType || chunkType == lastChunkType
			return nil
		}

		if lrr.started && lrr.n < blockSize {
			if lrr.hi != lrr.n {
				return lrr.corrupt("truncated chunk header")
			}
			return io.EOF
		}

		n, err := io.ReadFull(lrr.r, lrr.buf[:])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return err
		}
		lrr.lo, lrr.hi, lrr.n = 0, 0, n
		lrr.blockNumber++
		lrr.started = true
	}
}

// next returns the next record.
// returns io.EOF at the clean end of the log and *chunkError for damaged chunks.
func (lrr *logRecordReader) next() ([]byte, error) {
	if err := lrr.nextChunk(true); err != nil {
		return nil, err
	}

	rec := append([]byte(nil), lrr.buf[lrr.lo:lrr.hi]...)
	for !lrr.last {
		if err := lrr.nextChunk(false); err != nil {
			if err == io.EOF {
				return nil, lrr.corrupt("record truncated at the end of the log")
			}
			return nil, err
		}
		rec = append(rec, lrr.buf[lrr.lo:lrr.hi]...)
	}
	lrr.recordEnd = lrr.blockNumber*blockSize + int64(lrr.hi)
	return rec, nil
}

func (lrr *logRecordReader) corrupt(reason string) error {
	return &chunkError{block: lrr.blockNumber, reason: reason}
}
