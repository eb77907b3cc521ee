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
	"hash/crc32"
	"io"

	icommon "github.com/dr0pdb/aote/internal/common"
	log "github.com/sirupsen/logrus"
)

// The log file is a sequence of 32KiB blocks. A record is split into chunks
// that never cross a block boundary, each with a 7 byte header:
//   checksum uint32 | length uint16 | chunk type uint8
// The checksum covers the chunk type and the payload.
const (
	blockSize  = 32 * 1024
	headerSize = 7
)

const (
	fullChunkType = iota + 1
	firstChunkType
	middleChunkType
	lastChunkType
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

type logRecordWriter struct {
	// w is the writer that logRecordWriter writes to
	w io.Writer

	// seq is the sequence number of the current record.
	seq int

	// buffer
	buf [blockSize]byte

	// buf[lo:hi] is the current chunk position including the header
	lo, hi int

	// buf[:sofar] has been written to w. can be stale if flush hasn't been called.
	sofar int

	// blockNumber is the block that is currently stored in buf
	blockNumber int64

	// pending indicates if there is a chunk that is yet to written but is buffered.
	pending bool

	// first indicates if the current chunk is the first chunk of the record.
	first bool

	// err is any error encountered during any log record writer operation.
	err error
}

// fillHeaders fill the header entry in the buffer for the current chunk.
func (lrw *logRecordWriter) fillHeaders(lastChunk bool) {
	if lrw.lo+headerSize > lrw.hi || lrw.hi > blockSize {
		log.WithFields(log.Fields{"lo": lrw.lo, "hi": lrw.hi}).Error("redolog::log_writer::fillHeaders; inconsistent state found")
		panic("redolog::log_writer::fillHeaders; inconsistent state found")
	}

	if lastChunk {
		if lrw.first {
			lrw.buf[lrw.lo+6] = fullChunkType
		} else {
			lrw.buf[lrw.lo+6] = lastChunkType
		}
	} else {
		if lrw.first {
			lrw.buf[lrw.lo+6] = firstChunkType
		} else {
			lrw.buf[lrw.lo+6] = middleChunkType
		}
	}

	binary.LittleEndian.PutUint32(lrw.buf[lrw.lo:lrw.lo+4], crc32.Checksum(lrw.buf[lrw.lo+6:lrw.hi], crcTable))
	binary.LittleEndian.PutUint16(lrw.buf[lrw.lo+4:lrw.lo+6], uint16(lrw.hi-lrw.lo-headerSize))
}

// writeBlock writes the rest of the current block and starts a new one.
func (lrw *logRecordWriter) writeBlock() {
	_, lrw.err = lrw.w.Write(lrw.buf[lrw.sofar:])
	lrw.lo = 0
	lrw.hi = headerSize
	lrw.sofar = 0
	lrw.blockNumber++
}

// writePending finishes the pending chunk and writes the buffered part of the block.
func (lrw *logRecordWriter) writePending() {
	if lrw.err != nil {
		return
	}

	if lrw.pending {
		lrw.fillHeaders(true)
		lrw.pending = false
	}

	_, lrw.err = lrw.w.Write(lrw.buf[lrw.sofar:lrw.hi])
	lrw.sofar = lrw.hi
}

// flush writes every complete record to w.
func (lrw *logRecordWriter) flush() error {
	lrw.seq++
	lrw.writePending()
	return lrw.err
}

// next returns a io.Writer for the next record.
//
// The writer is invalidated by the next call to next or flush.
func (lrw *logRecordWriter) next() (io.Writer, error) {
	lrw.seq++
	if lrw.err != nil {
		return nil, lrw.err
	}

	if lrw.pending {
		lrw.fillHeaders(true)
	}

	// move pointers for the next chunk headers
	lrw.lo = lrw.hi
	lrw.hi = lrw.hi + headerSize

	// check if there is enough size to fit in at least the header.
	if lrw.hi > blockSize {
		// fill the rest with zeroes
		for x := lrw.lo; x < blockSize; x++ {
			lrw.buf[x] = 0
		}

		lrw.writeBlock()
		if lrw.err != nil {
			log.WithFields(log.Fields{"error": lrw.err.Error()}).Error("redolog::log_writer::next; error in writing the block")
			return nil, lrw.err
		}
	}

	lrw.first = true
	lrw.pending = true
	return singleLogRecordWriter{lrw, lrw.seq}, nil
}

// writeRecord writes p as one record. The record reaches w on the next flush.
func (lrw *logRecordWriter) writeRecord(p []byte) error {
	w, err := lrw.next()
	if err != nil {
		return err
	}
	_, err = w.Write(p)
	return err
}

// close flushes the pending records.
func (lrw *logRecordWriter) close() error {
	return lrw.flush()
}

type singleLogRecordWriter struct {
	w   *logRecordWriter
	seq int
}

// Write writes a slice of byte to the writer by splitting it into blocks of blocksize.
func (slrw singleLogRecordWriter) Write(p []byte) (int, error) {
	w := slrw.w

	if w.seq != slrw.seq {
		return 0, icommon.NewStaleLogRecordWriterError("Stale Log Record Writer state")
	}

	if w.err != nil {
		return 0, w.err
	}

	tot := len(p)
	for len(p) > 0 {
		// write if full
		if w.hi == blockSize {
			w.fillHeaders(false)
			w.writeBlock()

			if w.err != nil {
				return 0, w.err
			}

			w.first = false
		}

		n := copy(w.buf[w.hi:], p)
		w.hi += n
		p = p[n:]
	}

	return tot, nil
}

// newLogRecordWriter creates a new log record writer.
func newLogRecordWriter(w io.Writer) *logRecordWriter {
	return &logRecordWriter{
		w: w,
	}
}
