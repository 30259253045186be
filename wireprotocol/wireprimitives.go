// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package wireprotocol encodes the rows exchanged with the database engine.
package wireprotocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
)

// recordWriter appends big-endian primitives to a record and keeps track of
// the offset used for alignment.
type recordWriter struct {
	buf []byte
}

func (w *recordWriter) len() int { return len(w.buf) }

// pad appends zero bytes until the record length is a multiple of align.
func (w *recordWriter) pad(align int) {
	for align > 1 && len(w.buf)%align != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *recordWriter) writeInt8(i int8) {
	w.buf = append(w.buf, byte(i))
}

func (w *recordWriter) writeInt16(i int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(i))
	w.buf = append(w.buf, b[:]...)
}

func (w *recordWriter) writeInt32(i int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(i))
	w.buf = append(w.buf, b[:]...)
}

func (w *recordWriter) writeInt64(i int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	w.buf = append(w.buf, b[:]...)
}

func (w *recordWriter) writeFloat32(f float32) {
	w.writeInt32(int32(math.Float32bits(f)))
}

func (w *recordWriter) writeFloat64(f float64) {
	w.writeInt64(int64(math.Float64bits(f)))
}

func (w *recordWriter) write(b []byte) {
	w.buf = append(w.buf, b...)
}

// recordReader reads big-endian primitives from a stream. The first error
// sticks; EOF after the first byte of a record becomes io.ErrUnexpectedEOF.
type recordReader struct {
	r     io.Reader
	off   int
	limit int // declared record length, once known
	err   error
	tmp   [8]byte
}

// read returns the next n bytes, n at most 8, in a buffer reused by the
// next call.
func (r *recordReader) read(n int) []byte {
	b := r.tmp[:n]
	if r.err != nil {
		return b
	}
	m, err := io.ReadFull(r.r, b)
	r.off += m
	r.fail(err)
	return b
}

// fail records err unless a previous error is already set.
func (r *recordReader) fail(err error) {
	if err == nil || r.err != nil {
		return
	}
	if err == io.EOF && r.off > 0 {
		err = io.ErrUnexpectedEOF
	}
	r.err = err
}

func (r *recordReader) skip(align int) {
	for align > 1 && r.off%align != 0 && r.err == nil {
		r.read(1)
	}
}

func (r *recordReader) readInt8() int8 {
	return int8(r.read(1)[0])
}

func (r *recordReader) readInt16() int16 {
	return int16(binary.BigEndian.Uint16(r.read(2)))
}

func (r *recordReader) readInt32() int32 {
	return int32(binary.BigEndian.Uint32(r.read(4)))
}

func (r *recordReader) readInt64() int64 {
	return int64(binary.BigEndian.Uint64(r.read(8)))
}

func (r *recordReader) readFloat32() float32 {
	return math.Float32frombits(uint32(r.readInt32()))
}

func (r *recordReader) readFloat64() float64 {
	return math.Float64frombits(uint64(r.readInt64()))
}

// readBytes returns a copy of the next n bytes. Lengths come from the
// stream, so the buffer grows with the bytes actually read rather than
// being sized by n up front.
func (r *recordReader) readBytes(n int) []byte {
	if n == 0 || r.err != nil {
		return []byte{}
	}
	var buf bytes.Buffer
	m, err := io.CopyN(&buf, r.r, int64(n))
	r.off += int(m)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	r.fail(err)
	return buf.Bytes()
}

// discard skips the next n bytes.
func (r *recordReader) discard(n int) {
	if n <= 0 || r.err != nil {
		return
	}
	m, err := io.CopyN(io.Discard, r.r, int64(n))
	r.off += int(m)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	r.fail(err)
}

// codecError converts a read failure into a codec error. io.EOF is only
// returned by callers, before anything of a record was read.
func codecError(err error) error {
	if err == io.ErrUnexpectedEOF {
		return errors.Wrap(gateway.NewErrCodec("unexpected end of stream in the middle of a record"), err.Error())
	}
	return errors.Wrap(err, "reading record")
}
