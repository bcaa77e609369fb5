package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxStringLength is the largest byte length a 16-bit length prefix can carry.
const MaxStringLength = math.MaxUint16

// Writer appends big-endian fields to a single packet buffer.
// The first failing write records an error; later writes are no-ops.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a Writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Byte appends a single unsigned byte.
func (w *Writer) Byte(v byte) *Writer {
	if w.err == nil {
		w.buf = append(w.buf, v)
	}
	return w
}

// Int8 appends a signed byte.
func (w *Writer) Int8(v int8) *Writer {
	return w.Byte(byte(v))
}

// Bool appends 1 for true and 0 for false.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Byte(1)
	}
	return w.Byte(0)
}

// Int16 appends a big-endian int16.
func (w *Writer) Int16(v int16) *Writer {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
	}
	return w
}

// Int32 appends a big-endian int32.
func (w *Writer) Int32(v int32) *Writer {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
	}
	return w
}

// Int64 appends a big-endian int64.
func (w *Writer) Int64(v int64) *Writer {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
	}
	return w
}

// Float32 appends an IEEE 754 float32 in big-endian order.
func (w *Writer) Float32(v float32) *Writer {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v))
	}
	return w
}

// Float64 appends an IEEE 754 float64 in big-endian order.
func (w *Writer) Float64(v float64) *Writer {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
	}
	return w
}

// String appends s with a 16-bit big-endian byte-length prefix and no terminator.
// The content is written as-is; no UTF-8 validation is performed.
func (w *Writer) String(s string) *Writer {
	if w.err != nil {
		return w
	}
	if len(s) > MaxStringLength {
		w.err = fmt.Errorf("string of %d bytes exceeds %d: %w", len(s), MaxStringLength, ErrInvalidArgument)
		return w
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// Bytes32 appends b with a 32-bit big-endian length prefix.
func (w *Writer) Bytes32(b []byte) *Writer {
	if w.err != nil {
		return w
	}
	if len(b) > math.MaxInt32 {
		w.err = fmt.Errorf("payload of %d bytes exceeds %d: %w", len(b), math.MaxInt32, ErrInvalidArgument)
		return w
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// Fail records err unless an earlier error is already recorded.
func (w *Writer) Fail(err error) *Writer {
	if w.err == nil {
		w.err = err
	}
	return w
}

// Bytes returns the encoded packet, or the first error recorded.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}
