package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrShortPayload   = errors.New("payload too short")
	ErrStringChecksum = errors.New("string checksum mismatch")
	ErrStringTooLong  = errors.New("string too long")
)

// Writer builds a little-endian request payload. The first error sticks.
type Writer struct {
	buf []byte
	err error
}

// Err returns the first encoding error.
func (w *Writer) Err() error { return w.err }

func (w *Writer) U8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.U8(1)
	}
	return w.U8(0)
}

func (w *Writer) U16(v uint16) *Writer {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

// U24 writes the low three bytes of v.
func (w *Writer) U24(v uint32) *Writer {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
	return w
}

func (w *Writer) U32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) U64(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

// Text writes a string as length, checksum, the bytes and a trailing NUL.
func (w *Writer) Text(s string) *Writer {
	if len(s) > math.MaxUint16 {
		if w.err == nil {
			w.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		}
		return w
	}
	w.U16(uint16(len(s)))
	w.U16(Checksum([]byte(s)))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
	return w
}

func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader decodes a little-endian payload. The first error sticks.
type Reader struct {
	data []byte
	pos  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decoding error.
func (r *Reader) Err() error { return r.err }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.data) - r.pos }

// Offset returns the read position.
func (r *Reader) Offset() int { return r.pos }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d at offset %d, have %d", ErrShortPayload, n, r.pos, len(r.data)-r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) U8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) U16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) U24() uint32 {
	if b := r.take(3); b != nil {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	}
	return 0
}

func (r *Reader) U32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) U64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Text reads a string written by Writer.Text and validates its checksum.
func (r *Reader) Text() string {
	n := int(r.U16())
	sum := r.U16()
	b := r.take(n)
	if r.err != nil {
		return ""
	}
	if Checksum(b) != sum {
		r.err = fmt.Errorf("%w at offset %d", ErrStringChecksum, r.pos-n)
		return ""
	}
	// The NUL terminator may be omitted on the last field.
	if r.Len() > 0 {
		r.pos++
	}
	return string(b)
}

// Rest returns every unread byte.
func (r *Reader) Rest() []byte {
	return r.take(r.Len())
}
