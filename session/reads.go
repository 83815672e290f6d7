package session

import (
	"context"
	"fmt"

	"github.com/chazu/flintdbg/wire"
)

// RawValue is an undecoded local or field read.
type RawValue struct {
	Size uint32 // byte size of the value, or of the object it refers to
	Bits uint64 // raw value, or a reference id
	Type string // runtime type descriptor, when the device sent one
}

func decodeRaw(cmd wire.Command, resp *wire.Response, wide bool) (RawValue, error) {
	r := resp.Reader()
	v := RawValue{Size: r.U32()}
	if wide {
		v.Bits = r.U64()
	} else {
		v.Bits = uint64(r.U32())
		if r.Len() > 0 {
			v.Type = r.Text()
		}
	}
	if err := r.Err(); err != nil {
		return RawValue{}, fmt.Errorf("%s: %w", cmd, err)
	}
	return v, nil
}

// ReadLocal reads local slot of frame. Wide selects a 64-bit read for
// long and double locals.
func (s *Session) ReadLocal(ctx context.Context, frame uint32, slot uint32, wide bool) (RawValue, error) {
	var w wire.Writer
	w.Bool(wide).U32(frame).U32(slot)
	resp, err := s.call(ctx, wire.CmdReadLocal, w.Bytes(), s.timeouts.Default)
	if err != nil {
		return RawValue{}, err
	}
	return decodeRaw(wire.CmdReadLocal, resp, wide)
}

// ReadField reads field name of the object ref.
func (s *Session) ReadField(ctx context.Context, ref uint32, name string, wide bool) (RawValue, error) {
	var w wire.Writer
	w.U32(ref).Text(name)
	if err := w.Err(); err != nil {
		return RawValue{}, err
	}
	resp, err := s.call(ctx, wire.CmdReadField, w.Bytes(), s.timeouts.Default)
	if err != nil {
		return RawValue{}, err
	}
	return decodeRaw(wire.CmdReadField, resp, wide)
}

// ReadArray reads length elements of array ref starting at index. The
// result is the packed element bytes.
func (s *Session) ReadArray(ctx context.Context, ref, index, length uint32) ([]byte, error) {
	var w wire.Writer
	w.U24(length).U32(index).U32(ref)
	resp, err := s.call(ctx, wire.CmdReadArray, w.Bytes(), s.timeouts.Default)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// ReadSizeAndType returns the byte size and type descriptor of ref.
func (s *Session) ReadSizeAndType(ctx context.Context, ref uint32) (uint32, string, error) {
	resp, err := s.call(ctx, wire.CmdReadSizeAndType, new(wire.Writer).U32(ref).Bytes(), s.timeouts.Default)
	if err != nil {
		return 0, "", err
	}
	r := resp.Reader()
	size := r.U32()
	typ := r.Text()
	if err := r.Err(); err != nil {
		return 0, "", fmt.Errorf("%s: %w", wire.CmdReadSizeAndType, err)
	}
	return size, typ, nil
}
