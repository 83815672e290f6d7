package value

import (
	"context"
	"strings"
	"unicode/utf16"
)

const (
	stringClass  = "java/lang/String"
	builderClass = "java/lang/AbstractStringBuilder"
)

// text reconstructs the contents of ref when className is a String or a
// string builder. ok is false for any other class or on a failed read.
func (r *Resolver) text(ctx context.Context, ref uint32, className string) (string, bool) {
	class, err := r.reg.Load(className)
	if err != nil {
		return "", false
	}
	if is, _ := class.IsClassOf(stringClass); is {
		s, err := r.readText(ctx, ref, false)
		return s, err == nil
	}
	if is, _ := class.IsClassOf(builderClass); is {
		s, err := r.readText(ctx, ref, true)
		return s, err == nil
	}
	return "", false
}

// readText reads the coder and backing byte array of a string. A builder
// carries its length in count, in characters; a string uses the whole
// array.
func (r *Resolver) readText(ctx context.Context, ref uint32, builder bool) (string, error) {
	coder, err := r.dev.ReadField(ctx, ref, "coder", false)
	if err != nil {
		return "", err
	}
	value, err := r.dev.ReadField(ctx, ref, "value", false)
	if err != nil {
		return "", err
	}
	if value.Bits == 0 {
		return "", ErrUnknownReference
	}
	data, err := r.dev.ReadArray(ctx, uint32(value.Bits), 0, value.Size)
	if err != nil {
		return "", err
	}

	shift := uint(coder.Bits & 0xFF)
	count := len(data)
	if builder {
		n, err := r.dev.ReadField(ctx, ref, "count", false)
		if err != nil {
			return "", err
		}
		count = max(0, min(int(int32(n.Bits))<<shift, len(data)))
	}
	return decodeText(data[:count], shift != 0), nil
}

// decodeText decodes Latin-1 bytes, or UTF-16LE when wide.
func decodeText(b []byte, wide bool) string {
	if !wide {
		var sb strings.Builder
		sb.Grow(len(b))
		for _, c := range b {
			sb.WriteRune(rune(c))
		}
		return sb.String()
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return string(utf16.Decode(units))
}
