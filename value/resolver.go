package value

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/tliron/commonlog"

	"github.com/chazu/flintdbg/classfile"
	"github.com/chazu/flintdbg/loader"
	"github.com/chazu/flintdbg/session"
)

var log = commonlog.GetLogger("flintdbg.value")

var (
	// ErrUnknownReference is returned for a reference that was never seen
	// during the current stop and that the device does not know either.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrNoSuchField is returned when a class has no field of that name.
	ErrNoSuchField = errors.New("no such field")
	// ErrNotComposite is returned when expanding a primitive or null.
	ErrNotComposite = errors.New("value has no children")
)

// Device is the read surface of a debug session. *session.Session
// satisfies it.
type Device interface {
	ReadLocal(ctx context.Context, frame, slot uint32, wide bool) (session.RawValue, error)
	ReadField(ctx context.Context, ref uint32, name string, wide bool) (session.RawValue, error)
	ReadArray(ctx context.Context, ref, index, length uint32) ([]byte, error)
	ReadSizeAndType(ctx context.Context, ref uint32) (uint32, string, error)
	Frame(ctx context.Context, id uint32) (*session.StackFrame, error)
	Generation() uint64
}

var _ Device = (*session.Session)(nil)

// Resolver decodes remote values and remembers every reference it has
// handed out until the device resumes.
type Resolver struct {
	dev Device
	reg *loader.Registry

	mu   sync.Mutex
	gen  uint64
	refs map[uint32]*Variable
}

// NewResolver returns a resolver reading through dev and loading class
// metadata from reg.
func NewResolver(dev Device, reg *loader.Registry) *Resolver {
	return &Resolver{
		dev:  dev,
		reg:  reg,
		gen:  dev.Generation(),
		refs: map[uint32]*Variable{},
	}
}

// sync drops every memoised reference once the device has moved on.
func (r *Resolver) sync() {
	gen := r.dev.Generation()
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		r.gen = gen
		clear(r.refs)
	}
}

func (r *Resolver) remember(vars ...*Variable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range vars {
		if v.Ref == 0 {
			continue
		}
		if _, ok := r.refs[v.Ref]; !ok {
			r.refs[v.Ref] = v
		}
	}
}

// Lookup returns the variable memoised for ref.
func (r *Resolver) Lookup(ref uint32) (*Variable, bool) {
	r.sync()
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.refs[ref]
	return v, ok
}

// lookupOrFetch falls back to asking the device for the reference's type.
func (r *Resolver) lookupOrFetch(ctx context.Context, ref uint32) (*Variable, error) {
	if v, ok := r.Lookup(ref); ok {
		return v, nil
	}
	if ref == 0 {
		return nil, fmt.Errorf("%w: null", ErrUnknownReference)
	}
	size, typ, err := r.dev.ReadSizeAndType(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %w", ErrUnknownReference, ref, err)
	}
	if classfile.IsPrimitive(typ) {
		return nil, fmt.Errorf("%w: %d is %s", ErrNotComposite, ref, typ)
	}
	v := r.reference(ctx, "", typ, ref, size)
	r.remember(v)
	return v, nil
}

// ----------------------------------------------------------------------------
// Locals
// ----------------------------------------------------------------------------

// ReadLocals reads every live local of frame. A local that cannot be
// read is reported as not available rather than failing the frame.
func (r *Resolver) ReadLocals(ctx context.Context, frameID uint32) ([]*Variable, error) {
	r.sync()
	frame, err := r.dev.Frame(ctx, frameID)
	if err != nil {
		return nil, err
	}
	out := make([]*Variable, 0, len(frame.Locals))
	for _, lv := range frame.Locals {
		v, err := r.ReadLocal(ctx, frame, lv)
		if err != nil {
			log.Debugf("local %s of frame %d: %s", lv.Name, frameID, err)
			v = unavailable(lv.Name, lv.Descriptor)
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadLocal reads one local variable of frame.
func (r *Resolver) ReadLocal(ctx context.Context, frame *session.StackFrame, lv classfile.LocalVariable) (*Variable, error) {
	raw, err := r.dev.ReadLocal(ctx, frame.ID, uint32(lv.Index), classfile.IsWide(lv.Descriptor))
	if err != nil {
		return nil, fmt.Errorf("read local %s: %w", lv.Name, err)
	}
	v := r.decode(ctx, lv.Name, lv.Descriptor, raw)
	r.remember(v)
	return v, nil
}

// ReadLocalByName reads the local called name in frame frameID.
func (r *Resolver) ReadLocalByName(ctx context.Context, frameID uint32, name string) (*Variable, error) {
	r.sync()
	frame, err := r.dev.Frame(ctx, frameID)
	if err != nil {
		return nil, err
	}
	lv, ok := frame.Local(name)
	if !ok {
		return nil, fmt.Errorf("no local %q in %s", name, frame.Name())
	}
	return r.ReadLocal(ctx, frame, lv)
}

// ----------------------------------------------------------------------------
// Fields and elements
// ----------------------------------------------------------------------------

// ReadField reads field of the object ref.
func (r *Resolver) ReadField(ctx context.Context, ref uint32, field *classfile.FieldInfo) (*Variable, error) {
	raw, err := r.dev.ReadField(ctx, ref, field.Name, classfile.IsWide(field.Descriptor))
	if err != nil {
		return nil, fmt.Errorf("read field %s: %w", field.Name, err)
	}
	v := r.decode(ctx, field.Name, field.Descriptor, raw)
	r.remember(v)
	return v, nil
}

// ReadFieldByName reads a named field of ref, or element i of an array
// when name has the form "[i]".
func (r *Resolver) ReadFieldByName(ctx context.Context, ref uint32, name string) (*Variable, error) {
	r.sync()
	owner, err := r.lookupOrFetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	if idx, ok := indexName(name); ok {
		if !classfile.IsArray(owner.Type) {
			return nil, fmt.Errorf("index %s on non-array %s", name, owner.Type)
		}
		elems, err := r.ReadArraySlice(ctx, ref, idx, 1, owner.Type)
		if err != nil {
			return nil, err
		}
		if len(elems) == 0 {
			return nil, fmt.Errorf("index %d out of range", idx)
		}
		return elems[0], nil
	}

	class, err := r.reg.Load(classfile.ClassNameOf(owner.Type))
	if err != nil {
		return nil, err
	}
	fields, err := class.FieldList(true)
	if err != nil {
		return nil, err
	}
	// The last match wins so a subclass field shadows its parent's.
	field, _, ok := lo.FindLastIndexOf(fields, func(f *classfile.FieldInfo) bool {
		return f.Name == name && !f.AccessFlags.IsStatic()
	})
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoSuchField, class.Name(), name)
	}
	return r.ReadField(ctx, ref, field)
}

func indexName(name string) (uint32, bool) {
	if !strings.HasPrefix(name, "[") || !strings.HasSuffix(name, "]") {
		return 0, false
	}
	i, err := strconv.ParseUint(name[1:len(name)-1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(i), true
}

// ReadArraySlice reads length elements of the array ref of type
// arrayDesc, starting at index. Elements are named "[i]".
func (r *Resolver) ReadArraySlice(ctx context.Context, ref, index, length uint32, arrayDesc string) ([]*Variable, error) {
	data, err := r.dev.ReadArray(ctx, ref, index, length)
	if err != nil {
		return nil, fmt.Errorf("read array %d[%d:%d]: %w", ref, index, index+length, err)
	}

	elem := classfile.ElementType(arrayDesc)
	size := classfile.ElementSize(arrayDesc)
	n := len(data) / size
	out := make([]*Variable, 0, n)
	for i := range n {
		name := "[" + strconv.Itoa(int(index)+i) + "]"
		b := data[i*size : (i+1)*size]
		v, err := r.element(ctx, name, elem, b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	r.remember(out...)
	return out, nil
}

func (r *Resolver) element(ctx context.Context, name, elem string, b []byte) (*Variable, error) {
	var bits uint64
	for i := len(b) - 1; i >= 0; i-- {
		bits = bits<<8 | uint64(b[i])
	}
	size := uint32(len(b))

	switch len(b) {
	case 1:
		if elem == "Z" {
			return &Variable{Name: name, Type: elem, Size: size, Value: Bool(bits != 0)}, nil
		}
		return &Variable{Name: name, Type: elem, Size: size, Value: Int(int8(bits))}, nil
	case 2:
		if elem == "C" {
			return &Variable{Name: name, Type: elem, Size: size, Value: Char(bits)}, nil
		}
		return &Variable{Name: name, Type: elem, Size: size, Value: Int(int16(bits))}, nil
	case 8:
		return &Variable{Name: name, Type: elem, Size: size, Value: decodePrimitive(elem, bits)}, nil
	}

	if classfile.IsPrimitive(elem) {
		return &Variable{Name: name, Type: elem, Size: size, Value: decodePrimitive(elem, bits)}, nil
	}
	ref := uint32(bits)
	if ref == 0 {
		return &Variable{Name: name, Type: elem, Value: Null{}}, nil
	}
	objSize, typ, err := r.dev.ReadSizeAndType(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", name, err)
	}
	return r.reference(ctx, name, typ, ref, objSize), nil
}

// ----------------------------------------------------------------------------
// Expansion
// ----------------------------------------------------------------------------

// Expand returns the children of ref: the instance fields of an object,
// parents first, or every element of an array. Children are fetched
// once per stop.
func (r *Resolver) Expand(ctx context.Context, ref uint32) ([]*Variable, error) {
	r.sync()
	v, err := r.lookupOrFetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	cached := v.children
	r.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var children []*Variable
	switch val := v.Value.(type) {
	case Array:
		children, err = r.ReadArraySlice(ctx, ref, 0, uint32(val.Len), v.Type)
	case Object, Text:
		children, err = r.fields(ctx, ref, classfile.ClassNameOf(v.Type))
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotComposite, v.Name)
	}
	if err != nil {
		return nil, err
	}
	if children == nil {
		children = []*Variable{}
	}

	r.mu.Lock()
	v.children = children
	r.mu.Unlock()
	return children, nil
}

func (r *Resolver) fields(ctx context.Context, ref uint32, className string) ([]*Variable, error) {
	class, err := r.reg.Load(className)
	if err != nil {
		return nil, err
	}
	fields, err := class.FieldList(true)
	if err != nil {
		return nil, err
	}
	var out []*Variable
	for _, f := range fields {
		if f.AccessFlags.IsStatic() {
			continue
		}
		v, err := r.ReadField(ctx, ref, f)
		if err != nil {
			log.Debugf("field %s of %d: %s", f.Name, ref, err)
			v = unavailable(f.Name, f.Descriptor)
		}
		out = append(out, v)
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Decoding
// ----------------------------------------------------------------------------

func (r *Resolver) decode(ctx context.Context, name, declared string, raw session.RawValue) *Variable {
	if classfile.IsPrimitive(declared) {
		return &Variable{Name: name, Type: declared, Size: raw.Size, Value: decodePrimitive(declared, raw.Bits)}
	}
	typ := declared
	if raw.Type != "" {
		typ = raw.Type
	}
	return r.reference(ctx, name, typ, uint32(raw.Bits), raw.Size)
}

// reference builds the variable for a live reference, reconstructing
// strings and string builders.
func (r *Resolver) reference(ctx context.Context, name, typ string, ref, size uint32) *Variable {
	v := &Variable{Name: name, Type: typ, Size: size, Ref: ref, Value: reference(typ, ref, size)}
	if _, ok := v.Value.(Object); ok {
		if s, ok := r.text(ctx, ref, classfile.ClassNameOf(typ)); ok {
			v.Value = Text(s)
		}
	}
	return v
}
