// Package classfiletest assembles small class files for tests.
package classfiletest

import (
	"encoding/binary"
	"math"

	"github.com/chazu/flintdbg/classfile"
)

// Builder accumulates a class definition and serializes it with
// classfile-format big-endian encoding.
type Builder struct {
	pool    [][]byte
	next    uint16
	utf8s   map[string]uint16
	classes map[string]uint16

	access     classfile.AccessFlags
	this       uint16
	super      uint16
	interfaces []uint16
	fields     []*Field
	methods    []*Method
	inner      []uint16
	sourceFile string
	omitSource bool
	extraAttrs int
}

// Field is a field under construction.
type Field struct {
	b          *Builder
	access     classfile.AccessFlags
	name, desc uint16
	constant   uint16
}

// Method is a method under construction.
type Method struct {
	b          *Builder
	access     classfile.AccessFlags
	name, desc uint16
	code       []byte
	hasCode    bool
	lines      [][2]uint16
	noLines    bool
	locals     [][5]uint16
	exceptions int
}

// New starts a class. An empty super means the class has no superclass.
func New(thisClass, superClass string) *Builder {
	b := &Builder{
		next:    1,
		utf8s:   make(map[string]uint16),
		classes: make(map[string]uint16),
		access:  classfile.AccPublic | classfile.AccSuper,
	}
	b.this = b.Class(thisClass)
	if superClass != "" {
		b.super = b.Class(superClass)
	}
	return b
}

func (b *Builder) add(entry []byte, slots uint16) uint16 {
	idx := b.next
	b.pool = append(b.pool, entry)
	b.next += slots
	return idx
}

// Utf8 interns s and returns its pool index.
func (b *Builder) Utf8(s string) uint16 {
	if i, ok := b.utf8s[s]; ok {
		return i
	}
	e := []byte{byte(classfile.TagUtf8)}
	e = binary.BigEndian.AppendUint16(e, uint16(len(s)))
	e = append(e, s...)
	i := b.add(e, 1)
	b.utf8s[s] = i
	return i
}

// Class interns a ClassRef for name and returns its pool index.
func (b *Builder) Class(name string) uint16 {
	if i, ok := b.classes[name]; ok {
		return i
	}
	u := b.Utf8(name)
	e := []byte{byte(classfile.TagClass)}
	e = binary.BigEndian.AppendUint16(e, u)
	i := b.add(e, 1)
	b.classes[name] = i
	return i
}

// Int adds an integer constant.
func (b *Builder) Int(v int32) uint16 {
	e := []byte{byte(classfile.TagInteger)}
	return b.add(binary.BigEndian.AppendUint32(e, uint32(v)), 1)
}

// Long adds a long constant, which occupies two pool slots.
func (b *Builder) Long(v int64) uint16 {
	e := []byte{byte(classfile.TagLong)}
	return b.add(binary.BigEndian.AppendUint64(e, uint64(v)), 2)
}

// Double adds a double constant, which occupies two pool slots.
func (b *Builder) Double(v float64) uint16 {
	e := []byte{byte(classfile.TagDouble)}
	return b.add(binary.BigEndian.AppendUint64(e, math.Float64bits(v)), 2)
}

// StringConst adds a String constant.
func (b *Builder) StringConst(s string) uint16 {
	u := b.Utf8(s)
	e := []byte{byte(classfile.TagString)}
	return b.add(binary.BigEndian.AppendUint16(e, u), 1)
}

// Raw appends an arbitrary pool entry (used to inject bad tags).
func (b *Builder) Raw(entry []byte) uint16 {
	return b.add(entry, 1)
}

// Access sets the class access flags.
func (b *Builder) Access(f classfile.AccessFlags) *Builder {
	b.access = f
	return b
}

// Interface records an implemented interface.
func (b *Builder) Interface(name string) *Builder {
	b.interfaces = append(b.interfaces, b.Class(name))
	return b
}

// SourceFile sets the SourceFile attribute.
func (b *Builder) SourceFile(name string) *Builder {
	b.sourceFile = name
	b.omitSource = false
	return b
}

// OmitSourceFile drops the SourceFile attribute.
func (b *Builder) OmitSourceFile() *Builder {
	b.omitSource = true
	return b
}

// UnknownAttribute adds an undecoded top-level attribute.
func (b *Builder) UnknownAttribute() *Builder {
	b.extraAttrs++
	return b
}

// Inner lists a nested class in the InnerClasses attribute.
func (b *Builder) Inner(name string) *Builder {
	b.inner = append(b.inner, b.Class(name))
	return b
}

// Field declares a field.
func (b *Builder) Field(access classfile.AccessFlags, name, desc string) *Field {
	f := &Field{b: b, access: access, name: b.Utf8(name), desc: b.Utf8(desc)}
	b.fields = append(b.fields, f)
	return f
}

// Constant attaches a ConstantValue attribute pointing at pool index idx.
func (f *Field) Constant(idx uint16) *Field {
	f.constant = idx
	return f
}

// Method declares a method. Code of codeLength bytes is attached unless
// the method is native or abstract.
func (b *Builder) Method(access classfile.AccessFlags, name, desc string, codeLength int) *Method {
	m := &Method{b: b, access: access, name: b.Utf8(name), desc: b.Utf8(desc)}
	if access&(classfile.AccNative|classfile.AccAbstract) == 0 {
		m.hasCode = true
		m.code = make([]byte, codeLength)
	}
	b.methods = append(b.methods, m)
	return m
}

// Line appends a LineNumberTable row.
func (m *Method) Line(startPC, line uint16) *Method {
	m.lines = append(m.lines, [2]uint16{startPC, line})
	return m
}

// NoLineNumbers omits the LineNumberTable attribute.
func (m *Method) NoLineNumbers() *Method {
	m.noLines = true
	return m
}

// Local appends a LocalVariableTable row.
func (m *Method) Local(startPC, length, slot uint16, name, desc string) *Method {
	m.locals = append(m.locals, [5]uint16{startPC, length, m.b.Utf8(name), m.b.Utf8(desc), slot})
	return m
}

// ExceptionHandlers adds n dummy exception table entries.
func (m *Method) ExceptionHandlers(n int) *Method {
	m.exceptions = n
	return m
}

func attr(b *Builder, name string, body []byte) []byte {
	out := binary.BigEndian.AppendUint16(nil, b.Utf8(name))
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

func (m *Method) codeAttr() []byte {
	b := m.b
	body := binary.BigEndian.AppendUint16(nil, 4)
	body = binary.BigEndian.AppendUint16(body, 8)
	body = binary.BigEndian.AppendUint32(body, uint32(len(m.code)))
	body = append(body, m.code...)
	body = binary.BigEndian.AppendUint16(body, uint16(m.exceptions))
	for i := 0; i < m.exceptions; i++ {
		body = append(body, make([]byte, 8)...)
	}
	var nested [][]byte
	if !m.noLines {
		t := binary.BigEndian.AppendUint16(nil, uint16(len(m.lines)))
		for _, l := range m.lines {
			t = binary.BigEndian.AppendUint16(t, l[0])
			t = binary.BigEndian.AppendUint16(t, l[1])
		}
		nested = append(nested, attr(b, "LineNumberTable", t))
	}
	if len(m.locals) > 0 {
		t := binary.BigEndian.AppendUint16(nil, uint16(len(m.locals)))
		for _, l := range m.locals {
			for _, v := range l {
				t = binary.BigEndian.AppendUint16(t, v)
			}
		}
		nested = append(nested, attr(b, "LocalVariableTable", t))
	}
	// An attribute the parser must skip by length.
	nested = append(nested, attr(b, "StackMapTable", []byte{0, 0, 0}))
	body = binary.BigEndian.AppendUint16(body, uint16(len(nested)))
	for _, n := range nested {
		body = append(body, n...)
	}
	return attr(b, "Code", body)
}

// Bytes serializes the class file.
func (b *Builder) Bytes() []byte {
	// Resolve every name first so the pool is complete before writing.
	var fieldAttrs [][][]byte
	for _, f := range b.fields {
		var attrs [][]byte
		if f.constant != 0 {
			attrs = append(attrs, attr(b, "ConstantValue", binary.BigEndian.AppendUint16(nil, f.constant)))
		}
		fieldAttrs = append(fieldAttrs, attrs)
	}
	var methodAttrs [][][]byte
	for _, m := range b.methods {
		var attrs [][]byte
		if m.hasCode {
			attrs = append(attrs, m.codeAttr())
		}
		methodAttrs = append(methodAttrs, attrs)
	}
	var top [][]byte
	if !b.omitSource {
		top = append(top, attr(b, "SourceFile", binary.BigEndian.AppendUint16(nil, b.Utf8(b.sourceFile))))
	}
	if len(b.inner) > 0 {
		t := binary.BigEndian.AppendUint16(nil, uint16(len(b.inner)))
		for _, i := range b.inner {
			t = binary.BigEndian.AppendUint16(t, i)
			t = binary.BigEndian.AppendUint16(t, b.this)
			t = binary.BigEndian.AppendUint16(t, 0)
			t = binary.BigEndian.AppendUint16(t, uint16(classfile.AccPublic))
		}
		top = append(top, attr(b, "InnerClasses", t))
	}
	for i := 0; i < b.extraAttrs; i++ {
		top = append(top, attr(b, "Deprecated", nil))
	}

	out := binary.BigEndian.AppendUint32(nil, classfile.Magic)
	out = binary.BigEndian.AppendUint16(out, 0)
	out = binary.BigEndian.AppendUint16(out, 52)
	out = binary.BigEndian.AppendUint16(out, b.next)
	for _, e := range b.pool {
		out = append(out, e...)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(b.access))
	out = binary.BigEndian.AppendUint16(out, b.this)
	out = binary.BigEndian.AppendUint16(out, b.super)
	out = binary.BigEndian.AppendUint16(out, uint16(len(b.interfaces)))
	for _, i := range b.interfaces {
		out = binary.BigEndian.AppendUint16(out, i)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(b.fields)))
	for i, f := range b.fields {
		out = binary.BigEndian.AppendUint16(out, uint16(f.access))
		out = binary.BigEndian.AppendUint16(out, f.name)
		out = binary.BigEndian.AppendUint16(out, f.desc)
		out = binary.BigEndian.AppendUint16(out, uint16(len(fieldAttrs[i])))
		for _, a := range fieldAttrs[i] {
			out = append(out, a...)
		}
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(b.methods)))
	for i, m := range b.methods {
		out = binary.BigEndian.AppendUint16(out, uint16(m.access))
		out = binary.BigEndian.AppendUint16(out, m.name)
		out = binary.BigEndian.AppendUint16(out, m.desc)
		out = binary.BigEndian.AppendUint16(out, uint16(len(methodAttrs[i])))
		for _, a := range methodAttrs[i] {
			out = append(out, a...)
		}
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(top)))
	for _, a := range top {
		out = append(out, a...)
	}
	return out
}
