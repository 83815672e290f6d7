package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrBadMagic           = errors.New("bad magic")
	ErrTruncated          = errors.New("truncated class file")
	ErrUnknownConstantTag = errors.New("unknown constant pool tag")
	ErrNoSourceFile       = errors.New("no source file information available")
	ErrBadReference       = errors.New("bad constant pool reference")
)

// ParseError reports where and why a class file could not be decoded.
type ParseError struct {
	Offset int
	Err    error
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("classfile: offset %d: %v: %s", e.Offset, e.Err, e.Detail)
	}
	return fmt.Sprintf("classfile: offset %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// reader walks the buffer front to back. The first failure sticks and
// every later read returns zero values.
type reader struct {
	data []byte
	pos  int
	err  *ParseError
}

func (r *reader) fail(err error, format string, args ...any) {
	if r.err == nil {
		r.err = &ParseError{Offset: r.pos, Err: err, Detail: fmt.Sprintf(format, args...)}
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.fail(ErrTruncated, "need %d bytes, have %d", n, len(r.data)-r.pos)
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:])
	r.pos += n
	return b
}

func (r *reader) skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}

// parser carries the pool while members and attributes are decoded.
type parser struct {
	r    reader
	pool Pool
	this string
}

func (p *parser) utf8(i uint16) string {
	s, err := p.pool.Utf8(i)
	if err != nil {
		p.r.fail(ErrBadReference, "%v", err)
	}
	return s
}

func (p *parser) className(i uint16) string {
	s, err := p.pool.ClassName(i)
	if err != nil {
		p.r.fail(ErrBadReference, "%v", err)
	}
	return s
}

// Parse decodes one class file.
func Parse(data []byte) (*ClassFile, error) {
	p := &parser{r: reader{data: data}}
	cf := &ClassFile{}

	cf.Magic = p.r.u32()
	if p.r.err == nil && cf.Magic != Magic {
		p.r.pos = 0
		p.r.fail(ErrBadMagic, "got %#08x", cf.Magic)
	}
	cf.MinorVersion = p.r.u16()
	cf.MajorVersion = p.r.u16()

	p.parsePool()
	if p.r.err != nil {
		return nil, p.r.err
	}
	cf.Pool = p.pool

	cf.AccessFlags = AccessFlags(p.r.u16())
	cf.ThisClass = p.className(p.r.u16())
	p.this = cf.ThisClass
	if super := p.r.u16(); super != 0 {
		cf.SuperClass = p.className(super)
	}
	cf.InterfacesCount = p.r.u16()
	p.r.skip(int(cf.InterfacesCount) * 2)

	cf.Fields = p.parseFields()
	cf.Methods = p.parseMethods()

	sourceCount := 0
	for n := p.r.u16(); n > 0 && p.r.err == nil; n-- {
		switch a := p.parseAttribute().(type) {
		case sourceFileAttr:
			sourceCount++
			cf.SourceFile = path.Join(cf.PackageName(), string(a))
		case innerClassesAttr:
			cf.InnerClasses = a
		}
	}
	if p.r.err != nil {
		return nil, p.r.err
	}
	if sourceCount != 1 {
		return nil, &ParseError{Offset: p.r.pos, Err: ErrNoSourceFile,
			Detail: fmt.Sprintf("%s has %d SourceFile attributes", cf.ThisClass, sourceCount)}
	}
	return cf, nil
}

// parsePool reads count-1 entries. Long and double constants take two
// slots, so the loop index advances an extra step and a placeholder is
// stored to keep later 1-based indices aligned.
func (p *parser) parsePool() {
	count := int(p.r.u16()) - 1
	p.pool = make(Pool, 0, max(count, 0))
	for i := 0; i < count && p.r.err == nil; i++ {
		start := p.r.pos
		tag := ConstantTag(p.r.u8())
		switch tag {
		case TagUtf8:
			n := p.r.u16()
			p.pool = append(p.pool, &ConstantUtf8{Value: string(p.r.bytes(int(n)))})
		case TagInteger:
			p.pool = append(p.pool, &ConstantInteger{Bits: p.r.u32()})
		case TagFloat:
			p.pool = append(p.pool, &ConstantFloat{Bits: p.r.u32()})
		case TagLong:
			p.pool = append(p.pool, &ConstantLong{Bits: p.r.u64()}, &ConstantPlaceholder{})
			i++
		case TagDouble:
			p.pool = append(p.pool, &ConstantDouble{Bits: p.r.u64()}, &ConstantPlaceholder{})
			i++
		case TagClass:
			p.pool = append(p.pool, &ConstantClass{NameIndex: p.r.u16()})
		case TagString:
			p.pool = append(p.pool, &ConstantString{Utf8Index: p.r.u16()})
		case TagMethodType:
			p.pool = append(p.pool, &ConstantMethodType{DescriptorIndex: p.r.u16()})
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			p.pool = append(p.pool, &ConstantMemberRef{Kind: tag, ClassIndex: p.r.u16(), NameAndTypeIndex: p.r.u16()})
		case TagNameAndType:
			p.pool = append(p.pool, &ConstantNameAndType{NameIndex: p.r.u16(), DescriptorIndex: p.r.u16()})
		case TagInvokeDynamic:
			p.pool = append(p.pool, &ConstantInvokeDynamic{BootstrapIndex: p.r.u16(), NameAndTypeIndex: p.r.u16()})
		case TagMethodHandle:
			p.pool = append(p.pool, &ConstantMethodHandle{ReferenceKind: p.r.u8(), ReferenceIndex: p.r.u16()})
		default:
			p.r.pos = start
			p.r.fail(ErrUnknownConstantTag, "tag %d at pool index %d", tag, i+1)
		}
	}
}

func (p *parser) parseFields() []*FieldInfo {
	n := p.r.u16()
	fields := make([]*FieldInfo, 0, n)
	for ; n > 0 && p.r.err == nil; n-- {
		f := &FieldInfo{AccessFlags: AccessFlags(p.r.u16())}
		f.Name = p.utf8(p.r.u16())
		f.Descriptor = p.utf8(p.r.u16())
		for a := p.r.u16(); a > 0 && p.r.err == nil; a-- {
			if cv, ok := p.parseAttribute().(constantValueAttr); ok {
				f.ConstantValue = cv.entry
			}
		}
		fields = append(fields, f)
	}
	return fields
}

func (p *parser) parseMethods() []*MethodInfo {
	n := p.r.u16()
	methods := make([]*MethodInfo, 0, n)
	for ; n > 0 && p.r.err == nil; n-- {
		m := &MethodInfo{AccessFlags: AccessFlags(p.r.u16())}
		m.Name = p.utf8(p.r.u16())
		m.Descriptor = p.utf8(p.r.u16())
		for a := p.r.u16(); a > 0 && p.r.err == nil; a-- {
			if code, ok := p.parseAttribute().(*CodeAttribute); ok && m.Code == nil {
				m.Code = code
			}
		}
		if m.AccessFlags.IsNative() {
			continue
		}
		methods = append(methods, m)
	}
	return methods
}

// Decoded attribute kinds. parseAttribute returns nil for skipped ones.
type (
	attribute          interface{}
	lineNumbersAttr    []LineNumber
	localVariablesAttr []LocalVariable
	sourceFileAttr     string
	innerClassesAttr   []string
	constantValueAttr  struct{ entry ConstantPoolEntry }
)

func (p *parser) parseAttribute() attribute {
	name := p.utf8(p.r.u16())
	length := int(p.r.u32())
	if !p.r.need(length) {
		return nil
	}
	end := p.r.pos + length

	var attr attribute
	switch name {
	case attrCode:
		attr = p.parseCode()
	case attrLineNumberTable:
		n := p.r.u16()
		rows := make(lineNumbersAttr, 0, n)
		for ; n > 0; n-- {
			rows = append(rows, LineNumber{StartPC: p.r.u16(), Line: p.r.u16()})
		}
		attr = rows
	case attrLocalVariableTable:
		n := p.r.u16()
		rows := make(localVariablesAttr, 0, n)
		for ; n > 0 && p.r.err == nil; n-- {
			v := LocalVariable{StartPC: p.r.u16(), Length: p.r.u16()}
			v.Name = p.utf8(p.r.u16())
			v.Descriptor = p.utf8(p.r.u16())
			v.Index = p.r.u16()
			rows = append(rows, v)
		}
		attr = rows
	case attrConstantValue:
		e, err := p.pool.Entry(p.r.u16())
		if err != nil {
			p.r.fail(ErrBadReference, "%v", err)
		}
		attr = constantValueAttr{entry: e}
	case attrSourceFile:
		attr = sourceFileAttr(p.utf8(p.r.u16()))
	case attrInnerClasses:
		attr = p.parseInnerClasses()
	}
	if p.r.err != nil {
		return nil
	}
	if p.r.pos > end {
		p.r.fail(ErrTruncated, "attribute %s overruns its declared length %d", name, length)
		return nil
	}
	p.r.pos = end
	return attr
}

func (p *parser) parseCode() *CodeAttribute {
	c := &CodeAttribute{MaxStack: p.r.u16(), MaxLocals: p.r.u16()}
	c.Code = p.r.bytes(int(p.r.u32()))
	// start_pc, end_pc, handler_pc, catch_type
	p.r.skip(int(p.r.u16()) * 8)
	for n := p.r.u16(); n > 0 && p.r.err == nil; n-- {
		switch a := p.parseAttribute().(type) {
		case lineNumbersAttr:
			if c.LineNumberTable == nil {
				c.LineNumberTable = a
			}
		case localVariablesAttr:
			c.LocalVariableTable = append(c.LocalVariableTable, a...)
		}
	}
	return c
}

// parseInnerClasses keeps only classes nested inside this one.
func (p *parser) parseInnerClasses() innerClassesAttr {
	n := p.r.u16()
	var names innerClassesAttr
	for ; n > 0 && p.r.err == nil; n-- {
		inner := p.r.u16()
		p.r.skip(6) // outer_class_info, inner_name, access flags
		name := p.className(inner)
		if strings.HasPrefix(name, p.this+"$") {
			names = append(names, name)
		}
	}
	return names
}
