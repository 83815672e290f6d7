package classfile

import (
	"fmt"
	"math"
)

// ConstantPoolEntry is one slot of the constant pool. The set of
// implementations is closed; use a type switch to match on kind.
type ConstantPoolEntry interface {
	Tag() ConstantTag
	isConstant()
}

type ConstantUtf8 struct {
	Value string
}

// ConstantInteger holds the raw bits of an int constant.
type ConstantInteger struct {
	Bits uint32
}

// ConstantFloat holds the raw IEEE754 bits of a float constant.
type ConstantFloat struct {
	Bits uint32
}

// ConstantLong holds the raw bits of a long constant.
type ConstantLong struct {
	Bits uint64
}

// ConstantDouble holds the raw IEEE754 bits of a double constant.
type ConstantDouble struct {
	Bits uint64
}

type ConstantClass struct {
	NameIndex uint16
}

type ConstantString struct {
	Utf8Index uint16
}

type ConstantMethodType struct {
	DescriptorIndex uint16
}

// ConstantMemberRef covers Fieldref, Methodref and InterfaceMethodref;
// Kind carries which one it was.
type ConstantMemberRef struct {
	Kind             ConstantTag
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

type ConstantInvokeDynamic struct {
	BootstrapIndex   uint16
	NameAndTypeIndex uint16
}

type ConstantMethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

// ConstantPlaceholder occupies the slot following a long or double.
type ConstantPlaceholder struct{}

func (*ConstantUtf8) Tag() ConstantTag          { return TagUtf8 }
func (*ConstantInteger) Tag() ConstantTag       { return TagInteger }
func (*ConstantFloat) Tag() ConstantTag         { return TagFloat }
func (*ConstantLong) Tag() ConstantTag          { return TagLong }
func (*ConstantDouble) Tag() ConstantTag        { return TagDouble }
func (*ConstantClass) Tag() ConstantTag         { return TagClass }
func (*ConstantString) Tag() ConstantTag        { return TagString }
func (*ConstantMethodType) Tag() ConstantTag    { return TagMethodType }
func (c *ConstantMemberRef) Tag() ConstantTag   { return c.Kind }
func (*ConstantNameAndType) Tag() ConstantTag   { return TagNameAndType }
func (*ConstantInvokeDynamic) Tag() ConstantTag { return TagInvokeDynamic }
func (*ConstantMethodHandle) Tag() ConstantTag  { return TagMethodHandle }
func (*ConstantPlaceholder) Tag() ConstantTag   { return tagPlaceholder }

func (*ConstantUtf8) isConstant()          {}
func (*ConstantInteger) isConstant()       {}
func (*ConstantFloat) isConstant()         {}
func (*ConstantLong) isConstant()          {}
func (*ConstantDouble) isConstant()        {}
func (*ConstantClass) isConstant()         {}
func (*ConstantString) isConstant()        {}
func (*ConstantMethodType) isConstant()    {}
func (*ConstantMemberRef) isConstant()     {}
func (*ConstantNameAndType) isConstant()   {}
func (*ConstantInvokeDynamic) isConstant() {}
func (*ConstantMethodHandle) isConstant()  {}
func (*ConstantPlaceholder) isConstant()   {}

// Int returns the signed value of an integer constant.
func (c *ConstantInteger) Int() int32 { return int32(c.Bits) }

// Float returns the decoded value of a float constant.
func (c *ConstantFloat) Float() float32 { return math.Float32frombits(c.Bits) }

// Int returns the signed value of a long constant.
func (c *ConstantLong) Int() int64 { return int64(c.Bits) }

// Float returns the decoded value of a double constant.
func (c *ConstantDouble) Float() float64 { return math.Float64frombits(c.Bits) }

// Pool is the constant pool. Indexing is 1-based as in the class file;
// slot 0 is never valid.
type Pool []ConstantPoolEntry

// Len returns the logical pool count (one more than the highest index).
func (p Pool) Len() int { return len(p) + 1 }

// Entry returns the entry at the 1-based index i.
func (p Pool) Entry(i uint16) (ConstantPoolEntry, error) {
	if i == 0 || int(i) > len(p) {
		return nil, fmt.Errorf("constant pool index %d out of range [1,%d]", i, len(p))
	}
	return p[i-1], nil
}

// Utf8 returns the string stored at index i.
func (p Pool) Utf8(i uint16) (string, error) {
	e, err := p.Entry(i)
	if err != nil {
		return "", err
	}
	u, ok := e.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is tag %d, not Utf8", i, e.Tag())
	}
	return u.Value, nil
}

// ClassName resolves index i through its ClassRef to the class name.
func (p Pool) ClassName(i uint16) (string, error) {
	e, err := p.Entry(i)
	if err != nil {
		return "", err
	}
	c, ok := e.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is tag %d, not Class", i, e.Tag())
	}
	return p.Utf8(c.NameIndex)
}
