// Package classfile decodes class-file bytes into the metadata a remote
// debugger needs: members, constant pool, line and local-variable tables.
package classfile

import "strings"

// ClassFile is an immutable, parsed class.
type ClassFile struct {
	Magic        uint32
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  AccessFlags

	ThisClass  string
	SuperClass string // empty for the root class

	InterfacesCount uint16

	Pool    Pool
	Fields  []*FieldInfo
	Methods []*MethodInfo

	InnerClasses []string

	// SourceFile is the package-relative source path, slash separated
	// (e.g. "com/acme/Main.java").
	SourceFile string
}

// FieldInfo describes a declared field.
type FieldInfo struct {
	Name        string
	Descriptor  string
	AccessFlags AccessFlags

	// ConstantValue is the ConstantValue attribute target, nil if absent.
	ConstantValue ConstantPoolEntry
}

// MethodInfo describes a declared, non-native method.
type MethodInfo struct {
	Name        string
	Descriptor  string
	AccessFlags AccessFlags
	Code        *CodeAttribute // nil for abstract methods
}

// CodeAttribute holds a method body. The exception table is skipped.
type CodeAttribute struct {
	MaxStack  uint16
	MaxLocals uint16
	Code      []byte

	// LineNumberTable and LocalVariableTable are nil when the attribute
	// was not present.
	LineNumberTable    []LineNumber
	LocalVariableTable []LocalVariable
}

// LineNumber is one row of a LineNumberTable.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// LocalVariable is one row of a LocalVariableTable.
type LocalVariable struct {
	StartPC    uint16
	Length     uint16
	Index      uint16
	Name       string
	Descriptor string
}

// Covers reports whether the variable is live at pc.
func (v LocalVariable) Covers(pc uint32) bool {
	return uint32(v.StartPC) <= pc && pc < uint32(v.StartPC)+uint32(v.Length)
}

// HasLineNumbers reports whether a LineNumberTable was present.
func (c *CodeAttribute) HasLineNumbers() bool {
	return c.LineNumberTable != nil
}

// LocalsAt returns the local variables live at pc, in table order.
func (c *CodeAttribute) LocalsAt(pc uint32) []LocalVariable {
	var out []LocalVariable
	for _, v := range c.LocalVariableTable {
		if v.Covers(pc) {
			out = append(out, v)
		}
	}
	return out
}

// Method finds a method by name and descriptor.
func (cf *ClassFile) Method(name, descriptor string) *MethodInfo {
	for _, m := range cf.Methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m
		}
	}
	return nil
}

// Field finds a declared field by name. An empty descriptor matches any.
func (cf *ClassFile) Field(name, descriptor string) *FieldInfo {
	for _, f := range cf.Fields {
		if f.Name == name && (descriptor == "" || f.Descriptor == descriptor) {
			return f
		}
	}
	return nil
}

// PackageName returns the slash-separated package of the class.
func (cf *ClassFile) PackageName() string {
	if i := strings.LastIndexByte(cf.ThisClass, '/'); i > 0 {
		return cf.ThisClass[:i]
	}
	return ""
}

// SimpleName returns the class name without its package.
func (cf *ClassFile) SimpleName() string {
	return ShortName(cf.ThisClass)
}
