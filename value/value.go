// Package value turns raw local, field and array reads into typed,
// displayable variables, expanding objects and arrays on demand and
// reconstructing remote strings.
package value

import (
	"math"
	"strconv"
	"strings"

	"github.com/chazu/flintdbg/classfile"
)

// NotAvailable is shown for anything that could not be read.
const NotAvailable = "not available"

// Value is a decoded remote value. The set of implementations is closed.
type Value interface {
	String() string
	value()
}

type (
	// Bool is a boolean primitive.
	Bool bool
	// Char is a char primitive.
	Char uint16
	// Int holds byte, short, int and long primitives.
	Int int64
	// Float32 is a float primitive.
	Float32 float32
	// Float64 is a double primitive.
	Float64 float64
	// Text is a reconstructed String or StringBuilder.
	Text string
	// Null is a zero reference.
	Null struct{}
	// Object is a live non-array reference.
	Object struct{ Class string }
	// Array is a live array reference.
	Array struct {
		Elem string // element descriptor
		Len  int
	}
	// Unavailable marks a failed read.
	Unavailable struct{}
)

func (Bool) value()        {}
func (Char) value()        {}
func (Int) value()         {}
func (Float32) value()     {}
func (Float64) value()     {}
func (Text) value()        {}
func (Null) value()        {}
func (Object) value()      {}
func (Array) value()       {}
func (Unavailable) value() {}

func (v Bool) String() string    { return strconv.FormatBool(bool(v)) }
func (v Char) String() string    { return "'" + string(rune(v)) + "'" }
func (v Int) String() string     { return strconv.FormatInt(int64(v), 10) }
func (v Float32) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
func (v Float64) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (Null) String() string      { return "null" }

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func (v Text) String() string { return `"` + quoter.Replace(string(v)) + `"` }

func (v Object) String() string {
	return classfile.ShortName(v.Class)
}

func (v Array) String() string {
	names := classfile.SimpleNames(v.Elem)
	elem := v.Elem
	if len(names) > 0 {
		elem = classfile.ShortName(names[0])
	}
	return elem + "[" + strconv.Itoa(v.Len) + "]"
}

func (Unavailable) String() string { return NotAvailable }

// decodePrimitive reinterprets raw wire bits per descriptor.
func decodePrimitive(desc string, bits uint64) Value {
	switch desc {
	case "Z":
		return Bool(bits != 0)
	case "C":
		return Char(uint16(bits))
	case "F":
		return Float32(math.Float32frombits(uint32(bits)))
	case "D":
		return Float64(math.Float64frombits(bits))
	case "J":
		return Int(int64(bits))
	default:
		return Int(int32(uint32(bits)))
	}
}

// reference classifies a non-primitive value of type desc.
func reference(desc string, ref, size uint32) Value {
	switch {
	case ref == 0:
		return Null{}
	case classfile.IsArray(desc):
		return Array{Elem: classfile.ElementType(desc), Len: int(size) / classfile.ElementSize(desc)}
	default:
		return Object{Class: classfile.ClassNameOf(desc)}
	}
}

// Variable is a named remote value.
type Variable struct {
	Name  string
	Type  string // descriptor, the runtime type when the device reported one
	Size  uint32
	Ref   uint32 // non-zero for live objects and arrays
	Value Value

	children []*Variable
}

// Display renders the value the way a variables view shows it.
func (v *Variable) Display() string {
	if v.Value == nil {
		return NotAvailable
	}
	return v.Value.String()
}

// Expandable reports whether the variable has children to fetch.
func (v *Variable) Expandable() bool {
	return v.Ref != 0
}

func unavailable(name, desc string) *Variable {
	return &Variable{Name: name, Type: desc, Value: Unavailable{}}
}
