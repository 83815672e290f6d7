package classfile

import "strings"

var primitiveNames = map[byte]string{
	'Z': "boolean",
	'C': "char",
	'F': "float",
	'D': "double",
	'B': "byte",
	'S': "short",
	'I': "int",
	'J': "long",
	'V': "void",
}

// IsPrimitive reports whether desc is a single-character primitive
// descriptor (Z C F D B S I J).
func IsPrimitive(desc string) bool {
	if len(desc) != 1 {
		return false
	}
	switch desc[0] {
	case 'Z', 'C', 'F', 'D', 'B', 'S', 'I', 'J':
		return true
	}
	return false
}

// IsArray reports whether desc describes an array type.
func IsArray(desc string) bool {
	return strings.HasPrefix(desc, "[")
}

// IsWide reports whether values of desc occupy 8 bytes on the wire.
func IsWide(desc string) bool {
	return desc == "J" || desc == "D"
}

// ElementType strips one array dimension from desc.
func ElementType(arrayDesc string) string {
	return strings.TrimPrefix(arrayDesc, "[")
}

// ElementSize returns the packed byte size of one element of arrayDesc.
func ElementSize(arrayDesc string) int {
	switch ElementType(arrayDesc) {
	case "Z", "B":
		return 1
	case "C", "S":
		return 2
	case "J", "D":
		return 8
	default:
		return 4
	}
}

// ClassNameOf turns an object descriptor ("Lpkg/Name;") into its class
// name. Anything else is returned unchanged.
func ClassNameOf(desc string) string {
	if len(desc) >= 2 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// SimpleNames decodes a run of field descriptors into readable type
// names, e.g. "I[Ljava/lang/String;" -> ["int", "java/lang/String[]"].
func SimpleNames(desc string) []string {
	var out []string
	for i := 0; i < len(desc); {
		dims := 0
		for i < len(desc) && desc[i] == '[' {
			dims++
			i++
		}
		if i >= len(desc) {
			break
		}
		var name string
		if desc[i] == 'L' {
			end := strings.IndexByte(desc[i:], ';')
			if end < 0 {
				name = desc[i+1:]
				i = len(desc)
			} else {
				name = desc[i+1 : i+end]
				i += end + 1
			}
		} else {
			if n, ok := primitiveNames[desc[i]]; ok {
				name = n
			} else {
				name = desc[i : i+1]
			}
			i++
		}
		out = append(out, name+strings.Repeat("[]", dims))
	}
	return out
}

// ShortName drops the package qualifier from a slash- or dot-separated
// class name.
func ShortName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// MethodDisplayName formats a frame label such as "Main.run(int, String)".
func MethodDisplayName(className, method, descriptor string) string {
	var b strings.Builder
	b.WriteString(ShortName(className))
	b.WriteByte('.')
	b.WriteString(method)
	b.WriteByte('(')
	params := descriptor
	if lp, rp := strings.IndexByte(descriptor, '('), strings.LastIndexByte(descriptor, ')'); lp >= 0 && rp > lp {
		params = descriptor[lp+1 : rp]
	}
	for i, n := range SimpleNames(params) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ShortName(n))
	}
	b.WriteByte(')')
	return b.String()
}
