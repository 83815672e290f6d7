package loader

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/chazu/flintdbg/classfile"
)

// LineInfo ties a source line to a bytecode location.
type LineInfo struct {
	PC   uint32
	Line int
	// CodeLength is the number of bytecode bytes from PC to the start of
	// the next line entry (or the end of the method).
	CodeLength uint32
	Method     *classfile.MethodInfo
	Class      *Class
	SourcePath string
}

func (l LineInfo) String() string {
	return fmt.Sprintf("%s.%s%s:%d@%d", l.Class.ThisClass, l.Method.Name, l.Method.Descriptor, l.Line, l.PC)
}

// rowsByPC returns the method's line table ordered by start pc.
func rowsByPC(class string, m *classfile.MethodInfo) ([]classfile.LineNumber, error) {
	if !m.Code.HasLineNumbers() {
		return nil, fmt.Errorf("%w: %s.%s%s", ErrNoLineNumbers, class, m.Name, m.Descriptor)
	}
	rows := slices.Clone(m.Code.LineNumberTable)
	slices.SortStableFunc(rows, func(a, b classfile.LineNumber) int {
		return cmp.Compare(a.StartPC, b.StartPC)
	})
	return rows, nil
}

func nextPC(rows []classfile.LineNumber, i int, code []byte) uint32 {
	if i+1 < len(rows) {
		return uint32(rows[i+1].StartPC)
	}
	return uint32(len(code))
}

// AllLines returns one entry per line-table row across every method of
// the class and its inner classes, sorted by line. The result is cached.
func (c *Class) AllLines() ([]LineInfo, error) {
	c.linesOnce.Do(func() {
		c.lines, c.linesErr = c.collectLines()
	})
	return c.lines, c.linesErr
}

func (c *Class) collectLines() ([]LineInfo, error) {
	src := c.SourcePath()
	var out []LineInfo
	for _, m := range c.Methods {
		if m.Code == nil {
			continue
		}
		rows, err := rowsByPC(c.ThisClass, m)
		if err != nil {
			return nil, err
		}
		for i, row := range rows {
			out = append(out, LineInfo{
				PC:         uint32(row.StartPC),
				Line:       int(row.Line),
				CodeLength: nextPC(rows, i, m.Code.Code) - uint32(row.StartPC),
				Method:     m,
				Class:      c,
				SourcePath: src,
			})
		}
	}

	// Inner class names always extend the outer name, so this cannot cycle.
	for _, name := range c.InnerClasses {
		inner, err := c.reg.Load(name)
		if err != nil {
			return nil, err
		}
		lines, err := inner.AllLines()
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}

	slices.SortStableFunc(out, func(a, b LineInfo) int {
		return cmp.Compare(a.Line, b.Line)
	})
	return out, nil
}

// ResolveLineToPC finds the first bytecode location at or after line in
// the class compiled from srcPath.
func (r *Registry) ResolveLineToPC(line int, srcPath string) (LineInfo, error) {
	name, err := r.ClassNameFromSource(srcPath)
	if err != nil {
		return LineInfo{}, err
	}
	c, err := r.Load(name)
	if err != nil {
		return LineInfo{}, err
	}
	lines, err := c.AllLines()
	if err != nil {
		return LineInfo{}, err
	}
	i, _ := slices.BinarySearchFunc(lines, line, func(l LineInfo, want int) int {
		return cmp.Compare(l.Line, want)
	})
	if i == len(lines) {
		return LineInfo{}, fmt.Errorf("%w: %s:%d", ErrLineNotFound, srcPath, line)
	}
	info := lines[i]
	info.SourcePath = srcPath
	return info, nil
}

// ResolvePCToLine maps a pc inside a method to the nearest line entry at
// or below it.
func (r *Registry) ResolvePCToLine(pc uint32, className, method, descriptor string) (LineInfo, error) {
	c, err := r.Load(className)
	if err != nil {
		return LineInfo{}, err
	}
	m := c.Method(method, descriptor)
	if m == nil || m.Code == nil {
		return LineInfo{}, fmt.Errorf("%w: %s.%s%s has no code", ErrLineNotFound, className, method, descriptor)
	}
	rows, err := rowsByPC(className, m)
	if err != nil {
		return LineInfo{}, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if pc < uint32(rows[i].StartPC) {
			continue
		}
		var length uint32
		if end := nextPC(rows, i, m.Code.Code); end > pc {
			length = end - pc
		}
		return LineInfo{
			PC:         pc,
			Line:       int(rows[i].Line),
			CodeLength: length,
			Method:     m,
			Class:      c,
			SourcePath: c.SourcePath(),
		}, nil
	}
	return LineInfo{}, fmt.Errorf("%w: pc %d in %s.%s%s", ErrLineNotFound, pc, className, method, descriptor)
}
