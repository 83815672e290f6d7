package loader

import (
	"fmt"
	"path"
	"sync"

	"github.com/spf13/afero"

	"github.com/chazu/flintdbg/classfile"
)

// Class is a parsed class bound to the registry that loaded it.
type Class struct {
	*classfile.ClassFile
	reg *Registry

	sourceOnce sync.Once
	sourcePath string

	linesOnce sync.Once
	lines     []LineInfo
	linesErr  error
}

// Name returns the slash-separated class name.
func (c *Class) Name() string {
	return c.ThisClass
}

// FieldList returns the declared fields. With includeParent the
// superclass chain is walked and its fields come first.
func (c *Class) FieldList(includeParent bool) ([]*classfile.FieldInfo, error) {
	if !includeParent || c.SuperClass == "" {
		return c.Fields, nil
	}
	parent, err := c.reg.Load(c.SuperClass)
	if err != nil {
		return nil, err
	}
	inherited, err := parent.FieldList(true)
	if err != nil {
		return nil, err
	}
	out := make([]*classfile.FieldInfo, 0, len(inherited)+len(c.Fields))
	out = append(out, inherited...)
	return append(out, c.Fields...), nil
}

// IsClassOf reports whether this class is parent or inherits from it.
func (c *Class) IsClassOf(parent string) (bool, error) {
	cur := c
	for {
		if cur.ThisClass == parent {
			return true, nil
		}
		if cur.SuperClass == "" {
			return false, nil
		}
		next, err := c.reg.Load(cur.SuperClass)
		if err != nil {
			return false, fmt.Errorf("resolve super of %s: %w", cur.ThisClass, err)
		}
		cur = next
	}
}

// SourcePath returns the location of the class's .java file, or "" when
// it cannot be found. Source-path directories are tried before Cwd; a
// module carrying the source under src/ yields the relative path.
func (c *Class) SourcePath() string {
	c.sourceOnce.Do(func() {
		c.sourcePath = c.reg.findSource(c.SourceFile)
		if c.sourcePath == "" {
			if data, _ := c.reg.readModuleEntry("src/" + c.ThisClass + ".java"); data != nil {
				c.sourcePath = c.SourceFile
				c.reg.sources.Add(c.ThisClass, string(data))
			}
		}
	})
	return c.sourcePath
}

// Source returns the text of the class's source file.
func (c *Class) Source() (string, error) {
	if text, ok := c.reg.sources.Get(c.ThisClass); ok {
		return text, nil
	}
	if p := c.reg.findSource(c.SourceFile); p != "" {
		data, err := afero.ReadFile(c.reg.fs, p)
		if err != nil {
			return "", fmt.Errorf("read source %s: %w", p, err)
		}
		c.reg.sources.Add(c.ThisClass, string(data))
		return string(data), nil
	}
	data, err := c.reg.readModuleEntry("src/" + c.ThisClass + ".java")
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", fmt.Errorf("no source for %s", c.ThisClass)
	}
	c.reg.sources.Add(c.ThisClass, string(data))
	return string(data), nil
}

func (r *Registry) findSource(rel string) string {
	dirs := r.cfg.SourcePath
	if r.cfg.Cwd != "" {
		dirs = append(dirs[:len(dirs):len(dirs)], r.cfg.Cwd)
	}
	for _, dir := range dirs {
		p := path.Join(dir, rel)
		if ok, _ := afero.Exists(r.fs, p); ok {
			return p
		}
	}
	return ""
}
