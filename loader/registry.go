// Package loader locates class files on a classpath, caches their parsed
// form, and maps between source lines and bytecode offsets.
package loader

import (
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/tliron/commonlog"

	"github.com/chazu/flintdbg/classfile"
)

var log = commonlog.GetLogger("flintdbg.loader")

var (
	ErrClassNotFound = errors.New("class not found")
	ErrNoLineNumbers = errors.New("method has no LineNumberTable")
	ErrLineNotFound  = errors.New("no bytecode for line")
	ErrNotJavaSource = errors.New("not a java source file")
)

// DefaultSourceCacheSize bounds how many source texts stay in memory.
const DefaultSourceCacheSize = 64

// Config tells a Registry where to look for classes and sources.
type Config struct {
	// Cwd is searched first for class files.
	Cwd string
	// ClassPath directories are searched after Cwd.
	ClassPath []string
	// SourcePath directories hold the .java files.
	SourcePath []string
	// Modules are zip bundles searched last. They may carry sources
	// under src/.
	Modules []string
	// SourceCacheSize defaults to DefaultSourceCacheSize.
	SourceCacheSize int
}

// Registry owns the class cache for one debug session.
type Registry struct {
	fs  afero.Fs
	cfg Config

	mu      sync.Mutex
	classes map[string]*Class

	sources *lru.Cache[string, string]
}

// New creates a Registry reading from fs.
func New(fs afero.Fs, cfg Config) (*Registry, error) {
	size := cfg.SourceCacheSize
	if size <= 0 {
		size = DefaultSourceCacheSize
	}
	sources, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("source cache: %w", err)
	}

	cfg.Cwd = cleanDir(cfg.Cwd)
	cfg.ClassPath = cleanDirs(cfg.ClassPath)
	cfg.SourcePath = cleanDirs(cfg.SourcePath)

	return &Registry{
		fs:      fs,
		cfg:     cfg,
		classes: make(map[string]*Class),
		sources: sources,
	}, nil
}

func cleanDir(d string) string {
	if d == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(d))
}

func cleanDirs(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d = cleanDir(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Config returns the lookup configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// Load returns the parsed class, reading and caching it on first use.
// name is slash separated ("com/acme/Main"); backslashes are accepted.
func (r *Registry) Load(name string) (*Class, error) {
	name = strings.ReplaceAll(name, `\`, "/")

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.classes[name]; ok {
		return c, nil
	}

	data, err := r.readClass(name + ".class")
	if err != nil {
		return nil, err
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	c := &Class{ClassFile: cf, reg: r}
	r.classes[name] = c
	log.Debugf("loaded %s (%d methods, %d fields)", name, len(cf.Methods), len(cf.Fields))
	return c, nil
}

// FreeAll drops every cached class and source text.
func (r *Registry) FreeAll() {
	r.mu.Lock()
	n := len(r.classes)
	r.classes = make(map[string]*Class)
	r.mu.Unlock()
	r.sources.Purge()
	log.Debugf("freed %d classes", n)
}

// Loaded reports how many classes are cached.
func (r *Registry) Loaded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.classes)
}

func (r *Registry) readClass(file string) ([]byte, error) {
	dirs := r.cfg.ClassPath
	if r.cfg.Cwd != "" {
		dirs = append([]string{r.cfg.Cwd}, dirs...)
	}
	for _, dir := range dirs {
		p := path.Join(dir, file)
		if ok, _ := afero.Exists(r.fs, p); ok {
			data, err := afero.ReadFile(r.fs, p)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", p, err)
			}
			return data, nil
		}
	}
	data, err := r.readModuleEntry(file)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, strings.TrimSuffix(file, ".class"))
	}
	return data, nil
}

// readModuleEntry returns the first matching entry across the module
// bundles, or nil when none has it.
func (r *Registry) readModuleEntry(name string) ([]byte, error) {
	for _, m := range r.cfg.Modules {
		data, err := r.readZipEntry(m, name)
		if err != nil {
			return nil, err
		}
		if data != nil {
			return data, nil
		}
	}
	return nil, nil
}

func (r *Registry) readZipEntry(archive, name string) ([]byte, error) {
	f, err := r.fs.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("open module %s: %w", archive, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat module %s: %w", archive, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", archive, err)
	}
	for _, entry := range zr.File {
		if entry.Name != name {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("module %s entry %s: %w", archive, name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("module %s entry %s: %w", archive, name, err)
		}
		return data, nil
	}
	return nil, nil
}

// ClassNameFromSource maps an editor path to a class name by stripping
// the working directory or a source-path prefix and the .java suffix.
func (r *Registry) ClassNameFromSource(srcPath string) (string, error) {
	ext := path.Ext(filepath.ToSlash(srcPath))
	if !strings.EqualFold(ext, ".java") {
		return "", fmt.Errorf("%w: %s", ErrNotJavaSource, srcPath)
	}
	name := filepath.ToSlash(filepath.Clean(srcPath))
	name = name[:len(name)-len(ext)]

	switch {
	case r.cfg.Cwd != "" && strings.HasPrefix(name, r.cfg.Cwd+"/"):
		name = name[len(r.cfg.Cwd):]
	default:
		for _, sp := range r.cfg.SourcePath {
			if strings.HasPrefix(name, sp+"/") {
				name = name[len(sp):]
				break
			}
		}
	}
	return strings.TrimLeft(name, "/"), nil
}
