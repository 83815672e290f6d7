package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch observes Cwd and the ClassPath directories on the host
// filesystem and calls FreeAll whenever a .class file is written,
// created, removed or renamed. onChange, if non-nil, is called with the
// changed path after the cache is cleared. Watch blocks until ctx is
// done.
func (r *Registry) Watch(ctx context.Context, onChange func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	roots := r.cfg.ClassPath
	if r.cfg.Cwd != "" {
		roots = append([]string{r.cfg.Cwd}, roots...)
	}
	for _, root := range roots {
		if err := addTree(w, filepath.FromSlash(root)); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						log.Warningf("watch %s: %v", ev.Name, err)
					}
					continue
				}
			}
			if !strings.HasSuffix(ev.Name, ".class") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Infof("class file changed: %s", ev.Name)
			r.FreeAll()
			if onChange != nil {
				onChange(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warningf("watch: %v", err)
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
