package session

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/chazu/flintdbg/wire"
)

// Progress reports bytes sent out of total for the named file.
type Progress func(name string, sent, total int)

// InstallFile copies the local file at path onto the device as name.
// progress, if set, is called after every chunk and once more when the
// device has closed the file.
func (s *Session) InstallFile(ctx context.Context, path, name string, progress Progress) error {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}

	var open wire.Writer
	open.U8(uint8(wire.FileCreate)).Text(name)
	if err := open.Err(); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}
	if _, err := s.call(ctx, wire.CmdOpenFile, open.Bytes(), s.timeouts.Install); err != nil {
		return fmt.Errorf("install %s: open: %w", name, err)
	}

	for sent := 0; sent < len(data); {
		n := min(wire.MaxChunk, len(data)-sent)
		if _, err := s.call(ctx, wire.CmdWriteFile, data[sent:sent+n], s.timeouts.Install); err != nil {
			return fmt.Errorf("install %s: write at %d: %w", name, sent, err)
		}
		sent += n
		if progress != nil {
			progress(name, sent, len(data))
		}
	}

	if _, err := s.call(ctx, wire.CmdCloseFile, nil, s.timeouts.Install); err != nil {
		return fmt.Errorf("install %s: close: %w", name, err)
	}
	if progress != nil {
		progress(name, len(data), len(data))
	}
	s.log.Infof("installed %s (%d bytes)", name, len(data))
	return nil
}

// ClassFiles lists every .class file under dir as device names:
// slash-separated and relative to dir.
func (s *Session) ClassFiles(dir string) (paths, names []string, err error) {
	err = afero.Walk(s.fs, dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(p), ".class") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		paths = append(paths, p)
		names = append(names, strings.TrimLeft(filepath.ToSlash(rel), "/"))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list class files in %s: %w", dir, err)
	}
	return paths, names, nil
}

// LaunchOptions controls Launch.
type LaunchOptions struct {
	// Install copies every class file under ClassDir to the device.
	Install  bool
	ClassDir string
	Progress Progress
}

// Launch prepares the device for a fresh run: it drops cached classes,
// terminates whatever is running, optionally installs the program and
// clears all breakpoints. Start follows once breakpoints are set.
func (s *Session) Launch(ctx context.Context, opts LaunchOptions) error {
	s.reg.FreeAll()

	if err := s.Terminate(ctx, false); err != nil {
		return fmt.Errorf("launch: terminate current program: %w", err)
	}

	if opts.Install {
		dir := opts.ClassDir
		if dir == "" {
			dir = s.reg.Config().Cwd
		}
		paths, names, err := s.ClassFiles(dir)
		if err != nil {
			return fmt.Errorf("launch: %w", err)
		}
		for i := range paths {
			if err := s.InstallFile(ctx, paths[i], names[i], opts.Progress); err != nil {
				return fmt.Errorf("launch: %w", err)
			}
		}
	}

	if err := s.RemoveAllBreakpoints(ctx); err != nil {
		return fmt.Errorf("launch: remove breakpoints: %w", err)
	}
	return nil
}
