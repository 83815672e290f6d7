package session

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/chazu/flintdbg/loader"
	"github.com/chazu/flintdbg/wire"
)

// Breakpoint is a line breakpoint installed on the device.
type Breakpoint struct {
	// Line is the line the caller asked for. Location.Line may be later
	// when that line carries no bytecode.
	Line     int
	Location loader.LineInfo
}

// Source returns the editor path the breakpoint was set in.
func (b Breakpoint) Source() string { return b.Location.SourcePath }

// Breakpoints returns the installed breakpoints.
func (s *Session) Breakpoints() []Breakpoint {
	s.bpMu.Lock()
	defer s.bpMu.Unlock()
	return slices.Clone(s.breakpoints)
}

// SetBreakpoints makes the breakpoints in srcPath exactly lines. Stale
// ones are removed first, then missing ones are resolved and added. The
// local list changes only after the device confirms each command, so a
// failure part way leaves it matching the device.
func (s *Session) SetBreakpoints(ctx context.Context, lines []int, srcPath string) error {
	s.bpMu.Lock()
	defer s.bpMu.Unlock()

	inSource := func(b Breakpoint, _ int) bool { return b.Source() == srcPath }

	remove := lo.Filter(s.breakpoints, func(b Breakpoint, i int) bool {
		return inSource(b, i) && !lo.Contains(lines, b.Line)
	})
	for _, b := range remove {
		// The device holds one breakpoint per pc; keep it while another
		// line still lands there.
		if !s.sharedLocked(b) {
			if err := s.sendBreakpoint(ctx, wire.CmdRemoveBreakpoint, b.Location); err != nil {
				return fmt.Errorf("remove breakpoint %s:%d: %w", srcPath, b.Line, err)
			}
		}
		s.breakpoints = slices.DeleteFunc(s.breakpoints, func(x Breakpoint) bool {
			return x.Source() == srcPath && x.Line == b.Line
		})
	}

	installed := lo.Map(lo.Filter(s.breakpoints, inSource), func(b Breakpoint, _ int) int { return b.Line })
	missing := lo.Uniq(lo.Without(lines, installed...))
	if len(missing) == 0 {
		return nil
	}

	add := make([]Breakpoint, 0, len(missing))
	for _, line := range missing {
		info, err := s.reg.ResolveLineToPC(line, srcPath)
		if err != nil {
			return fmt.Errorf("%w: %s:%d: %w", ErrNotResolved, srcPath, line, err)
		}
		add = append(add, Breakpoint{Line: line, Location: info})
	}
	for _, b := range add {
		if !s.sharedLocked(b) {
			if err := s.sendBreakpoint(ctx, wire.CmdAddBreakpoint, b.Location); err != nil {
				return fmt.Errorf("add breakpoint %s:%d: %w", srcPath, b.Line, err)
			}
		}
		s.breakpoints = append(s.breakpoints, b)
	}
	return nil
}

// sharedLocked reports whether another recorded breakpoint sits on the
// same pc as b.
func (s *Session) sharedLocked(b Breakpoint) bool {
	return lo.ContainsBy(s.breakpoints, func(x Breakpoint) bool {
		return !(x.Source() == b.Source() && x.Line == b.Line) && sameLocation(x.Location, b.Location)
	})
}

func sameLocation(a, b loader.LineInfo) bool {
	if a.Class == nil || b.Class == nil || a.Method == nil || b.Method == nil {
		return false
	}
	return a.PC == b.PC &&
		a.Class.ThisClass == b.Class.ThisClass &&
		a.Method.Name == b.Method.Name &&
		a.Method.Descriptor == b.Method.Descriptor
}

// RemoveAllBreakpoints clears every breakpoint on the device.
func (s *Session) RemoveAllBreakpoints(ctx context.Context) error {
	s.bpMu.Lock()
	defer s.bpMu.Unlock()
	if _, err := s.call(ctx, wire.CmdRemoveAllBreakpoints, nil, s.timeouts.Default); err != nil {
		return err
	}
	s.breakpoints = nil
	return nil
}

func (s *Session) sendBreakpoint(ctx context.Context, cmd wire.Command, loc loader.LineInfo) error {
	var w wire.Writer
	w.U32(loc.PC).
		Text(strings.ReplaceAll(loc.Class.ThisClass, `\`, "/")).
		Text(loc.Method.Name).
		Text(loc.Method.Descriptor)
	if err := w.Err(); err != nil {
		return err
	}
	_, err := s.call(ctx, cmd, w.Bytes(), s.timeouts.Default)
	return err
}
