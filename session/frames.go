package session

import (
	"context"
	"fmt"

	"github.com/chazu/flintdbg/classfile"
	"github.com/chazu/flintdbg/loader"
	"github.com/chazu/flintdbg/wire"
)

const endOfStack = 0x80000000

// maxFrames bounds a stack walk against a device that never reports the
// end of the stack.
const maxFrames = 1024

// StackFrame is one resolved frame of the remote call stack.
type StackFrame struct {
	ID       uint32
	Location loader.LineInfo
	End      bool // bottom of the call stack

	// Locals are the local variables live at the frame's pc.
	Locals []classfile.LocalVariable
}

// Name renders the frame as "Class.method(ArgType, ...)".
func (f *StackFrame) Name() string {
	return classfile.MethodDisplayName(f.Location.Class.ThisClass, f.Location.Method.Name, f.Location.Method.Descriptor)
}

// Local finds a live local by name.
func (f *StackFrame) Local(name string) (classfile.LocalVariable, bool) {
	for _, v := range f.Locals {
		if v.Name == name {
			return v, true
		}
	}
	return classfile.LocalVariable{}, false
}

// ReadStackFrame reads and resolves frame id (0 is innermost).
func (s *Session) ReadStackFrame(ctx context.Context, id uint32) (*StackFrame, error) {
	resp, err := s.call(ctx, wire.CmdReadStackTrace, new(wire.Writer).U32(id).Bytes(), s.timeouts.Default)
	if err != nil {
		return nil, err
	}

	r := resp.Reader()
	word := r.U32()
	pc := r.U32()
	class := r.Text()
	method := r.Text()
	desc := r.Text()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("frame %d: %w", id, err)
	}
	if got := word &^ endOfStack; got != id {
		return nil, fmt.Errorf("%w: asked for frame %d, device answered %d", ErrNotResolved, id, got)
	}

	info, err := s.reg.ResolvePCToLine(pc, class, method, desc)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %w", ErrNotResolved, id, err)
	}
	return &StackFrame{
		ID:       id,
		Location: info,
		End:      word&endOfStack != 0,
		Locals:   info.Method.Code.LocalsAt(pc),
	}, nil
}

// StackFrames returns the whole call stack, innermost first. The result
// is cached until the target's stop state changes.
func (s *Session) StackFrames(ctx context.Context) ([]*StackFrame, error) {
	s.mu.Lock()
	cached, gen := s.frames, s.generation
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var frames []*StackFrame
	for id := uint32(0); id < maxFrames; id++ {
		f, err := s.ReadStackFrame(ctx, id)
		if err != nil {
			return nil, err
		}
		if f.Location.SourcePath == "" {
			return nil, fmt.Errorf("%w: no source for %s", ErrNotResolved, f.Location.Class.ThisClass)
		}
		frames = append(frames, f)
		if f.End {
			s.mu.Lock()
			if s.generation == gen {
				s.frames = frames
			}
			s.mu.Unlock()
			return frames, nil
		}
	}
	return nil, fmt.Errorf("%w: no end of stack after %d frames", ErrNotResolved, maxFrames)
}

// Frame returns frame id, from the cached walk when it covers id.
func (s *Session) Frame(ctx context.Context, id uint32) (*StackFrame, error) {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	if int(id) < len(frames) {
		return frames[id], nil
	}
	return s.ReadStackFrame(ctx, id)
}
