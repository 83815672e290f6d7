package session

import (
	"context"
	"fmt"

	"github.com/chazu/flintdbg/wire"
)

// EnterDebugMode asks the device to start honouring debug commands.
func (s *Session) EnterDebugMode(ctx context.Context) error {
	_, err := s.call(ctx, wire.CmdEnterDebug, nil, s.timeouts.Default)
	return err
}

// Run resumes the target. It succeeds without a round trip when the
// target is already running.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.invalidateLocked()
	stopped := s.status.Has(wire.StatusStopped)
	s.mu.Unlock()
	if !stopped {
		return nil
	}
	_, err := s.call(ctx, wire.CmdRun, nil, s.timeouts.Default)
	return err
}

// Stop suspends the target. It succeeds without a round trip when the
// target is already stopped.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.invalidateLocked()
	stopped := s.status.Has(wire.StatusStopped)
	s.mu.Unlock()
	if stopped {
		return nil
	}
	_, err := s.call(ctx, wire.CmdStop, nil, s.timeouts.Default)
	return err
}

// StepIn executes until the current line is left, entering calls.
func (s *Session) StepIn(ctx context.Context) error {
	return s.step(ctx, wire.CmdStepIn)
}

// StepOver executes until the current line is left, skipping calls.
func (s *Session) StepOver(ctx context.Context) error {
	return s.step(ctx, wire.CmdStepOver)
}

// StepOut executes until the current method returns.
func (s *Session) StepOut(ctx context.Context) error {
	return s.step(ctx, wire.CmdStepOut)
}

func (s *Session) step(ctx context.Context, cmd wire.Command) error {
	var length uint32
	if cmd != wire.CmdStepOut {
		f, err := s.topFrame(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		length = f.Location.CodeLength
	}
	s.invalidate()
	_, err := s.call(ctx, cmd, new(wire.Writer).U32(length).Bytes(), s.timeouts.Default)
	return err
}

// topFrame returns the cached innermost frame, reading it when nothing
// is cached.
func (s *Session) topFrame(ctx context.Context) (*StackFrame, error) {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	if len(frames) > 0 {
		return frames[0], nil
	}
	return s.ReadStackFrame(ctx, 0)
}

// Restart cold-starts the program at mainClass.
func (s *Session) Restart(ctx context.Context, mainClass string) error {
	w := new(wire.Writer).Text(mainClass)
	if err := w.Err(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	s.invalidate()
	_, err := s.call(ctx, wire.CmdRestart, w.Bytes(), s.timeouts.Long)
	return err
}

// Terminate ends the program, and the debugger agent too when
// includeDebugger is set.
func (s *Session) Terminate(ctx context.Context, includeDebugger bool) error {
	s.invalidate()
	_, err := s.call(ctx, wire.CmdTerminate, new(wire.Writer).Bool(includeDebugger).Bytes(), s.timeouts.Long)
	return err
}

// Start restarts at mainClass and begins polling. It is the last step
// of a launch, after breakpoints are configured.
func (s *Session) Start(ctx context.Context, mainClass string) error {
	if mainClass == "" {
		return fmt.Errorf("start: no main class configured")
	}
	if err := s.Restart(ctx, mainClass); err != nil {
		return fmt.Errorf("start %s: %w", mainClass, err)
	}
	s.StartPolling()
	return nil
}

// SetExceptionBreakpoints makes thrown exceptions stop the target.
func (s *Session) SetExceptionBreakpoints(ctx context.Context, enabled bool) error {
	_, err := s.call(ctx, wire.CmdSetExceptionMode, new(wire.Writer).Bool(enabled).Bytes(), s.timeouts.Default)
	return err
}

// ExceptionInfo describes the exception the target stopped on.
type ExceptionInfo struct {
	Type    string // slash-separated class name
	Message string
}

// ReadExceptionInfo fetches the pending exception.
func (s *Session) ReadExceptionInfo(ctx context.Context) (ExceptionInfo, error) {
	resp, err := s.call(ctx, wire.CmdReadExceptionInfo, nil, s.timeouts.Default)
	if err != nil {
		return ExceptionInfo{}, err
	}
	r := resp.Reader()
	info := ExceptionInfo{Type: r.Text()}
	if r.Len() > 0 {
		info.Message = r.Text()
	}
	if err := r.Err(); err != nil {
		return ExceptionInfo{}, fmt.Errorf("%s: %w", wire.CmdReadExceptionInfo, err)
	}
	return info, nil
}
