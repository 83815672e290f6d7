// Package session drives a debug target over the wire protocol: run
// control, breakpoints, stack walks, raw value reads, file install and
// the status and console poll loops.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/flintdbg/loader"
	"github.com/chazu/flintdbg/wire"
)

var log = commonlog.GetLogger("flintdbg.session")

// ErrNotResolved is returned when a frame or breakpoint cannot be mapped
// between source lines and bytecode.
var ErrNotResolved = errors.New("location not resolved")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Timeouts bounds how long each class of command waits for its response.
type Timeouts struct {
	Default     time.Duration // interactive commands
	Long        time.Duration // restart and terminate
	Install     time.Duration // open, write and close during install
	StatusPoll  time.Duration // READ_STATUS interval
	ConsolePoll time.Duration // READ_CONSOLE interval
}

// DefaultTimeouts returns the values the device firmware is tuned for.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:     200 * time.Millisecond,
		Long:        5 * time.Second,
		Install:     time.Second,
		StatusPoll:  100 * time.Millisecond,
		ConsolePoll: 100 * time.Millisecond,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Default <= 0 {
		t.Default = d.Default
	}
	if t.Long <= 0 {
		t.Long = d.Long
	}
	if t.Install <= 0 {
		t.Install = d.Install
	}
	if t.StatusPoll <= 0 {
		t.StatusPoll = d.StatusPoll
	}
	if t.ConsolePoll <= 0 {
		t.ConsolePoll = d.ConsolePoll
	}
	return t
}

// Config configures a Session.
type Config struct {
	Timeouts Timeouts

	// Console enables the console poll loop. Output arrives as
	// EventOutput.
	Console bool

	// FS is where install reads files from. Defaults to the OS.
	FS afero.Fs
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Event types.
const (
	EventStopped = "stopped"
	EventExited  = "exited"
	EventOutput  = "output"
	EventClosed  = "closed"
)

// Stop reasons.
const (
	ReasonStop      = "stop"
	ReasonException = "exception"
)

// Event is something the device did without being asked.
type Event struct {
	Type   string // one of the Event* constants
	Reason string // stop reason for EventStopped
	Output string // console text for EventOutput
	Err    error  // transport error for EventClosed, if any
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// Session is one debugging connection to a device.
type Session struct {
	ch       *wire.Channel
	reg      *loader.Registry
	fs       afero.Fs
	timeouts Timeouts
	console  bool
	id       uuid.UUID
	log      commonlog.Logger

	events chan Event

	mu         sync.Mutex
	status     wire.Status
	frames     []*StackFrame
	generation uint64
	done       bool

	bpMu        sync.Mutex
	breakpoints []Breakpoint

	loopMu sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New wraps an open channel. The session starts out assuming the target
// is stopped, which is how the device boots.
func New(ch *wire.Channel, reg *loader.Registry, cfg Config) *Session {
	id := uuid.New()
	fs := cfg.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Session{
		ch:       ch,
		reg:      reg,
		fs:       fs,
		timeouts: cfg.Timeouts.withDefaults(),
		console:  cfg.Console,
		id:       id,
		log:      commonlog.NewKeyValueLogger(log, "session", id.String()),
		events:   make(chan Event, 64),
		status:   wire.StatusStopped,
	}
}

// ID identifies the session in logs and traces.
func (s *Session) ID() uuid.UUID { return s.id }

// Registry returns the class registry frames are resolved against.
func (s *Session) Registry() *loader.Registry { return s.reg }

// Timeouts returns the effective timeouts.
func (s *Session) Timeouts() Timeouts { return s.timeouts }

// Events returns the channel asynchronous events are delivered on.
func (s *Session) Events() <-chan Event { return s.events }

// Status returns the last status word accepted from the device.
func (s *Session) Status() wire.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Generation changes every time the target's stop state changes. Remote
// references read under one generation are meaningless under another.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// invalidateLocked drops cached frames. s.mu must be held.
func (s *Session) invalidateLocked() {
	s.frames = nil
	s.generation++
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.invalidateLocked()
	s.mu.Unlock()
}

func (s *Session) sendEvent(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warningf("event queue full, dropping %s event", ev.Type)
	}
}

// call sends a foreground command and requires an OK response.
func (s *Session) call(ctx context.Context, cmd wire.Command, payload []byte, timeout time.Duration) (*wire.Response, error) {
	resp, err := s.ch.Call(ctx, cmd, payload, timeout)
	if err != nil {
		s.log.Infof("%s failed: %v", cmd, err)
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Poll loops
// ---------------------------------------------------------------------------

// StartPolling launches the status loop, and the console loop when
// enabled. Calling it twice is a no-op.
func (s *Session) StartPolling() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.group != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g

	g.Go(func() error { return s.statusLoop(ctx) })
	if s.console {
		g.Go(func() error { return s.consoleLoop(ctx) })
	}
	g.Go(func() error {
		select {
		case <-s.ch.Done():
			s.sendEvent(Event{Type: EventClosed, Err: s.ch.Err()})
			return wire.ErrClosed
		case <-ctx.Done():
			return nil
		}
	})
}

// StopPolling ends the poll loops and waits for them.
func (s *Session) StopPolling() {
	s.loopMu.Lock()
	cancel, g := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.loopMu.Unlock()
	if g == nil {
		return
	}
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, wire.ErrClosed) {
		s.log.Debugf("poll loops: %v", err)
	}
}

func (s *Session) statusLoop(ctx context.Context) error {
	t := time.NewTicker(s.timeouts.StatusPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		resp, err := s.ch.Call(ctx, wire.CmdReadStatus, nil, s.timeouts.Default)
		if err != nil {
			if errors.Is(err, wire.ErrClosed) {
				return err
			}
			s.log.Debugf("status poll: %v", err)
			continue
		}
		if len(resp.Payload) < 1 {
			s.log.Debugf("status poll: empty payload")
			continue
		}
		s.applyStatus(wire.Status(resp.Payload[0]))
	}
}

// applyStatus folds a freshly read status word into the session and
// emits the events it implies.
func (s *Session) applyStatus(st wire.Status) {
	if st.Has(wire.StatusReset) {
		return
	}

	s.mu.Lock()
	prev := s.status
	s.status = st
	var ev *Event
	switch {
	case st.Has(wire.StatusDone):
		if !s.done {
			s.done = true
			ev = &Event{Type: EventExited}
		}
	case st.Has(wire.StatusStopped | wire.StatusStopPending):
		s.done = false
		s.invalidateLocked()
		reason := ReasonStop
		if st.Has(wire.StatusException) {
			reason = ReasonException
		}
		ev = &Event{Type: EventStopped, Reason: reason}
	case prev&wire.StatusStopped != st&wire.StatusStopped:
		s.done = false
		s.invalidateLocked()
		if st.Has(wire.StatusStopped) {
			ev = &Event{Type: EventStopped, Reason: ReasonStop}
		}
	}
	s.mu.Unlock()

	if ev != nil {
		s.log.Debugf("status %s -> %s", prev, st)
		s.sendEvent(*ev)
	}
}

func (s *Session) consoleLoop(ctx context.Context) error {
	t := time.NewTicker(s.timeouts.ConsolePoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if !s.Status().Has(wire.StatusConsoleAvailable) {
			continue
		}
		text, err := s.ReadConsole(ctx)
		if err != nil {
			if errors.Is(err, wire.ErrClosed) {
				return err
			}
			s.log.Debugf("console poll: %v", err)
			continue
		}
		if text != "" {
			s.sendEvent(Event{Type: EventOutput, Output: text})
		}
	}
}

// ReadConsole fetches pending console output.
func (s *Session) ReadConsole(ctx context.Context) (string, error) {
	resp, err := s.ch.Call(ctx, wire.CmdReadConsole, nil, s.timeouts.Default)
	if err != nil {
		return "", err
	}
	return string(resp.Payload), nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Disconnect stops polling, forgets cached state and closes the channel.
func (s *Session) Disconnect() error {
	s.StopPolling()
	s.mu.Lock()
	s.frames = nil
	s.status = wire.StatusStopped
	s.generation++
	s.mu.Unlock()
	return s.ch.Close()
}
