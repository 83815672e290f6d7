package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chazu/flintdbg/classfile"
	"github.com/chazu/flintdbg/classfile/classfiletest"
	"github.com/chazu/flintdbg/loader"
	"github.com/chazu/flintdbg/wire"
	"github.com/chazu/flintdbg/wire/wiretest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const mainSource = "/src/com/acme/Main.java"

func mainClass() []byte {
	b := classfiletest.New("com/acme/Main", "java/lang/Object").SourceFile("Main.java")
	b.Method(classfile.AccPublic, "run", "(I)V", 12).
		Line(0, 10).Line(4, 11).Line(9, 13).
		Local(0, 12, 0, "this", "Lcom/acme/Main;").
		Local(4, 8, 1, "n", "I").
		Local(9, 3, 2, "late", "J")
	b.Method(classfile.AccPublic|classfile.AccStatic, "main", "([Ljava/lang/String;)V", 6).
		Line(0, 5).Line(2, 6)
	return b.Bytes()
}

// fakeFrame is one entry of the device's call stack.
type fakeFrame struct {
	pc     uint32
	method string
	desc   string
}

// fakeDevice is a scripted target.
type fakeDevice struct {
	mu          sync.Mutex
	status      wire.Status
	stack       []fakeFrame
	breakpoints map[uint32]string
	failAddAt   int // fail the n-th ADD_BKP, counting from 1
	adds        int
	open        string
	buf         bytes.Buffer
	files       map[string][]byte
	console     string
	steps       []uint32
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		status:      wire.StatusStopped,
		breakpoints: map[uint32]string{},
		files:       map[string][]byte{},
		stack: []fakeFrame{
			{pc: 4, method: "run", desc: "(I)V"},
			{pc: 2, method: "main", desc: "([Ljava/lang/String;)V"},
		},
	}
}

func (d *fakeDevice) setStatus(st wire.Status) {
	d.mu.Lock()
	d.status = st
	d.mu.Unlock()
}

func (d *fakeDevice) handle(req wire.Request) *wiretest.Reply {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := wire.NewReader(req.Payload)
	switch req.Cmd {
	case wire.CmdReadStatus:
		st := d.status
		// The stop reason is reported once.
		d.status &^= wire.StatusStopPending
		return wiretest.OK([]byte{byte(st)})

	case wire.CmdReadStackTrace:
		id := r.U32()
		if int(id) >= len(d.stack) {
			return wiretest.Fail()
		}
		f := d.stack[id]
		word := id
		if int(id) == len(d.stack)-1 {
			word |= endOfStack
		}
		var w wire.Writer
		w.U32(word).U32(f.pc).Text("com/acme/Main").Text(f.method).Text(f.desc)
		return wiretest.OK(w.Bytes())

	case wire.CmdAddBreakpoint:
		d.adds++
		if d.adds == d.failAddAt {
			return wiretest.Fail()
		}
		pc := r.U32()
		class, method := r.Text(), r.Text()
		d.breakpoints[pc] = class + "." + method
		return wiretest.OK(nil)

	case wire.CmdRemoveBreakpoint:
		delete(d.breakpoints, r.U32())
		return wiretest.OK(nil)

	case wire.CmdRemoveAllBreakpoints:
		clear(d.breakpoints)
		return wiretest.OK(nil)

	case wire.CmdRun:
		d.status &^= wire.StatusStopped
		return wiretest.OK(nil)

	case wire.CmdStop:
		d.status |= wire.StatusStopped | wire.StatusStopPending
		return wiretest.OK(nil)

	case wire.CmdStepIn, wire.CmdStepOver, wire.CmdStepOut:
		d.steps = append(d.steps, r.U32())
		return wiretest.OK(nil)

	case wire.CmdRestart, wire.CmdTerminate, wire.CmdEnterDebug, wire.CmdSetExceptionMode:
		return wiretest.OK(nil)

	case wire.CmdReadExceptionInfo:
		var w wire.Writer
		w.Text("java/lang/ArithmeticException").Text("/ by zero")
		return wiretest.OK(w.Bytes())

	case wire.CmdOpenFile:
		if r.U8() != uint8(wire.FileCreate) {
			return wiretest.Fail()
		}
		d.open = r.Text()
		d.buf.Reset()
		return wiretest.OK(nil)

	case wire.CmdWriteFile:
		if d.open == "" || len(req.Payload) > wire.MaxChunk {
			return wiretest.Fail()
		}
		d.buf.Write(req.Payload)
		return wiretest.OK(nil)

	case wire.CmdCloseFile:
		d.files[d.open] = bytes.Clone(d.buf.Bytes())
		d.open = ""
		return wiretest.OK(nil)

	case wire.CmdReadConsole:
		out := d.console
		d.console = ""
		d.status &^= wire.StatusConsoleAvailable
		return wiretest.OK([]byte(out))

	case wire.CmdReadLocal:
		wide := r.U8() == 1
		var w wire.Writer
		if wide {
			w.U32(8).U64(0x1122334455667788)
		} else {
			w.U32(16).U32(0x2A).Text("Ljava/lang/String;")
		}
		return wiretest.OK(w.Bytes())
	}
	return &wiretest.Reply{Code: wire.RespUnknown}
}

type harness struct {
	sess *Session
	dev  *fakeDevice
	pipe *wiretest.Device
	fs   afero.Fs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/com/acme/Main.class", mainClass(), 0o644))
	require.NoError(t, afero.WriteFile(fs, mainSource, []byte("package com.acme;\n"), 0o644))

	reg, err := loader.New(fs, loader.Config{Cwd: "/work", SourcePath: []string{"/src"}})
	require.NoError(t, err)

	dev := newFakeDevice()
	conn, pipe := wiretest.New(dev.handle)
	sess := New(wire.NewChannel(conn), reg, Config{
		FS:      fs,
		Console: true,
		Timeouts: Timeouts{
			StatusPoll:  5 * time.Millisecond,
			ConsolePoll: 5 * time.Millisecond,
		},
	})
	t.Cleanup(func() {
		sess.Disconnect()
		pipe.Close()
	})
	return &harness{sess: sess, dev: dev, pipe: pipe, fs: fs}
}

func nextEvent(t *testing.T, s *Session, typ string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

var ctx = context.Background()

// ---------------------------------------------------------------------------
// Status handling
// ---------------------------------------------------------------------------

func TestApplyStatus(t *testing.T) {
	tests := []struct {
		name   string
		seq    []wire.Status
		events []Event
	}{
		{"still stopped", []wire.Status{wire.StatusStopped}, nil},
		{"resume is silent", []wire.Status{0}, nil},
		{"toggle into stopped", []wire.Status{0, wire.StatusStopped},
			[]Event{{Type: EventStopped, Reason: ReasonStop}}},
		{"fresh stop", []wire.Status{wire.StatusStopped | wire.StatusStopPending},
			[]Event{{Type: EventStopped, Reason: ReasonStop}}},
		{"exception stop", []wire.Status{0, wire.StatusStopped | wire.StatusStopPending | wire.StatusException},
			[]Event{{Type: EventStopped, Reason: ReasonException}}},
		{"reset ignored", []wire.Status{wire.StatusReset, wire.StatusReset | wire.StatusDone}, nil},
		{"done once", []wire.Status{0, wire.StatusDone, wire.StatusDone},
			[]Event{{Type: EventExited}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			for _, st := range tt.seq {
				h.sess.applyStatus(st)
			}
			var got []Event
			for len(h.sess.events) > 0 {
				got = append(got, <-h.sess.events)
			}
			require.Equal(t, tt.events, got)
		})
	}
}

func TestApplyStatusInvalidatesFrames(t *testing.T) {
	h := newHarness(t)
	frames, err := h.sess.StackFrames(ctx)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	gen := h.sess.Generation()

	h.sess.applyStatus(wire.StatusReset)
	require.Equal(t, gen, h.sess.Generation())

	h.sess.applyStatus(0)
	require.Greater(t, h.sess.Generation(), gen)
	require.Nil(t, h.sess.frames)
	require.Equal(t, wire.Status(0), h.sess.Status())
}

func TestStatusPollEmitsStopped(t *testing.T) {
	h := newHarness(t)
	h.dev.setStatus(0)
	h.sess.StartPolling()
	h.sess.StartPolling()

	require.Eventually(t, func() bool { return h.sess.Status() == 0 }, 2*time.Second, time.Millisecond)
	h.dev.setStatus(wire.StatusStopped | wire.StatusStopPending | wire.StatusException)

	ev := nextEvent(t, h.sess, EventStopped)
	require.Equal(t, ReasonException, ev.Reason)
	h.sess.StopPolling()
}

func TestConsolePoll(t *testing.T) {
	h := newHarness(t)
	h.dev.mu.Lock()
	h.dev.console = "hello from the device\n"
	h.dev.status |= wire.StatusConsoleAvailable
	h.dev.mu.Unlock()

	h.sess.StartPolling()
	ev := nextEvent(t, h.sess, EventOutput)
	require.Equal(t, "hello from the device\n", ev.Output)
}

func TestClosedTransportEmitsClosed(t *testing.T) {
	h := newHarness(t)
	h.sess.StartPolling()
	h.pipe.Close()
	nextEvent(t, h.sess, EventClosed)
}

// ---------------------------------------------------------------------------
// Run control
// ---------------------------------------------------------------------------

func TestRunAndStopSkipWhenAlreadyThere(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sess.Stop(ctx))
	require.Zero(t, h.pipe.Count(wire.CmdStop))

	require.NoError(t, h.sess.Run(ctx))
	require.Equal(t, 1, h.pipe.Count(wire.CmdRun))

	h.sess.applyStatus(0)
	require.NoError(t, h.sess.Run(ctx))
	require.Equal(t, 1, h.pipe.Count(wire.CmdRun))

	require.NoError(t, h.sess.Stop(ctx))
	require.Equal(t, 1, h.pipe.Count(wire.CmdStop))
}

func TestStepSendsCodeLength(t *testing.T) {
	h := newHarness(t)

	// Frame 0 is at pc 4, whose line runs until pc 9.
	require.NoError(t, h.sess.StepOver(ctx))
	require.NoError(t, h.sess.StepIn(ctx))
	require.NoError(t, h.sess.StepOut(ctx))

	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	require.Equal(t, []uint32{5, 5, 0}, h.dev.steps)
	require.Equal(t, 2, h.pipe.Count(wire.CmdReadStackTrace))
}

func TestStepUsesCachedFrame(t *testing.T) {
	h := newHarness(t)
	_, err := h.sess.StackFrames(ctx)
	require.NoError(t, err)
	h.pipe.Reset()

	require.NoError(t, h.sess.StepOver(ctx))
	require.Zero(t, h.pipe.Count(wire.CmdReadStackTrace))
}

func TestRestartRequiresMainClass(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.sess.Start(ctx, ""))
	require.NoError(t, h.sess.Start(ctx, "com/acme/Main"))
	require.Equal(t, 1, h.pipe.Count(wire.CmdRestart))

	req := h.pipe.Requests()[0]
	require.Equal(t, wire.CmdRestart, req.Cmd)
	require.Equal(t, "com/acme/Main", wire.NewReader(req.Payload).Text())

	h.pipe.Reset()
	err := h.sess.Restart(ctx, strings.Repeat("x", 1<<16))
	require.ErrorIs(t, err, wire.ErrStringTooLong)
	require.Empty(t, h.pipe.Requests())
}

func TestExceptionInfo(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.SetExceptionBreakpoints(ctx, true))
	info, err := h.sess.ReadExceptionInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, ExceptionInfo{Type: "java/lang/ArithmeticException", Message: "/ by zero"}, info)
}

func TestUnknownCommandIsAFailure(t *testing.T) {
	h := newHarness(t)
	_, err := h.sess.ReadArray(ctx, 1, 0, 4)
	var re *wire.ResponseError
	require.ErrorAs(t, err, &re)
	require.Equal(t, wire.RespUnknown, re.Code)
}

// ---------------------------------------------------------------------------
// Breakpoints
// ---------------------------------------------------------------------------

func TestSetBreakpointsIsIdempotent(t *testing.T) {
	h := newHarness(t)

	// Line 12 has no code and lands on line 13.
	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{11, 12}, mainSource))
	require.Equal(t, 2, h.pipe.Count(wire.CmdAddBreakpoint))
	require.Equal(t, map[uint32]string{4: "com/acme/Main.run", 9: "com/acme/Main.run"}, h.dev.breakpoints)

	h.pipe.Reset()
	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{12, 11, 11}, mainSource))
	require.Empty(t, h.pipe.Requests())

	bps := h.sess.Breakpoints()
	require.Len(t, bps, 2)
	require.Equal(t, 12, bps[1].Line)
	require.Equal(t, 13, bps[1].Location.Line)
	require.Equal(t, mainSource, bps[1].Source())
}

func TestSetBreakpointsRemovesStaleFirst(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{5, 10}, mainSource))
	h.pipe.Reset()

	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{10, 13}, mainSource))
	reqs := h.pipe.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, wire.CmdRemoveBreakpoint, reqs[0].Cmd)
	require.Equal(t, wire.CmdAddBreakpoint, reqs[1].Cmd)

	lines := []int{}
	for _, b := range h.sess.Breakpoints() {
		lines = append(lines, b.Line)
	}
	require.ElementsMatch(t, []int{10, 13}, lines)

	require.NoError(t, h.sess.SetBreakpoints(ctx, nil, mainSource))
	require.Empty(t, h.sess.Breakpoints())
	require.Empty(t, h.dev.breakpoints)
}

func TestSetBreakpointsOtherSourceUntouched(t *testing.T) {
	h := newHarness(t)
	h.sess.breakpoints = []Breakpoint{{Line: 3, Location: loader.LineInfo{SourcePath: "/src/Other.java"}}}

	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{10}, mainSource))
	require.Len(t, h.sess.Breakpoints(), 2)
	require.Zero(t, h.pipe.Count(wire.CmdRemoveBreakpoint))
}

func TestSetBreakpointsSharingAPC(t *testing.T) {
	h := newHarness(t)

	// Line 12 has no code, so both lines land on pc 9.
	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{12, 13}, mainSource))
	require.Equal(t, 1, h.pipe.Count(wire.CmdAddBreakpoint))
	require.Len(t, h.sess.Breakpoints(), 2)

	h.pipe.Reset()
	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{13}, mainSource))
	require.Zero(t, h.pipe.Count(wire.CmdRemoveBreakpoint))
	require.Equal(t, map[uint32]string{9: "com/acme/Main.run"}, h.dev.breakpoints)
	bps := h.sess.Breakpoints()
	require.Len(t, bps, 1)
	require.Equal(t, 13, bps[0].Line)

	// Adding the line back records it without a second ADD_BKP.
	h.pipe.Reset()
	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{12, 13}, mainSource))
	require.Zero(t, h.pipe.Count(wire.CmdAddBreakpoint))
	require.Len(t, h.sess.Breakpoints(), 2)

	// The last line leaving the pc removes it from the device.
	h.pipe.Reset()
	require.NoError(t, h.sess.SetBreakpoints(ctx, nil, mainSource))
	require.Equal(t, 1, h.pipe.Count(wire.CmdRemoveBreakpoint))
	require.Empty(t, h.dev.breakpoints)
	require.Empty(t, h.sess.Breakpoints())
}

func TestSetBreakpointsPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.dev.failAddAt = 2

	err := h.sess.SetBreakpoints(ctx, []int{10, 11, 13}, mainSource)
	var re *wire.ResponseError
	require.ErrorAs(t, err, &re)
	require.Equal(t, wire.CmdAddBreakpoint, re.Cmd)

	// Only the confirmed add is recorded; the third was never sent.
	bps := h.sess.Breakpoints()
	require.Len(t, bps, 1)
	require.Equal(t, 10, bps[0].Line)
	require.Equal(t, 2, h.pipe.Count(wire.CmdAddBreakpoint))

	// A retry only sends what is missing.
	h.pipe.Reset()
	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{10, 11, 13}, mainSource))
	require.Equal(t, 2, h.pipe.Count(wire.CmdAddBreakpoint))
	require.Len(t, h.sess.Breakpoints(), 3)
}

func TestSetBreakpointsUnresolvable(t *testing.T) {
	h := newHarness(t)

	err := h.sess.SetBreakpoints(ctx, []int{10, 99}, mainSource)
	require.ErrorIs(t, err, ErrNotResolved)
	require.ErrorIs(t, err, loader.ErrLineNotFound)
	require.Empty(t, h.pipe.Requests())

	err = h.sess.SetBreakpoints(ctx, []int{1}, "/src/com/acme/Missing.java")
	require.ErrorIs(t, err, loader.ErrClassNotFound)
}

func TestRemoveAllBreakpoints(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{10}, mainSource))
	require.NoError(t, h.sess.RemoveAllBreakpoints(ctx))
	require.Empty(t, h.sess.Breakpoints())
	require.Empty(t, h.dev.breakpoints)
}

// ---------------------------------------------------------------------------
// Stack frames
// ---------------------------------------------------------------------------

func TestStackFramesStopAtEndFlag(t *testing.T) {
	h := newHarness(t)
	h.dev.stack = append(h.dev.stack[:1],
		fakeFrame{pc: 0, method: "run", desc: "(I)V"},
		fakeFrame{pc: 3, method: "main", desc: "([Ljava/lang/String;)V"})

	frames, err := h.sess.StackFrames(ctx)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	require.Equal(t, 3, h.pipe.Count(wire.CmdReadStackTrace))
	for i, f := range frames {
		require.Equal(t, uint32(i), f.ID)
		require.Equal(t, i == 2, f.End)
	}

	top := frames[0]
	require.Equal(t, "Main.run(int)", top.Name())
	require.Equal(t, 11, top.Location.Line)
	require.Equal(t, uint32(5), top.Location.CodeLength)
	require.Equal(t, mainSource, top.Location.SourcePath)
	require.Equal(t, []string{"this", "n"}, []string{top.Locals[0].Name, top.Locals[1].Name})
	_, ok := top.Local("late")
	require.False(t, ok)
	require.Equal(t, 6, frames[2].Location.Line)

	// Cached until the stop state changes.
	again, err := h.sess.StackFrames(ctx)
	require.NoError(t, err)
	require.Equal(t, frames, again)
	require.Equal(t, 3, h.pipe.Count(wire.CmdReadStackTrace))

	f, err := h.sess.Frame(ctx, 1)
	require.NoError(t, err)
	require.Same(t, frames[1], f)

	h.sess.applyStatus(0)
	_, err = h.sess.StackFrames(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, h.pipe.Count(wire.CmdReadStackTrace))
}

func TestStackFrameIndexMismatch(t *testing.T) {
	h := newHarness(t)
	conn, pipe := wiretest.New(func(req wire.Request) *wiretest.Reply {
		var w wire.Writer
		w.U32(7 | endOfStack).U32(4).Text("com/acme/Main").Text("run").Text("(I)V")
		return wiretest.OK(w.Bytes())
	})
	defer pipe.Close()
	s := New(wire.NewChannel(conn), h.sess.Registry(), Config{})
	defer s.Disconnect()

	_, err := s.StackFrames(ctx)
	require.ErrorIs(t, err, ErrNotResolved)
}

func TestStackFramesNeedSource(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.fs.Remove(mainSource))

	_, err := h.sess.StackFrames(ctx)
	require.ErrorIs(t, err, ErrNotResolved)
}

// ---------------------------------------------------------------------------
// Raw reads
// ---------------------------------------------------------------------------

func TestReadLocalCarriesType(t *testing.T) {
	h := newHarness(t)

	v, err := h.sess.ReadLocal(ctx, 0, 1, false)
	require.NoError(t, err)
	require.Equal(t, RawValue{Size: 16, Bits: 0x2A, Type: "Ljava/lang/String;"}, v)

	v, err = h.sess.ReadLocal(ctx, 0, 2, true)
	require.NoError(t, err)
	require.Equal(t, RawValue{Size: 8, Bits: 0x1122334455667788}, v)

	req := h.pipe.Requests()[0]
	require.Equal(t, []byte{0, 0, 0, 0, 0, 1, 0, 0, 0}, req.Payload)
}

// ---------------------------------------------------------------------------
// Install and launch
// ---------------------------------------------------------------------------

func TestInstallFileChunks(t *testing.T) {
	h := newHarness(t)
	data := bytes.Repeat([]byte("0123456789"), 130)
	require.NoError(t, afero.WriteFile(h.fs, "/out/blob.bin", data, 0o644))

	var progress []int
	err := h.sess.InstallFile(ctx, "/out/blob.bin", "blob.bin", func(name string, sent, total int) {
		require.Equal(t, "blob.bin", name)
		require.Equal(t, len(data), total)
		progress = append(progress, sent)
	})
	require.NoError(t, err)
	require.Equal(t, []int{512, 1024, 1300, 1300}, progress)
	require.Equal(t, 3, h.pipe.Count(wire.CmdWriteFile))
	require.Equal(t, data, h.dev.files["blob.bin"])
}

func TestInstallFileAbortsOnFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, afero.WriteFile(h.fs, "/out/a.bin", []byte("abc"), 0o644))

	conn, pipe := wiretest.New(func(req wire.Request) *wiretest.Reply {
		if req.Cmd == wire.CmdWriteFile {
			return wiretest.Fail()
		}
		return wiretest.OK(nil)
	})
	defer pipe.Close()
	s := New(wire.NewChannel(conn), h.sess.Registry(), Config{FS: h.fs})
	defer s.Disconnect()

	called := false
	err := s.InstallFile(ctx, "/out/a.bin", "a.bin", func(string, int, int) { called = true })
	require.Error(t, err)
	require.False(t, called)
	require.Zero(t, pipe.Count(wire.CmdCloseFile))

	err = s.InstallFile(ctx, "/out/missing.bin", "missing.bin", nil)
	require.Error(t, err)
}

func TestLaunchInstallsClasses(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, afero.WriteFile(h.fs, "/work/com/acme/Util.CLASS", []byte{0xCA, 0xFE}, 0o644))
	require.NoError(t, afero.WriteFile(h.fs, "/work/readme.txt", []byte("x"), 0o644))

	require.NoError(t, h.sess.SetBreakpoints(ctx, []int{10}, mainSource))
	h.pipe.Reset()

	var installed []string
	err := h.sess.Launch(ctx, LaunchOptions{
		Install: true,
		Progress: func(name string, sent, total int) {
			if sent == total {
				installed = append(installed, name)
			}
		},
	})
	require.NoError(t, err)

	reqs := h.pipe.Requests()
	require.Equal(t, wire.CmdTerminate, reqs[0].Cmd)
	require.Equal(t, []byte{0}, reqs[0].Payload)
	require.Equal(t, wire.CmdRemoveAllBreakpoints, reqs[len(reqs)-1].Cmd)
	require.Empty(t, h.sess.Breakpoints())

	require.Contains(t, h.dev.files, "com/acme/Main.class")
	require.Contains(t, h.dev.files, "com/acme/Util.CLASS")
	require.Len(t, h.dev.files, 2)
	require.Contains(t, installed, "com/acme/Main.class")
	require.Zero(t, h.sess.Registry().Loaded())
}

func TestLaunchStopsOnTerminateFailure(t *testing.T) {
	h := newHarness(t)
	conn, pipe := wiretest.New(func(req wire.Request) *wiretest.Reply { return nil })
	defer pipe.Close()
	s := New(wire.NewChannel(conn), h.sess.Registry(), Config{Timeouts: Timeouts{Long: 20 * time.Millisecond}})
	defer s.Disconnect()

	err := s.Launch(ctx, LaunchOptions{})
	require.ErrorIs(t, err, wire.ErrTimeout)
	require.Equal(t, 1, len(pipe.Requests()))
	require.False(t, errors.Is(err, ErrNotResolved))
}
