package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/chazu/flintdbg/eval"
	"github.com/chazu/flintdbg/manifest"
	"github.com/chazu/flintdbg/session"
	"github.com/chazu/flintdbg/value"
)

var (
	stopColor  = color.New(color.FgYellow, color.Bold)
	errColor   = color.New(color.FgRed)
	nameColor  = color.New(color.FgCyan)
	dimColor   = color.New(color.Faint)
	startColor = color.New(color.FgGreen)
)

type repl struct {
	sess  *session.Session
	vals  *value.Resolver
	m     *manifest.Manifest
	out   io.Writer
	frame uint32

	installed string // last file whose progress line was finished
}

func newREPL(sess *session.Session, m *manifest.Manifest, out io.Writer) *repl {
	return &repl{
		sess: sess,
		vals: value.NewResolver(sess, sess.Registry()),
		m:    m,
		out:  out,
	}
}

// run reads commands until EOF, "quit" or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	if err := r.sess.EnterDebugMode(ctx); err != nil {
		return fmt.Errorf("enter debug mode: %w", err)
	}
	go r.printEvents(ctx)

	fmt.Fprintln(r.out, "Type 'help' for commands.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "(flint) ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" || line == "q" {
			break
		}
		if err := r.exec(ctx, line); err != nil {
			errColor.Fprintf(r.out, "error: %v\n", err)
		}
	}
	fmt.Fprintln(r.out)
	return scanner.Err()
}

// printEvents renders unsolicited device events as they arrive.
func (r *repl) printEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.sess.Events():
			switch ev.Type {
			case session.EventStopped:
				stopColor.Fprintf(r.out, "\nStopped (%s)", ev.Reason)
				if frames, err := r.sess.StackFrames(ctx); err == nil && len(frames) > 0 {
					fmt.Fprintf(r.out, " in %s", frameLabel(frames[0]))
				}
				if ev.Reason == session.ReasonException {
					if info, err := r.sess.ReadExceptionInfo(ctx); err == nil {
						errColor.Fprintf(r.out, "\n  %s: %s", info.Type, info.Message)
					}
				}
				fmt.Fprintln(r.out)
			case session.EventExited:
				startColor.Fprintln(r.out, "\nProgram exited")
			case session.EventOutput:
				fmt.Fprint(r.out, ev.Output)
			case session.EventClosed:
				errColor.Fprintf(r.out, "\nConnection closed: %v\n", ev.Err)
				return
			}
		}
	}
}

func frameLabel(f *session.StackFrame) string {
	return fmt.Sprintf("%s at %s:%d", f.Name(), filepath.Base(f.Location.SourcePath), f.Location.Line)
}

func (r *repl) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "h", "?":
		r.help()
		return nil

	case "launch":
		err := r.sess.Launch(ctx, session.LaunchOptions{
			Install:  r.m.Install.Enabled,
			ClassDir: r.m.InstallDir(),
			Progress: r.progress,
		})
		if err == nil {
			startColor.Fprintln(r.out, "Ready; set breakpoints, then 'start'")
		}
		return err

	case "start":
		mainClass := r.m.Project.MainClass
		if len(args) > 0 {
			mainClass = args[0]
		}
		return r.sess.Start(ctx, mainClass)

	case "continue", "c":
		return r.sess.Run(ctx)
	case "pause":
		return r.sess.Stop(ctx)
	case "step", "s":
		return r.sess.StepIn(ctx)
	case "next", "n":
		return r.sess.StepOver(ctx)
	case "finish", "out":
		return r.sess.StepOut(ctx)
	case "terminate":
		return r.sess.Terminate(ctx, false)

	case "break", "b":
		if len(args) < 2 {
			return fmt.Errorf("usage: break <file.java> <line>...")
		}
		src, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		lines := make([]int, 0, len(args)-1)
		for _, a := range args[1:] {
			n, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("bad line %q", a)
			}
			lines = append(lines, n)
		}
		// Keep what is already set in this file.
		for _, b := range r.sess.Breakpoints() {
			if b.Source() == src {
				lines = append(lines, b.Line)
			}
		}
		return r.sess.SetBreakpoints(ctx, lines, src)

	case "clear":
		if len(args) == 0 {
			return r.sess.RemoveAllBreakpoints(ctx)
		}
		src, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		return r.sess.SetBreakpoints(ctx, nil, src)

	case "breaks":
		for i, b := range r.sess.Breakpoints() {
			fmt.Fprintf(r.out, "%d  %s:%d", i+1, filepath.Base(b.Source()), b.Line)
			if b.Location.Line != b.Line {
				dimColor.Fprintf(r.out, " (moved to %d)", b.Location.Line)
			}
			dimColor.Fprintf(r.out, "  %s\n", b.Location)
		}
		return nil

	case "bt", "where":
		frames, err := r.sess.StackFrames(ctx)
		if err != nil {
			return err
		}
		for _, f := range frames {
			marker := "  "
			if f.ID == r.frame {
				marker = "> "
			}
			fmt.Fprintf(r.out, "%s#%d %s\n", marker, f.ID, frameLabel(f))
		}
		return nil

	case "frame", "f":
		if len(args) != 1 {
			return fmt.Errorf("usage: frame <n>")
		}
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return err
		}
		f, err := r.sess.Frame(ctx, uint32(n))
		if err != nil {
			return err
		}
		r.frame = f.ID
		fmt.Fprintf(r.out, "#%d %s\n", f.ID, frameLabel(f))
		return nil

	case "locals":
		vars, err := r.vals.ReadLocals(ctx, r.frame)
		if err != nil {
			return err
		}
		r.printVars(vars)
		return nil

	case "expand", "x":
		if len(args) != 1 {
			return fmt.Errorf("usage: expand <ref>")
		}
		ref, err := strconv.ParseUint(strings.TrimPrefix(args[0], "@"), 10, 32)
		if err != nil {
			return err
		}
		vars, err := r.vals.Expand(ctx, uint32(ref))
		if err != nil {
			return err
		}
		r.printVars(vars)
		return nil

	case "print", "p":
		expr := strings.TrimSpace(strings.TrimPrefix(line, cmd))
		if expr == "" {
			return fmt.Errorf("usage: print <expression>")
		}
		fmt.Fprintln(r.out, eval.Evaluate(ctx, r.vals, expr))
		return nil

	case "exceptions":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("usage: exceptions on|off")
		}
		return r.sess.SetExceptionBreakpoints(ctx, args[0] == "on")

	case "exception":
		info, err := r.sess.ReadExceptionInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s: %s\n", info.Type, info.Message)
		return nil

	case "install":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: install <file> [device-name]")
		}
		name := filepath.ToSlash(filepath.Base(args[0]))
		if len(args) == 2 {
			name = args[1]
		}
		return r.sess.InstallFile(ctx, args[0], name, r.progress)

	case "status":
		fmt.Fprintf(r.out, "%s (generation %d, %d classes loaded)\n",
			r.sess.Status(), r.sess.Generation(), r.sess.Registry().Loaded())
		return nil
	}
	return fmt.Errorf("unknown command %q; try 'help'", cmd)
}

func (r *repl) printVars(vars []*value.Variable) {
	for _, v := range vars {
		nameColor.Fprint(r.out, v.Name)
		fmt.Fprintf(r.out, " = %s", v.Display())
		if v.Expandable() {
			dimColor.Fprintf(r.out, "  @%d", v.Ref)
		}
		fmt.Fprintln(r.out)
	}
}

func (r *repl) progress(name string, sent, total int) {
	if sent == total && r.installed == name {
		return
	}
	fmt.Fprintf(r.out, "\r%s  %s / %s", name, humanize.Bytes(uint64(sent)), humanize.Bytes(uint64(total)))
	if sent == total {
		r.installed = name
		fmt.Fprintln(r.out)
	}
}

func (r *repl) help() {
	fmt.Fprintln(r.out, `Commands:
  launch                     Terminate, install (if enabled) and clear breakpoints
  start [main-class]         Start the program and begin polling
  continue, c                Resume
  pause                      Stop the program
  step, s / next, n / finish Step in, over or out
  terminate                  End the program
  break <file> <line>...     Add line breakpoints
  clear [file]               Remove breakpoints in file, or all
  breaks                     List breakpoints
  bt                         Show the call stack
  frame <n>                  Select a frame for 'locals'
  locals                     Show local variables
  expand <@ref>              Show the fields or elements of a value
  print <expr>               Evaluate an expression in the innermost frame
  exceptions on|off          Stop on thrown exceptions
  exception                  Show the pending exception
  install <file> [name]      Copy a file to the device
  status                     Show the device status
  quit                       Disconnect and exit`)
}
