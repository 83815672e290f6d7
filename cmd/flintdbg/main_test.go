package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/chazu/flintdbg/loader"
	"github.com/chazu/flintdbg/manifest"
	"github.com/chazu/flintdbg/session"
	"github.com/chazu/flintdbg/wire"
	"github.com/chazu/flintdbg/wire/wiretest"
)

func TestApplyFlags(t *testing.T) {
	m := manifest.Default("/app")
	require.NoError(t, applyFlags(m, "10.0.0.7:6000", "", 0, "com/acme/Main", true))
	require.Equal(t, "10.0.0.7:6000", m.Endpoint().String())
	require.Equal(t, "com/acme/Main", m.Project.MainClass)
	require.True(t, m.Install.Enabled)

	m = manifest.Default("/app")
	require.NoError(t, applyFlags(m, "", "/dev/ttyACM0", 115200, "", false))
	require.Equal(t, "serial:/dev/ttyACM0@115200", m.Endpoint().String())

	require.Error(t, applyFlags(manifest.Default("/app"), "no-port", "", 0, "", false))
	require.Error(t, applyFlags(manifest.Default("/app"), "host:http", "", 0, "", false))
}

func TestDumpTrace(t *testing.T) {
	conn, dev := wiretest.New(func(req wire.Request) *wiretest.Reply {
		return wiretest.OK([]byte{byte(wire.StatusStopped)})
	})
	defer dev.Close()

	path := filepath.Join(t.TempDir(), "run.cbor")
	f, err := os.Create(path)
	require.NoError(t, err)
	rec, err := wire.NewRecorder(conn, f, "device:5555")
	require.NoError(t, err)

	ch := wire.NewChannel(rec)
	_, err = ch.Call(context.Background(), wire.CmdReadStatus, nil, time.Second)
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, f.Close())

	var out bytes.Buffer
	require.NoError(t, dumpTrace(&out, path))
	text := out.String()
	require.Contains(t, text, "device:5555")
	require.Contains(t, text, "-> "+wire.CmdReadStatus.String())
	require.Contains(t, text, "<- "+wire.CmdReadStatus.String())
}

func newTestREPL(t *testing.T) (*repl, *bytes.Buffer) {
	t.Helper()
	conn, dev := wiretest.New(func(req wire.Request) *wiretest.Reply {
		return wiretest.OK(nil)
	})
	t.Cleanup(func() { dev.Close() })

	reg, err := loader.New(afero.NewMemMapFs(), loader.Config{Cwd: "/work"})
	require.NoError(t, err)
	sess := session.New(wire.NewChannel(conn), reg, session.Config{})
	t.Cleanup(func() { sess.Disconnect() })

	var out bytes.Buffer
	return newREPL(sess, manifest.Default("/work"), &out), &out
}

func TestREPLCommands(t *testing.T) {
	r, out := newTestREPL(t)
	ctx := context.Background()

	require.NoError(t, r.exec(ctx, "print (1 + 2) * 3"))
	require.Equal(t, "9\n", out.String())
	out.Reset()

	require.NoError(t, r.exec(ctx, "status"))
	require.True(t, strings.HasPrefix(out.String(), "stopped"), out.String())
	out.Reset()

	require.NoError(t, r.exec(ctx, "continue"))
	require.NoError(t, r.exec(ctx, "breaks"))
	require.Empty(t, out.String())

	require.ErrorContains(t, r.exec(ctx, "frobnicate"), "unknown command")
	require.Error(t, r.exec(ctx, "break Main.java"))
	require.Error(t, r.exec(ctx, "exceptions maybe"))
	require.Error(t, r.exec(ctx, "start"))
}

func TestREPLRunStopsAtQuit(t *testing.T) {
	r, out := newTestREPL(t)

	in := strings.NewReader("help\nquit\nstatus\n")
	require.NoError(t, r.run(context.Background(), in))
	require.Contains(t, out.String(), "Commands:")
	require.NotContains(t, out.String(), "generation")
}

func TestProgressFinishesLineOnce(t *testing.T) {
	r, out := newTestREPL(t)
	r.progress("Main.class", 512, 1024)
	r.progress("Main.class", 1024, 1024)
	r.progress("Main.class", 1024, 1024)
	require.Equal(t, 1, strings.Count(out.String(), "\n"))
	require.Contains(t, out.String(), "1.0 kB / 1.0 kB")
}
