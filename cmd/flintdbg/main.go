// flintdbg - terminal debugger for programs running on a Flint device
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/flintdbg/loader"
	"github.com/chazu/flintdbg/manifest"
	"github.com/chazu/flintdbg/session"
	"github.com/chazu/flintdbg/wire"
)

var log = commonlog.GetLogger("flintdbg")

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (1 = info, 2 = debug)")
	logFile := flag.String("log", "", "Write logs to this file instead of stderr")
	dir := flag.String("C", ".", "Directory to search for flint.toml")
	addr := flag.String("addr", "", "Device address host:port (overrides flint.toml)")
	serial := flag.String("serial", "", "Serial port (overrides flint.toml)")
	baud := flag.Int("baud", 0, "Serial baud rate (overrides flint.toml)")
	mainClass := flag.String("main", "", "Main class (overrides flint.toml)")
	install := flag.Bool("install", false, "Install class files before starting")
	console := flag.Bool("console", true, "Poll the device console")
	tracePath := flag.String("trace", "", "Record the wire traffic to this file")
	replay := flag.String("replay", "", "Print the frames of a recorded trace and exit")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	watch := flag.Bool("watch", true, "Reload classes when class files change")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: flintdbg [options]\n\n")
		fmt.Fprintf(os.Stderr, "Connects to a Flint device and starts an interactive debugger.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  flintdbg                          # Use ./flint.toml\n")
		fmt.Fprintf(os.Stderr, "  flintdbg -addr 10.0.0.7:5555      # Connect over TCP\n")
		fmt.Fprintf(os.Stderr, "  flintdbg -serial /dev/ttyACM0     # Connect over a serial port\n")
		fmt.Fprintf(os.Stderr, "  flintdbg -trace run.cbor          # Record the session\n")
		fmt.Fprintf(os.Stderr, "  flintdbg -replay run.cbor         # Inspect a recording\n")
	}
	flag.Parse()

	if *logFile != "" {
		commonlog.Configure(*verbosity, logFile)
	} else {
		commonlog.Configure(*verbosity, nil)
	}

	if *replay != "" {
		if err := dumpTrace(os.Stdout, *replay); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default(*dir)
	}
	if err := applyFlags(m, *addr, *serial, *baud, *mainClass, *install); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, m, options{
		console:     *console,
		tracePath:   *tracePath,
		metricsAddr: *metricsAddr,
		watch:       *watch,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	console     bool
	tracePath   string
	metricsAddr string
	watch       bool
}

// applyFlags layers command-line overrides onto the manifest.
func applyFlags(m *manifest.Manifest, addr, serial string, baud int, mainClass string, install bool) error {
	if addr != "" {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return err
		}
		m.Device.Transport = "tcp"
		m.Device.Address = host
		m.Device.Port = port
	}
	if serial != "" {
		m.Device.Transport = "serial"
		m.Device.SerialPort = serial
	}
	if baud != 0 {
		m.Device.Baud = baud
	}
	if mainClass != "" {
		m.Project.MainClass = mainClass
	}
	if install {
		m.Install.Enabled = true
	}
	return m.Validate()
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("bad address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port in %q: %w", addr, err)
	}
	return host, port, nil
}

// run connects, wires the supporting services and hands over to the REPL.
func run(ctx context.Context, m *manifest.Manifest, opts options) error {
	reg, err := loader.New(afero.NewOsFs(), m.LoaderConfig())
	if err != nil {
		return err
	}

	if opts.watch {
		go func() {
			err := reg.Watch(ctx, func(path string) {
				log.Infof("class cache cleared: %s changed", path)
			})
			if err != nil {
				log.Warningf("class watcher stopped: %s", err)
			}
		}()
	}

	var metrics *wire.Metrics
	if opts.metricsAddr != "" {
		promReg := prometheus.NewRegistry()
		metrics = wire.NewMetrics(promReg)
		srv := &http.Server{
			Addr:    opts.metricsAddr,
			Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %s", err)
			}
		}()
		defer srv.Close()
	}

	endpoint := m.Endpoint()
	conn, err := wire.Dial(ctx, endpoint)
	if err != nil {
		return err
	}

	if opts.tracePath != "" {
		f, err := os.Create(opts.tracePath)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create trace: %w", err)
		}
		defer f.Close()
		rec, err := wire.NewRecorder(conn, f, endpoint.String())
		if err != nil {
			conn.Close()
			return err
		}
		defer func() {
			if err := rec.Err(); err != nil {
				log.Warningf("trace incomplete: %s", err)
			}
		}()
		conn = rec
	}

	var chOpts []wire.Option
	if metrics != nil {
		chOpts = append(chOpts, wire.WithMetrics(metrics))
	}
	ch := wire.NewChannel(conn, chOpts...)

	sess := session.New(ch, reg, session.Config{
		Timeouts: m.SessionTimeouts(),
		Console:  opts.console,
	})
	defer sess.Disconnect()

	fmt.Printf("Connected to %s (protocol %s)\n", endpoint, wire.ProtocolVersion)
	return newREPL(sess, m, os.Stdout).run(ctx, os.Stdin)
}

func dumpTrace(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	tr, err := wire.ReadTrace(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Session %s, protocol %s, %s, started %s\n",
		tr.Header.Session, tr.Header.Protocol, tr.Header.Endpoint, tr.Header.Started.Format("2006-01-02 15:04:05"))
	reqs, resps := tr.Requests(), tr.Responses()
	for i, req := range reqs {
		fmt.Fprintf(w, "-> %-22s %d bytes\n", req.Cmd, len(req.Payload))
		if i < len(resps) {
			fmt.Fprintf(w, "<- %-22s %s %d bytes\n", resps[i].Cmd, resps[i].Code, len(resps[i].Payload))
		}
	}
	if len(resps) > len(reqs) {
		fmt.Fprintf(w, "%d unmatched responses\n", len(resps)-len(reqs))
	}
	return nil
}
