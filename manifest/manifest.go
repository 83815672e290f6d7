// Package manifest handles flint.toml launch configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/chazu/flintdbg/loader"
	"github.com/chazu/flintdbg/session"
	"github.com/chazu/flintdbg/wire"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "flint.toml"

// Manifest represents a flint.toml launch configuration.
type Manifest struct {
	Project  Project  `toml:"project"`
	Classes  Classes  `toml:"classes"`
	Device   Device   `toml:"device"`
	Timeouts Timeouts `toml:"timeouts"`
	Install  Install  `toml:"install"`

	// Dir is the directory containing the flint.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains program metadata.
type Project struct {
	Name      string `toml:"name"`
	MainClass string `toml:"main-class"`
}

// Classes configures where compiled classes and sources are found.
type Classes struct {
	Cwd        string   `toml:"cwd"`
	ClassPath  []string `toml:"class-path"`
	SourcePath []string `toml:"source-path"`
	Modules    []string `toml:"modules"` // archive bundles
}

// Device configures the transport to the target.
type Device struct {
	Transport  string `toml:"transport"` // "tcp" or "serial"
	Address    string `toml:"address"`
	Port       int    `toml:"port"`
	SerialPort string `toml:"serial-port"`
	Baud       int    `toml:"baud"`
	// Protocol is a semver constraint the client's protocol version must meet.
	Protocol string `toml:"protocol"`
}

// Timeouts are in milliseconds.
type Timeouts struct {
	Default     int `toml:"default-ms"`
	Long        int `toml:"long-ms"`
	Install     int `toml:"install-ms"`
	StatusPoll  int `toml:"status-poll-ms"`
	ConsolePoll int `toml:"console-poll-ms"`
}

// Install configures copying the program to the device at launch.
type Install struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Default returns a manifest rooted at dir with every default applied.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Classes.Cwd == "" {
		m.Classes.Cwd = "."
	}
	if m.Device.Transport == "" {
		m.Device.Transport = "tcp"
	}
	if m.Device.Address == "" {
		m.Device.Address = "127.0.0.1"
	}
	if m.Device.Port == 0 {
		m.Device.Port = 5555
	}
	if m.Device.Baud == 0 {
		m.Device.Baud = wire.DefaultBaud
	}

	def := session.DefaultTimeouts()
	setMs(&m.Timeouts.Default, def.Default)
	setMs(&m.Timeouts.Long, def.Long)
	setMs(&m.Timeouts.Install, def.Install)
	setMs(&m.Timeouts.StatusPoll, def.StatusPoll)
	setMs(&m.Timeouts.ConsolePoll, def.ConsolePoll)
}

func setMs(ms *int, d time.Duration) {
	if *ms == 0 {
		*ms = int(d.Milliseconds())
	}
}

// Load parses a flint.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a flint.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks the transport settings and the protocol constraint.
func (m *Manifest) Validate() error {
	switch m.Device.Transport {
	case "tcp":
	case "serial":
		if m.Device.SerialPort == "" {
			return fmt.Errorf("device: serial transport needs serial-port")
		}
	default:
		return fmt.Errorf("device: unknown transport %q", m.Device.Transport)
	}
	return CheckProtocol(m.Device.Protocol)
}

// CheckProtocol reports whether this client's protocol version satisfies
// constraint. An empty constraint accepts any version.
func CheckProtocol(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("device: bad protocol constraint %q: %w", constraint, err)
	}
	v := semver.MustParse(wire.ProtocolVersion)
	if ok, errs := c.Validate(v); !ok {
		if len(errs) > 0 {
			return fmt.Errorf("device: protocol %s rejected: %w", v, errs[0])
		}
		return fmt.Errorf("device: protocol %s does not satisfy %q", v, constraint)
	}
	return nil
}

// path resolves p against the manifest directory.
func (m *Manifest) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

func (m *Manifest) paths(ps []string) []string {
	var out []string
	for _, p := range ps {
		out = append(out, m.path(p))
	}
	return out
}

// LoaderConfig returns the class registry configuration with every
// directory made absolute.
func (m *Manifest) LoaderConfig() loader.Config {
	return loader.Config{
		Cwd:        m.path(m.Classes.Cwd),
		ClassPath:  m.paths(m.Classes.ClassPath),
		SourcePath: m.paths(m.Classes.SourcePath),
		Modules:    m.paths(m.Classes.Modules),
	}
}

// Endpoint returns the transport description for wire.Dial.
func (m *Manifest) Endpoint() wire.Endpoint {
	return wire.Endpoint{
		Transport: m.Device.Transport,
		Address:   m.Device.Address,
		Port:      m.Device.Port,
		Serial:    m.Device.SerialPort,
		Baud:      m.Device.Baud,
	}
}

// SessionTimeouts converts the [timeouts] table.
func (m *Manifest) SessionTimeouts() session.Timeouts {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return session.Timeouts{
		Default:     ms(m.Timeouts.Default),
		Long:        ms(m.Timeouts.Long),
		Install:     ms(m.Timeouts.Install),
		StatusPoll:  ms(m.Timeouts.StatusPoll),
		ConsolePoll: ms(m.Timeouts.ConsolePoll),
	}
}

// InstallDir returns the directory whose class files are installed,
// defaulting to the class working directory.
func (m *Manifest) InstallDir() string {
	if m.Install.Dir != "" {
		return m.path(m.Install.Dir)
	}
	return m.path(m.Classes.Cwd)
}
