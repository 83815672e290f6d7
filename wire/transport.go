package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// DefaultBaud is the serial rate used when none is configured.
const DefaultBaud = 921600

var ErrSerialUnsupported = errors.New("serial transport not supported on this platform")

// Endpoint describes how to reach the device.
type Endpoint struct {
	// Transport is "tcp" or "serial".
	Transport string
	Address   string
	Port      int
	Serial    string
	Baud      int
}

func (e Endpoint) String() string {
	if e.Transport == "serial" {
		return fmt.Sprintf("serial:%s@%d", e.Serial, e.Baud)
	}
	return net.JoinHostPort(e.Address, fmt.Sprint(e.Port))
}

// Dial opens the transport described by e.
func Dial(ctx context.Context, e Endpoint) (io.ReadWriteCloser, error) {
	switch e.Transport {
	case "", "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", e.String())
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", e, err)
		}
		return conn, nil
	case "serial":
		baud := e.Baud
		if baud == 0 {
			baud = DefaultBaud
		}
		return OpenSerial(e.Serial, baud)
	default:
		return nil, fmt.Errorf("unknown transport %q", e.Transport)
	}
}
