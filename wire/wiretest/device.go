// Package wiretest provides an in-process device that speaks the wire
// protocol over net.Pipe.
package wiretest

import (
	"net"
	"sync"

	"github.com/chazu/flintdbg/wire"
)

// Reply is what a Handler wants sent back. A nil *Reply means stay
// silent, which the host observes as a timeout.
type Reply struct {
	Code    wire.ResponseCode
	Payload []byte
	// Raw, if set, is written verbatim instead of an encoded frame.
	Raw []byte
}

// OK is a convenience for an OK reply carrying payload.
func OK(payload []byte) *Reply {
	return &Reply{Code: wire.RespOK, Payload: payload}
}

// Fail is a FAIL reply.
func Fail() *Reply {
	return &Reply{Code: wire.RespFail}
}

// Handler answers one request.
type Handler func(req wire.Request) *Reply

// Device serves requests on the far end of a pipe.
type Device struct {
	conn    net.Conn
	handler Handler

	// ChunkSize, when positive, splits every reply into writes of at
	// most this many bytes.
	ChunkSize int

	mu   sync.Mutex
	log  []wire.Request
	done chan struct{}
}

// New returns the host side of a pipe and starts serving the device side.
func New(handler Handler) (net.Conn, *Device) {
	host, dev := net.Pipe()
	d := &Device{conn: dev, handler: handler, done: make(chan struct{})}
	go d.serve()
	return host, d
}

// NewChunked is New with replies split into chunk-byte writes.
func NewChunked(handler Handler, chunk int) (net.Conn, *Device) {
	host, dev := net.Pipe()
	d := &Device{conn: dev, handler: handler, ChunkSize: chunk, done: make(chan struct{})}
	go d.serve()
	return host, d
}

func (d *Device) serve() {
	defer close(d.done)
	dec := wire.NewRequestDecoder()
	buf := make([]byte, 1024)
	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			return
		}
		for _, f := range dec.Feed(buf[:n]) {
			req, err := wire.ParseRequest(f)
			if err != nil {
				continue
			}
			req.Payload = append([]byte(nil), req.Payload...)
			d.mu.Lock()
			d.log = append(d.log, req)
			d.mu.Unlock()

			reply := d.handler(req)
			if reply == nil {
				continue
			}
			out := reply.Raw
			if out == nil {
				out, err = wire.EncodeResponse(req.Cmd, reply.Code, reply.Payload)
				if err != nil {
					continue
				}
			}
			if err := d.write(out); err != nil {
				return
			}
		}
	}
}

func (d *Device) write(b []byte) error {
	if d.ChunkSize <= 0 {
		_, err := d.conn.Write(b)
		return err
	}
	for len(b) > 0 {
		n := min(d.ChunkSize, len(b))
		if _, err := d.conn.Write(b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Requests returns every request received so far.
func (d *Device) Requests() []wire.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]wire.Request(nil), d.log...)
}

// Count returns how many requests carried cmd.
func (d *Device) Count(cmd wire.Command) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.log {
		if r.Cmd == cmd {
			n++
		}
	}
	return n
}

// Reset forgets the request log.
func (d *Device) Reset() {
	d.mu.Lock()
	d.log = nil
	d.mu.Unlock()
}

// Close ends the device side and waits for the server to stop.
func (d *Device) Close() error {
	err := d.conn.Close()
	<-d.done
	return err
}
