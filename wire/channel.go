package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("flintdbg.wire")

var (
	ErrTimeout = errors.New("no response")
	ErrClosed  = errors.New("channel closed")
)

// Drop reasons reported by a Channel.
const (
	// DropStale marks a response nobody was waiting for.
	DropStale = "stale"
	// DropPartial marks bytes of an unfinished frame discarded after a
	// timeout.
	DropPartial = "partial"
)

type pending struct {
	cmd Command
	ch  chan Response
}

// Channel is a request/response session over one transport. At most one
// request is in flight; later callers queue on the semaphore.
type Channel struct {
	conn    io.ReadWriteCloser
	metrics *Metrics

	sem chan struct{}

	mu      sync.Mutex
	waiting *pending
	readErr error

	// resync asks the reader to discard any partial frame before
	// decoding the next read.
	resync atomic.Bool

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithMetrics records traffic into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// NewChannel takes ownership of conn and starts reading from it.
func NewChannel(conn io.ReadWriteCloser, opts ...Option) *Channel {
	c := &Channel{
		conn:   conn,
		sem:    make(chan struct{}, 1),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	go c.readLoop()
	return c
}

// Metrics returns the channel's collectors.
func (c *Channel) Metrics() *Metrics { return c.metrics }

// Done is closed once the transport has failed or the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// Err returns the transport error that ended the read loop, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Close shuts the transport and waits for the reader to exit.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	<-c.done
	return err
}

// Send writes one request and waits for its response. It returns
// ErrTimeout when nothing valid arrives within timeout; a late answer is
// then discarded rather than handed to the next caller.
func (c *Channel) Send(ctx context.Context, cmd Command, payload []byte, timeout time.Duration) (*Response, error) {
	frame, err := EncodeRequest(cmd, payload)
	if err != nil {
		return nil, err
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
	defer func() { <-c.sem }()

	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	p := &pending{cmd: cmd, ch: make(chan Response, 1)}
	c.mu.Lock()
	c.waiting = p
	c.mu.Unlock()
	defer c.clear(p)

	start := time.Now()
	if _, err := c.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("%s: write: %w", cmd, err)
	}
	c.metrics.sent.WithLabelValues(cmd.String()).Inc()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-p.ch:
		c.metrics.latency.WithLabelValues(cmd.String()).Observe(time.Since(start).Seconds())
		c.metrics.responses.WithLabelValues(cmd.String(), resp.Code.String()).Inc()
		return &resp, nil
	case <-timer.C:
		c.metrics.timeouts.WithLabelValues(cmd.String()).Inc()
		c.resync.Store(true)
		log.Debugf("%s: no response after %s", cmd, timeout)
		return nil, fmt.Errorf("%s: %w after %s", cmd, ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

// Call is Send followed by a check of the response code.
func (c *Channel) Call(ctx context.Context, cmd Command, payload []byte, timeout time.Duration) (*Response, error) {
	resp, err := c.Send(ctx, cmd, payload, timeout)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Channel) clear(p *pending) {
	c.mu.Lock()
	if c.waiting == p {
		c.waiting = nil
	}
	c.mu.Unlock()
}

func (c *Channel) readLoop() {
	defer close(c.done)

	dec := NewResponseDecoder()
	dec.OnDrop = func(reason string, data []byte) {
		c.metrics.dropped.WithLabelValues(reason).Inc()
		log.Debugf("dropped %d bytes: %s", len(data), reason)
	}

	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if c.resync.Swap(false) && dec.Buffered() > 0 {
				dec.OnDrop(DropPartial, make([]byte, dec.Buffered()))
				dec.Reset()
			}
			for _, frame := range dec.Feed(buf[:n]) {
				resp, perr := ParseResponse(frame)
				if perr != nil {
					dec.OnDrop(DropLength, frame)
					continue
				}
				c.deliver(resp)
			}
		}
		if err != nil {
			c.mu.Lock()
			select {
			case <-c.closed:
			default:
				c.readErr = err
			}
			c.mu.Unlock()
			if !errors.Is(err, io.EOF) {
				log.Debugf("read: %v", err)
			}
			c.closeOnce.Do(func() {
				close(c.closed)
				c.conn.Close()
			})
			return
		}
	}
}

func (c *Channel) deliver(resp Response) {
	c.mu.Lock()
	p := c.waiting
	if p != nil && p.cmd == resp.Cmd {
		c.waiting = nil
	} else {
		p = nil
	}
	c.mu.Unlock()

	if p == nil {
		c.metrics.dropped.WithLabelValues(DropStale).Inc()
		log.Debugf("dropped stale %s response", resp.Cmd)
		return
	}
	p.ch <- resp
}
