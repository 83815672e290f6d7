package wire

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var traceEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	traceEncMode = em
}

// Direction of a traced chunk.
const (
	DirTx = "tx"
	DirRx = "rx"
)

// TraceHeader starts every trace stream.
type TraceHeader struct {
	Session  string    `cbor:"1,keyasint"`
	Protocol string    `cbor:"2,keyasint"`
	Started  time.Time `cbor:"3,keyasint"`
	Endpoint string    `cbor:"4,keyasint,omitempty"`
}

// TraceRecord is one transport read or write.
type TraceRecord struct {
	Dir    string        `cbor:"1,keyasint"`
	Offset time.Duration `cbor:"2,keyasint"`
	Data   []byte        `cbor:"3,keyasint"`
}

// Recorder wraps a transport and appends every chunk it carries to a
// CBOR stream.
type Recorder struct {
	conn  io.ReadWriteCloser
	start time.Time
	id    uuid.UUID

	mu  sync.Mutex
	enc *cbor.Encoder
	err error
}

// NewRecorder writes a header to out and returns the wrapped transport.
func NewRecorder(conn io.ReadWriteCloser, out io.Writer, endpoint string) (*Recorder, error) {
	r := &Recorder{
		conn:  conn,
		start: time.Now(),
		id:    uuid.New(),
		enc:   traceEncMode.NewEncoder(out),
	}
	hdr := TraceHeader{
		Session:  r.id.String(),
		Protocol: ProtocolVersion,
		Started:  r.start.UTC(),
		Endpoint: endpoint,
	}
	if err := r.enc.Encode(hdr); err != nil {
		return nil, fmt.Errorf("trace header: %w", err)
	}
	return r, nil
}

// Session identifies this trace.
func (r *Recorder) Session() uuid.UUID { return r.id }

// Err returns the first error hit while writing the trace. Trace
// failures never fail the transport.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) record(dir string, b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	rec := TraceRecord{Dir: dir, Offset: time.Since(r.start), Data: append([]byte(nil), b...)}
	if err := r.enc.Encode(rec); err != nil {
		r.err = err
		log.Warningf("trace disabled: %v", err)
	}
}

func (r *Recorder) Read(p []byte) (int, error) {
	n, err := r.conn.Read(p)
	if n > 0 {
		r.record(DirRx, p[:n])
	}
	return n, err
}

func (r *Recorder) Write(p []byte) (int, error) {
	n, err := r.conn.Write(p)
	if n > 0 {
		r.record(DirTx, p[:n])
	}
	return n, err
}

func (r *Recorder) Close() error {
	return r.conn.Close()
}

// Trace is a decoded recording.
type Trace struct {
	Header  TraceHeader
	Records []TraceRecord
}

// ReadTrace decodes a stream written by a Recorder.
func ReadTrace(in io.Reader) (*Trace, error) {
	dec := cbor.NewDecoder(in)
	t := &Trace{}
	if err := dec.Decode(&t.Header); err != nil {
		return nil, fmt.Errorf("trace header: %w", err)
	}
	for {
		var rec TraceRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("trace record %d: %w", len(t.Records), err)
		}
		t.Records = append(t.Records, rec)
	}
}

// Requests reassembles the host-to-device frames of the trace.
func (t *Trace) Requests() []Request {
	dec := NewRequestDecoder()
	var out []Request
	for _, rec := range t.Records {
		if rec.Dir != DirTx {
			continue
		}
		for _, f := range dec.Feed(rec.Data) {
			if req, err := ParseRequest(f); err == nil {
				out = append(out, req)
			}
		}
	}
	return out
}

// Responses reassembles the device-to-host frames of the trace.
func (t *Trace) Responses() []Response {
	dec := NewResponseDecoder()
	var out []Response
	for _, rec := range t.Records {
		if rec.Dir != DirRx {
			continue
		}
		for _, f := range dec.Feed(rec.Data) {
			if resp, err := ParseResponse(f); err == nil {
				out = append(out, resp)
			}
		}
	}
	return out
}
