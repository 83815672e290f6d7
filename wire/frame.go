package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	requestHeaderLen  = 4 // cmd, length[3]
	responseHeaderLen = 5 // cmd, length[3], code
	checksumLen       = 2

	// MaxFrameLen is the largest length the 3-byte field can carry.
	MaxFrameLen = 1<<24 - 1
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum length")
	ErrShortFrame    = errors.New("frame shorter than its header")
)

// Checksum is the 16-bit truncated sum of b.
func Checksum(b []byte) uint16 {
	var sum uint16
	for _, c := range b {
		sum += uint16(c)
	}
	return sum
}

func putLength(b []byte, n int) {
	b[1] = byte(n)
	b[2] = byte(n >> 8)
	b[3] = byte(n >> 16)
}

func frameLength(b []byte) int {
	return int(b[1]) | int(b[2])<<8 | int(b[3])<<16
}

func seal(frame []byte) []byte {
	return binary.LittleEndian.AppendUint16(frame, Checksum(frame))
}

// EncodeRequest frames a request.
func EncodeRequest(cmd Command, payload []byte) ([]byte, error) {
	total := requestHeaderLen + len(payload) + checksumLen
	if total > MaxFrameLen {
		return nil, fmt.Errorf("%s: %w (%d bytes)", cmd, ErrFrameTooLarge, total)
	}
	frame := make([]byte, requestHeaderLen, total)
	frame[0] = byte(cmd)
	putLength(frame, total)
	frame = append(frame, payload...)
	return seal(frame), nil
}

// EncodeResponse frames a response as a device would send it.
func EncodeResponse(cmd Command, code ResponseCode, payload []byte) ([]byte, error) {
	total := responseHeaderLen + len(payload) + checksumLen
	if total > MaxFrameLen {
		return nil, fmt.Errorf("%s: %w (%d bytes)", cmd, ErrFrameTooLarge, total)
	}
	frame := make([]byte, responseHeaderLen, total)
	frame[0] = byte(cmd) | 0x80
	putLength(frame, total)
	frame[4] = byte(code)
	frame = append(frame, payload...)
	return seal(frame), nil
}

// Request is a decoded request frame.
type Request struct {
	Cmd     Command
	Payload []byte
}

// Response is a decoded response frame.
type Response struct {
	Cmd     Command
	Code    ResponseCode
	Payload []byte
}

// Err returns nil for an OK response and a *ResponseError otherwise.
func (r *Response) Err() error {
	if r.Code == RespOK {
		return nil
	}
	return &ResponseError{Cmd: r.Cmd, Code: r.Code}
}

// Reader returns a payload reader positioned at the start of the payload.
func (r *Response) Reader() *Reader {
	return NewReader(r.Payload)
}

// ParseRequest splits a validated request frame.
func ParseRequest(frame []byte) (Request, error) {
	if len(frame) < requestHeaderLen+checksumLen {
		return Request{}, ErrShortFrame
	}
	return Request{
		Cmd:     Command(frame[0]),
		Payload: frame[requestHeaderLen : len(frame)-checksumLen],
	}, nil
}

// ParseResponse splits a validated response frame. The high bit of the
// command byte is ignored.
func ParseResponse(frame []byte) (Response, error) {
	if len(frame) < responseHeaderLen+checksumLen {
		return Response{}, ErrShortFrame
	}
	return Response{
		Cmd:     Command(frame[0] & 0x7F),
		Code:    ResponseCode(frame[4]),
		Payload: frame[responseHeaderLen : len(frame)-checksumLen],
	}, nil
}

// Drop reasons reported by a Decoder.
const (
	DropChecksum = "checksum"
	DropLength   = "length"
)

// Decoder reassembles frames from arbitrarily sized chunks. Frames with
// a bad checksum are dropped. An impossible length discards everything
// buffered, since there is no way to find the next frame boundary.
type Decoder struct {
	headerLen int
	buf       []byte

	// OnDrop, if set, is called for every discarded frame.
	OnDrop func(reason string, data []byte)
}

// NewResponseDecoder returns a Decoder for device-to-host frames.
func NewResponseDecoder() *Decoder {
	return &Decoder{headerLen: responseHeaderLen}
}

// NewRequestDecoder returns a Decoder for host-to-device frames.
func NewRequestDecoder() *Decoder {
	return &Decoder{headerLen: requestHeaderLen}
}

// Buffered reports how many bytes are waiting for the rest of a frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Reset discards any partial frame.
func (d *Decoder) Reset() { d.buf = d.buf[:0] }

// Feed appends chunk and returns every complete, valid frame.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for len(d.buf) >= 4 {
		n := frameLength(d.buf)
		if n < d.headerLen+checksumLen {
			d.drop(DropLength, d.buf)
			d.buf = d.buf[:0]
			break
		}
		if len(d.buf) < n {
			break
		}
		frame := d.buf[:n:n]
		body, sum := frame[:n-checksumLen], binary.LittleEndian.Uint16(frame[n-checksumLen:])
		if Checksum(body) != sum {
			d.drop(DropChecksum, frame)
		} else {
			frames = append(frames, append([]byte(nil), frame...))
		}
		d.buf = d.buf[n:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames
}

func (d *Decoder) drop(reason string, data []byte) {
	if d.OnDrop != nil {
		d.OnDrop(reason, data)
	}
}
