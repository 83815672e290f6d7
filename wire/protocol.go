// Package wire implements the debugger's binary protocol: frame encoding,
// checksum validation, reassembly of frames split across transport reads,
// and a channel that keeps exactly one request in flight.
package wire

import "fmt"

// ProtocolVersion is the framing revision this package speaks. Both
// directions carry a 3-byte length and a trailing additive checksum, and
// embedded strings carry their own checksum.
const ProtocolVersion = "2.0.0"

// Command identifies a request. Responses echo it, possibly with the
// high bit set.
type Command uint8

const (
	CmdReadStatus Command = iota
	CmdReadStackTrace
	CmdAddBreakpoint
	CmdRemoveBreakpoint
	CmdRemoveAllBreakpoints
	CmdRun
	CmdStop
	CmdRestart
	CmdTerminate
	CmdStepIn
	CmdStepOver
	CmdStepOut
	CmdSetExceptionMode
	CmdReadExceptionInfo
	CmdReadLocal
	CmdWriteLocal
	CmdReadField
	CmdWriteField
	CmdReadArray
	CmdReadSizeAndType
	CmdOpenFile
	CmdWriteFile
	CmdCloseFile
	CmdReadConsole
	CmdEnterDebug
)

var commandNames = [...]string{
	"READ_STATUS", "READ_STACK_TRACE", "ADD_BKP", "REMOVE_BKP", "REMOVE_ALL_BKP",
	"RUN", "STOP", "RESTART", "TERMINATE", "STEP_IN", "STEP_OVER", "STEP_OUT",
	"SET_EXCP_MODE", "READ_EXCP_INFO", "READ_LOCAL", "WRITE_LOCAL", "READ_FIELD",
	"WRITE_FIELD", "READ_ARRAY", "READ_SIZE_AND_TYPE", "OPEN_FILE", "WRITE_FILE",
	"CLOSE_FILE", "READ_CONSOLE", "ENTER_DEBUG",
}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("CMD(%d)", uint8(c))
}

// ResponseCode is the device's verdict on a request.
type ResponseCode uint8

const (
	RespOK ResponseCode = iota
	RespBusy
	RespFail
	RespUnknown
)

func (c ResponseCode) String() string {
	switch c {
	case RespOK:
		return "OK"
	case RespBusy:
		return "BUSY"
	case RespFail:
		return "FAIL"
	case RespUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("RESP(%d)", uint8(c))
}

// Status is the bitfield returned by READ_STATUS.
type Status uint8

const (
	StatusStopped          Status = 0x01
	StatusStopPending      Status = 0x02
	StatusException        Status = 0x04
	StatusConsoleAvailable Status = 0x08
	StatusDone             Status = 0x10
	StatusReset            Status = 0x80
)

// Has reports whether every bit in mask is set.
func (s Status) Has(mask Status) bool { return s&mask == mask }

func (s Status) String() string {
	names := []struct {
		bit  Status
		name string
	}{
		{StatusStopped, "stopped"},
		{StatusStopPending, "stop-pending"},
		{StatusException, "exception"},
		{StatusConsoleAvailable, "console"},
		{StatusDone, "done"},
		{StatusReset, "reset"},
	}
	out := ""
	for _, n := range names {
		if s&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "running"
	}
	return out
}

// FileMode selects how OPEN_FILE treats an existing file.
type FileMode uint8

const (
	FileCreate FileMode = 0
)

// MaxChunk is the largest WRITE_FILE payload.
const MaxChunk = 512

// ResponseError reports a response whose code was not OK.
type ResponseError struct {
	Cmd  Command
	Code ResponseCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: device answered %s", e.Cmd, e.Code)
}
