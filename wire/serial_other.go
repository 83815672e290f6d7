//go:build !linux

package wire

import (
	"fmt"
	"io"
)

// OpenSerial is only implemented on Linux.
func OpenSerial(path string, baud int) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("serial %s: %w", path, ErrSerialUnsupported)
}
