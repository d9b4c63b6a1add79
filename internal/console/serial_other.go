//go:build !linux

package console

import (
	"fmt"
	"runtime"
)

// OpenSerial is only implemented on Linux.
func OpenSerial(path string, baud int, opts ...Option) (*Session, error) {
	return nil, fmt.Errorf("console: serial consoles are not supported on %s", runtime.GOOS)
}
