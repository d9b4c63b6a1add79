// Package qspi exercises a serial flash through the U-Boot "sf" command set
// and checks data integrity with crc32 round trips.
//
// Every operation is a blocking console command. Nothing is retried: a
// missing marker or a checksum mismatch is reported the first time it is
// seen.
package qspi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinyrange/qspicheck/internal/console"
)

// CmdProbe detects the flash and prints its geometry.
const CmdProbe = "sf probe"

// DefaultEraseAllTimeout bounds a whole-chip erase.
const DefaultEraseAllTimeout = 100 * time.Second

// ProgressFunc receives the number of bytes handled so far and the total.
type ProgressFunc func(done, total uint64)

// Flash drives the flash of one board through its console.
type Flash struct {
	ch              console.Channel
	log             *slog.Logger
	progress        ProgressFunc
	eraseAllTimeout time.Duration
}

// Option configures a Flash.
type Option func(*Flash)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flash) {
		if logger != nil {
			f.log = logger
		}
	}
}

// WithProgress sets a callback invoked after each erase window.
func WithProgress(fn ProgressFunc) Option {
	return func(f *Flash) {
		f.progress = fn
	}
}

// WithEraseAllTimeout overrides the console timeout used for a whole-chip erase.
func WithEraseAllTimeout(d time.Duration) Option {
	return func(f *Flash) {
		if d > 0 {
			f.eraseAllTimeout = d
		}
	}
}

// New returns a Flash that sends its commands over ch.
func New(ch console.Channel, opts ...Option) *Flash {
	if ch == nil {
		panic("console channel cannot be nil")
	}
	f := &Flash{
		ch:              ch,
		log:             slog.Default(),
		eraseAllTimeout: DefaultEraseAllTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// run sends cmd and requires marker in the output.
func (f *Flash) run(ctx context.Context, cmd, marker string) (string, error) {
	out, err := f.ch.Run(ctx, cmd)
	if err != nil {
		return out, fmt.Errorf("%s: %w", cmd, err)
	}
	if marker != "" && !strings.Contains(out, marker) {
		return out, &ResponseError{Command: cmd, Want: marker, Output: out}
	}
	return out, nil
}

func readCmd(dst, offset, size uint64) string {
	return fmt.Sprintf("sf read %x %x %x", dst, offset, size)
}

func writeCmd(src, offset, size uint64) string {
	return fmt.Sprintf("sf write %x %x %x", src, offset, size)
}

func eraseCmd(offset, size uint64) string {
	return fmt.Sprintf("sf erase %x %x", offset, size)
}

func checksumCmd(addr, size uint64) string {
	return fmt.Sprintf("crc32 %x %x", addr, size)
}
