// Package console talks to a U-Boot style command console: one command line
// in, captured text out, terminated by the board's prompt.
package console

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when the prompt does not come back in time.
	ErrTimeout = errors.New("console: timed out waiting for prompt")
	// ErrClosed is returned when the transport goes away mid-command.
	ErrClosed = errors.New("console: connection closed")
)

const (
	DefaultPrompt  = "=> "
	DefaultTimeout = 30 * time.Second
)

// Channel executes a single command on the device and returns its output.
// Implementations handle one command at a time.
type Channel interface {
	// Run sends cmd and blocks until the device prints its prompt again.
	// The returned text has the command echo and the trailing prompt removed.
	Run(ctx context.Context, cmd string) (string, error)
	// Timeout returns the per-command timeout currently in effect.
	Timeout() time.Duration
	// SetTimeout replaces the per-command timeout.
	SetTimeout(d time.Duration)
}

// WithTimeout runs fn with the channel's timeout set to d and restores the
// previous value afterwards, even when fn fails or panics.
func WithTimeout(ch Channel, d time.Duration, fn func() error) error {
	prev := ch.Timeout()
	ch.SetTimeout(d)
	defer ch.SetTimeout(prev)
	return fn()
}
