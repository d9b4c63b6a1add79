package qspi

import (
	"errors"
	"fmt"
)

// SkipError reports a missing precondition: no flash detected, no network,
// no file to fetch. It is not a defect of the device.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skipf returns a *SkipError with a formatted reason.
func Skipf(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err carries a *SkipError.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

// ResponseError is a command whose output lacks the expected marker or
// carries a value that does not parse.
type ResponseError struct {
	Command string
	Want    string
	Output  string
	Err     error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%q: %s: %v (output: %q)", e.Command, e.Want, e.Err, truncate(e.Output, 200))
	}
	return fmt.Sprintf("%q: expected %q in output, got %q", e.Command, e.Want, truncate(e.Output, 200))
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// IntegrityError is a checksum mismatch between two copies of the same
// flash range.
type IntegrityError struct {
	Offset  uint64
	Size    uint64
	Primary uint64
	Shadow  uint64
	Want    string
	Got     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %#x bytes at flash offset %#x: %#x has %s, %#x has %s",
		e.Size, e.Offset, e.Primary, e.Want, e.Shadow, e.Got)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
