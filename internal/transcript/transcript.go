// Package transcript records console traffic to a binary log that can be
// replayed after a run.
//
// Each entry is a 16 byte header followed by the source and the data:
//   - 2 bytes kind
//   - 2 bytes source length
//   - 4 bytes data length
//   - 8 bytes timestamp (nanoseconds since epoch)
//
// Writers claim their region by atomically advancing the file offset, so
// entries from several goroutines never interleave.
package transcript

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

const headerSize = 16

// Kind is the direction or type of an entry.
type Kind uint16

const (
	KindInvalid Kind = iota
	// KindSent is a command line written to the board.
	KindSent
	// KindReceived is raw output read from the board.
	KindReceived
	// KindNote is an annotation such as a case boundary.
	KindNote
)

func (k Kind) String() string {
	switch k {
	case KindSent:
		return "sent"
	case KindReceived:
		return "recv"
	case KindNote:
		return "note"
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

// WriterAt is the storage a Recorder writes to.
type WriterAt interface {
	io.WriterAt
	io.Closer
}

// Recorder appends entries. A nil *Recorder discards everything.
type Recorder struct {
	w      WriterAt
	offset atomic.Int64
	failed atomic.Bool
}

// Create truncates path and records to it.
func Create(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	return NewRecorder(f), nil
}

// NewRecorder records to w starting at offset 0.
func NewRecorder(w WriterAt) *Recorder {
	return &Recorder{w: w}
}

func encodeHeader(kind Kind, source string, data []byte, ts time.Time) []byte {
	header := make([]byte, headerSize, headerSize+len(source)+len(data))
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(ts.UnixNano()))
	return header
}

// Record appends one entry. Write errors are remembered and reported by
// Close; recording never fails a console operation.
func (r *Recorder) Record(kind Kind, source string, data []byte) {
	if r == nil {
		return
	}
	if len(source) > 0xffff {
		source = source[:0xffff]
	}

	entry := encodeHeader(kind, source, data, time.Now())
	entry = append(entry, source...)
	entry = append(entry, data...)

	size := int64(len(entry))
	off := r.offset.Add(size) - size
	if _, err := r.w.WriteAt(entry, off); err != nil {
		r.failed.Store(true)
	}
}

// Notef records a formatted annotation.
func (r *Recorder) Notef(source, format string, args ...any) {
	if r == nil {
		return
	}
	r.Record(KindNote, source, fmt.Appendf(nil, format, args...))
}

// Close closes the underlying storage.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	err := r.w.Close()
	if r.failed.Load() {
		return errors.Join(errors.New("transcript: entries lost"), err)
	}
	return err
}

// Entry is one decoded record.
type Entry struct {
	Time   time.Time
	Kind   Kind
	Source string
	Data   []byte
}

// Each decodes entries from r in the order they were written.
func Each(r io.Reader, fn func(Entry) error) error {
	br := bufio.NewReader(r)
	var header [headerSize]byte
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("transcript: truncated header: %w", err)
		}

		kind := Kind(binary.LittleEndian.Uint16(header[0:2]))
		sourceLen := int(binary.LittleEndian.Uint16(header[2:4]))
		dataLen := int(binary.LittleEndian.Uint32(header[4:8]))
		ts := int64(binary.LittleEndian.Uint64(header[8:16]))
		if kind == KindInvalid {
			return errors.New("transcript: invalid entry")
		}

		body := make([]byte, sourceLen+dataLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return fmt.Errorf("transcript: truncated entry: %w", err)
		}

		e := Entry{
			Time:   time.Unix(0, ts),
			Kind:   kind,
			Source: string(body[:sourceLen]),
			Data:   body[sourceLen:],
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// Dump prints the transcript at path in a readable form.
func Dump(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	defer f.Close()

	var start time.Time
	return Each(f, func(e Entry) error {
		if start.IsZero() {
			start = e.Time
		}
		_, err := fmt.Fprintf(w, "%10s %-4s %-12s %q\n",
			e.Time.Sub(start).Round(time.Microsecond), e.Kind, e.Source, e.Data)
		return err
	})
}
