package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/qspicheck/internal/transcript"
)

const transcriptSource = "console"

// Session is a Channel over any byte stream (TCP, serial port, child process).
type Session struct {
	conn   io.ReadWriteCloser
	prompt string
	log    *slog.Logger
	rec    *transcript.Recorder

	// mu keeps a single command in flight.
	mu sync.Mutex

	tmu     sync.Mutex
	timeout time.Duration

	chunks    chan []byte
	done      chan struct{}
	closed    chan struct{}
	readErr   error
	closeOnce sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithPrompt sets the prompt string that terminates every response.
func WithPrompt(prompt string) Option {
	return func(s *Session) {
		if prompt != "" {
			s.prompt = prompt
		}
	}
}

// WithLogger sets the logger used for the command transcript.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithTranscript records every byte sent and received.
func WithTranscript(rec *transcript.Recorder) Option {
	return func(s *Session) {
		s.rec = rec
	}
}

// WithDefaultTimeout sets the initial per-command timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSession wraps conn and starts reading from it immediately.
func NewSession(conn io.ReadWriteCloser, opts ...Option) *Session {
	s := &Session{
		conn:    conn,
		prompt:  DefaultPrompt,
		log:     slog.Default(),
		timeout: DefaultTimeout,
		chunks:  make(chan []byte, 64),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readLoop()
	return s
}

func (s *Session) readLoop() {
	defer close(s.done)
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.rec.Record(transcript.KindReceived, transcriptSource, chunk)
			select {
			case s.chunks <- chunk:
			case <-s.closed:
				return
			}
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

// Timeout implements Channel.
func (s *Session) Timeout() time.Duration {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.timeout
}

// SetTimeout implements Channel.
func (s *Session) SetTimeout(d time.Duration) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.timeout = d
}

// Sync sends an empty line and waits for a fresh prompt, discarding anything
// the device printed before (boot banner, a stale prompt).
func (s *Session) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.Record(transcript.KindSent, transcriptSource, []byte("\n"))
	if _, err := io.WriteString(s.conn, "\n"); err != nil {
		return fmt.Errorf("console: sync: %w", err)
	}
	if _, err := s.waitPrompt(ctx, "", s.Timeout()); err != nil {
		return fmt.Errorf("console: sync: %w", err)
	}
	s.settle(settleInterval)
	return nil
}

// Run implements Channel.
func (s *Session) Run(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("console: send", "cmd", cmd)
	s.rec.Record(transcript.KindSent, transcriptSource, []byte(cmd+"\n"))
	if _, err := io.WriteString(s.conn, cmd+"\n"); err != nil {
		return "", fmt.Errorf("console: write %q: %w", cmd, err)
	}

	raw, err := s.waitPrompt(ctx, cmd, s.Timeout())
	out := cleanOutput(raw, cmd, s.prompt)
	if err != nil {
		s.log.Debug("console: command failed", "cmd", cmd, "output", out, "err", err)
		return out, fmt.Errorf("console: %q: %w", cmd, err)
	}
	s.log.Debug("console: recv", "cmd", cmd, "output", out)
	return out, nil
}

const settleInterval = 100 * time.Millisecond

// settle discards output until the line has been quiet for d.
func (s *Session) settle(d time.Duration) {
	for {
		select {
		case <-s.chunks:
		case <-time.After(d):
			return
		}
	}
}

// responseAfter returns the text from the echo of cmd onwards if it is
// complete, that is if it ends with a prompt at the start of a line. Matching
// only at line start keeps "==> " in crc32 output from being mistaken for the
// "=> " prompt, and anchoring on the echo skips anything stale before it.
func (s *Session) responseAfter(text, cmd string) (string, bool) {
	if cmd != "" {
		i := strings.Index(text, cmd)
		if i < 0 {
			return "", false
		}
		text = text[i:]
		if strings.HasSuffix(text[len(cmd):], "\n"+s.prompt) {
			return text, true
		}
		return "", false
	}
	if text == s.prompt || strings.HasSuffix(text, "\n"+s.prompt) {
		return text, true
	}
	return "", false
}

// waitPrompt collects output until the response to cmd is complete.
func (s *Session) waitPrompt(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var buf []byte
	for {
		if resp, ok := s.responseAfter(normalize(string(buf)), cmd); ok {
			return resp, nil
		}

		select {
		case chunk := <-s.chunks:
			buf = append(buf, chunk...)
		case <-s.done:
			for drained := false; !drained; {
				select {
				case chunk := <-s.chunks:
					buf = append(buf, chunk...)
				default:
					drained = true
				}
			}
			text := normalize(string(buf))
			if resp, ok := s.responseAfter(text, cmd); ok {
				return resp, nil
			}
			if s.readErr != nil && s.readErr != io.EOF {
				return text, fmt.Errorf("%w: %v", ErrClosed, s.readErr)
			}
			return text, ErrClosed
		case <-timer.C:
			return normalize(string(buf)), ErrTimeout
		case <-ctx.Done():
			return normalize(string(buf)), ctx.Err()
		}
	}
}

// Close shuts the transport down and waits briefly for the reader to exit.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
		select {
		case <-s.done:
		case <-time.After(time.Second):
		}
	})
	return err
}

// normalize strips terminal escape sequences and carriage returns.
func normalize(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// cleanOutput removes the echoed command line and the trailing prompt.
func cleanOutput(text, cmd, prompt string) string {
	text = strings.TrimSuffix(text, prompt)
	lines := strings.Split(text, "\n")
	for len(lines) > 0 {
		first := strings.TrimSpace(lines[0])
		if first == strings.TrimSpace(cmd) || first == strings.TrimSpace(prompt+cmd) {
			lines = lines[1:]
			break
		}
		if first != "" && first != strings.TrimSpace(prompt) {
			break
		}
		lines = lines[1:]
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
