package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os/exec"

	"golang.org/x/net/proxy"
)

// Endpoint describes how to reach a board's console. Exactly one of Address,
// Serial or Command is expected to be set.
type Endpoint struct {
	// Address is a host:port serving the raw console (ser2net, QEMU -serial tcp).
	Address string
	// Proxy is an optional proxy URL (socks5://host:port) used for Address.
	Proxy string
	// Serial is a local serial device path.
	Serial string
	Baud   int
	// Command starts a process whose stdio is the console (e.g. U-Boot sandbox).
	Command []string
}

// Open connects to the endpoint and waits for the first prompt.
func Open(ctx context.Context, ep Endpoint, opts ...Option) (*Session, error) {
	var (
		s   *Session
		err error
	)
	switch {
	case ep.Address != "":
		s, err = Dial(ctx, ep.Address, ep.Proxy, opts...)
	case ep.Serial != "":
		s, err = OpenSerial(ep.Serial, ep.Baud, opts...)
	case len(ep.Command) > 0:
		s, err = Spawn(ctx, ep.Command, opts...)
	default:
		return nil, errors.New("console: no address, serial device or command configured")
	}
	if err != nil {
		return nil, err
	}

	if err := s.Sync(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Dial connects to a TCP console, optionally through a proxy.
func Dial(ctx context.Context, addr, proxyURL string, opts ...Option) (*Session, error) {
	var dialer proxy.ContextDialer = &net.Dialer{}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("console: parsing proxy url: %w", err)
		}
		d, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("console: proxy: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("console: proxy %s does not support contexts", u.Scheme)
		}
		dialer = cd
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("console: dial %s: %w", addr, err)
	}
	return NewSession(conn, opts...), nil
}

// process adapts a child's stdio to io.ReadWriteCloser.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stdin  io.WriteCloser
}

func (p *process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *process) Close() error {
	p.stdin.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.cmd.Wait()
	return nil
}

// Spawn starts argv and uses its stdin/stdout as the console. The process
// is killed when the session is closed.
func Spawn(ctx context.Context, argv []string, opts ...Option) (*Session, error) {
	if len(argv) == 0 {
		return nil, errors.New("console: empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("console: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("console: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("console: starting %s: %w", argv[0], err)
	}
	return NewSession(&process{cmd: cmd, stdout: stdout, stdin: stdin}, opts...), nil
}
