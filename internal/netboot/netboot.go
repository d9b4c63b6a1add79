// Package netboot brings up the board's network from its console and
// fetches files over TFTP.
package netboot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyrange/qspicheck/internal/console"
	"github.com/tinyrange/qspicheck/internal/qspi"
)

// EnvVar is one static network setting, e.g. ipaddr or serverip.
type EnvVar struct {
	Name  string
	Value string
}

// Config describes how the board gets on the network. DHCP and static
// settings may be combined; static settings are applied after DHCP.
type Config struct {
	DHCP      bool
	StaticEnv []EnvVar
	// ServerHost names the TFTP server. Names that are not IP literals are
	// resolved on the host and stored in serverip.
	ServerHost string
	// Resolver is the DNS server (host:port) used for ServerHost.
	Resolver string
}

// Configured reports whether any way of bringing the network up is set.
func (c Config) Configured() bool {
	return c.DHCP || len(c.StaticEnv) > 0
}

// File is a file the TFTP server is known to serve.
type File struct {
	Name string
	Addr uint64
	// Size and CRC32 are checked after the transfer when set.
	Size  uint64
	CRC32 string
}

// Client runs network commands on the board.
type Client struct {
	ch  console.Channel
	cfg Config
	log *slog.Logger
}

// New returns a Client for ch.
func New(ch console.Channel, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{ch: ch, cfg: cfg, log: logger}
}

func (c *Client) run(ctx context.Context, cmd, marker string) (string, error) {
	out, err := c.ch.Run(ctx, cmd)
	if err != nil {
		return out, fmt.Errorf("%s: %w", cmd, err)
	}
	if marker != "" && !strings.Contains(out, marker) {
		return out, &qspi.ResponseError{Command: cmd, Want: marker, Output: out}
	}
	return out, nil
}

// Up acquires an address by DHCP and/or static settings. Without any
// network configuration it returns a skip.
func (c *Client) Up(ctx context.Context) error {
	if !c.cfg.Configured() {
		return qspi.Skipf("network not initialized")
	}

	if c.cfg.DHCP {
		if _, err := c.run(ctx, "setenv autoload no", ""); err != nil {
			return err
		}
		if _, err := c.run(ctx, "dhcp", "DHCP client bound to address "); err != nil {
			return fmt.Errorf("dhcp: %w", err)
		}
		c.log.Info("netboot: dhcp bound")
	}

	for _, v := range c.cfg.StaticEnv {
		if _, err := c.run(ctx, fmt.Sprintf("setenv %s %s", v.Name, v.Value), ""); err != nil {
			return err
		}
	}

	if c.cfg.ServerHost != "" {
		ip, err := Resolve(ctx, c.cfg.ServerHost, c.cfg.Resolver)
		if err != nil {
			return fmt.Errorf("resolving tftp server: %w", err)
		}
		if _, err := c.run(ctx, "setenv serverip "+ip, ""); err != nil {
			return err
		}
		c.log.Info("netboot: tftp server", "host", c.cfg.ServerHost, "ip", ip)
	}
	return nil
}

// Fetch transfers f to f.Addr and checks its size and checksum when known.
func (c *Client) Fetch(ctx context.Context, f File) error {
	if f.Name == "" {
		return qspi.Skipf("no TFTP readable file to read")
	}

	marker := "Bytes transferred = "
	if f.Size != 0 {
		marker = fmt.Sprintf("Bytes transferred = %d", f.Size)
	}
	if _, err := c.run(ctx, fmt.Sprintf("tftpboot %x %s", f.Addr, f.Name), marker); err != nil {
		return fmt.Errorf("tftp %s: %w", f.Name, err)
	}

	if f.CRC32 != "" {
		cmd := fmt.Sprintf("crc32 %x $filesize", f.Addr)
		out, err := c.run(ctx, cmd, "")
		if err != nil {
			return fmt.Errorf("tftp %s: %w", f.Name, err)
		}
		got, err := qspi.ParseChecksum(out)
		if err != nil {
			return &qspi.ResponseError{Command: cmd, Want: "==> <crc32>", Output: out, Err: err}
		}
		if want := strings.ToLower(strings.TrimPrefix(f.CRC32, "0x")); got != want {
			return fmt.Errorf("tftp %s: crc32 %s, want %s", f.Name, got, want)
		}
	}
	c.log.Info("netboot: fetched", "file", f.Name, "addr", fmt.Sprintf("%#x", f.Addr))
	return nil
}
