package netboot

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/miekg/dns"

	"github.com/tinyrange/qspicheck/internal/qspi"
	"github.com/tinyrange/qspicheck/internal/sim"
)

var payload = []byte("boot image payload")

func newBoard(mutate func(*sim.Config)) *sim.Board {
	cfg := sim.DefaultConfig()
	cfg.Files = map[string]sim.File{"boot.bin": {Data: payload}}
	if mutate != nil {
		mutate(&cfg)
	}
	return sim.New(cfg)
}

func newClient(b *sim.Board, cfg Config) *Client {
	return New(b, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUp_NotConfigured(t *testing.T) {
	b := newBoard(nil)
	err := newClient(b, Config{}).Up(context.Background())
	if !qspi.IsSkip(err) {
		t.Fatalf("Up = %v, want skip", err)
	}
	if len(b.History()) != 0 {
		t.Errorf("commands sent: %v", b.History())
	}
}

func TestUp_DHCP(t *testing.T) {
	b := newBoard(nil)
	if err := newClient(b, Config{DHCP: true}).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if b.Env("autoload") != "no" {
		t.Errorf("autoload = %q, want no", b.Env("autoload"))
	}
	if b.Env("ipaddr") == "" {
		t.Error("no address after dhcp")
	}
}

func TestUp_DHCPFails(t *testing.T) {
	b := newBoard(func(c *sim.Config) { c.DHCP = false })
	err := newClient(b, Config{DHCP: true}).Up(context.Background())

	var respErr *qspi.ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("Up = %v, want *ResponseError", err)
	}
}

func TestUp_Static(t *testing.T) {
	b := newBoard(nil)
	cfg := Config{
		StaticEnv: []EnvVar{
			{Name: "ipaddr", Value: "10.0.0.5"},
			{Name: "netmask", Value: "255.255.255.0"},
		},
		ServerHost: "10.0.0.1",
	}
	if err := newClient(b, cfg).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	for name, want := range map[string]string{"ipaddr": "10.0.0.5", "netmask": "255.255.255.0", "serverip": "10.0.0.1"} {
		if got := b.Env(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	for _, rec := range b.History() {
		if rec.Line == "dhcp" {
			t.Error("dhcp sent for static configuration")
		}
	}
}

func TestFetch(t *testing.T) {
	sum := fmt.Sprintf("%08x", crc32.ChecksumIEEE(payload))

	tests := []struct {
		name    string
		file    File
		wantErr bool
		skip    bool
	}{
		{name: "plain", file: File{Name: "boot.bin", Addr: 0x4000000}},
		{name: "size and crc", file: File{Name: "boot.bin", Addr: 0x4000000, Size: uint64(len(payload)), CRC32: sum}},
		{name: "wrong size", file: File{Name: "boot.bin", Addr: 0x4000000, Size: 99}, wantErr: true},
		{name: "wrong crc", file: File{Name: "boot.bin", Addr: 0x4000000, CRC32: "deadbeef"}, wantErr: true},
		{name: "missing", file: File{Name: "nope.bin", Addr: 0x4000000}, wantErr: true},
		{name: "no file", file: File{}, skip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBoard(nil)
			c := newClient(b, Config{DHCP: true})
			ctx := context.Background()
			if err := c.Up(ctx); err != nil {
				t.Fatalf("Up: %v", err)
			}

			err := c.Fetch(ctx, tt.file)
			switch {
			case tt.skip:
				if !qspi.IsSkip(err) {
					t.Errorf("Fetch = %v, want skip", err)
				}
			case tt.wantErr:
				if err == nil || qspi.IsSkip(err) {
					t.Errorf("Fetch = %v, want failure", err)
				}
			default:
				if err != nil {
					t.Errorf("Fetch: %v", err)
				}
				if b.Env("filesize") != fmt.Sprintf("%x", len(payload)) {
					t.Errorf("filesize = %q", b.Env("filesize"))
				}
			}
		})
	}
}

// startDNS serves A records for names in zone on a local UDP port.
func startDNS(t *testing.T, zone map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on udp: %v", err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if ip, ok := zone[strings.TrimSuffix(q.Name, ".")]; ok && q.Qtype == dns.TypeA {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP(ip),
			})
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestResolve(t *testing.T) {
	server := startDNS(t, map[string]string{"tftp.lab": "192.168.7.2"})
	ctx := context.Background()

	ip, err := Resolve(ctx, "tftp.lab", server)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ip != "192.168.7.2" {
		t.Errorf("Resolve = %q, want 192.168.7.2", ip)
	}

	if _, err := Resolve(ctx, "missing.lab", server); err == nil {
		t.Error("expected error for unknown name")
	}

	// Literals never reach the server.
	if ip, err := Resolve(ctx, "10.1.2.3", "127.0.0.1:1"); err != nil || ip != "10.1.2.3" {
		t.Errorf("Resolve literal = %q, %v", ip, err)
	}
}

func TestUp_ResolvesServerHost(t *testing.T) {
	server := startDNS(t, map[string]string{"tftp.lab": "192.168.7.2"})
	b := newBoard(nil)
	cfg := Config{DHCP: true, ServerHost: "tftp.lab", Resolver: server}

	if err := newClient(b, cfg).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if got := b.Env("serverip"); got != "192.168.7.2" {
		t.Errorf("serverip = %q, want resolved address", got)
	}
}
