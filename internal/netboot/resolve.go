package netboot

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

// Resolve returns the IPv4 address of host. IP literals are returned as is.
// server is a DNS server as host:port; when empty the system resolver
// configuration is used.
func Resolve(ctx context.Context, host, server string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	if server == "" {
		cc, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", resolvConf, err)
		}
		if len(cc.Servers) == 0 {
			return "", errors.New("no DNS servers configured")
		}
		server = net.JoinHostPort(cc.Servers[0], cc.Port)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	c := new(dns.Client)
	r, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return "", fmt.Errorf("dns query for %s: %w", host, err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("dns query for %s: %s", host, dns.RcodeToString[r.Rcode])
	}
	for _, rr := range r.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record for %s", host)
}
