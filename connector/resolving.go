package connector

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// ResolvingDialer returns a Dialer that resolves ATYPDomain destinations
// itself, against upstreamDNS (host:port of a recursive resolver), before
// dialing the resolved address with dial. IPv4/IPv6 destinations arrive
// already resolved and are dialed unchanged. This exists for the case
// spec.md §4.4 carves out explicitly: a user-supplied factory performing
// its own resolution rather than delegating to the platform resolver —
// useful when the gateway's host and the client expect different DNS
// views.
func ResolvingDialer(upstreamDNS string, dial Dialer) Dialer {
	client := &dns.Client{Net: "udp"}
	return func(ctx context.Context, host string, port uint16) (net.Conn, error) {
		if ip := net.ParseIP(host); ip != nil {
			return dial(ctx, host, port)
		}
		resolved, err := resolveA(client, upstreamDNS, host)
		if err != nil {
			return nil, &Error{Kind: KindHostUnreachable, Err: err}
		}
		return dial(ctx, resolved, port)
	}
}

func resolveA(client *dns.Client, upstreamDNS, host string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := client.Exchange(msg, upstreamDNS)
	if err != nil {
		return "", fmt.Errorf("resolving %s via %s: %w", host, upstreamDNS, err)
	}
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record for %s", host)
}
