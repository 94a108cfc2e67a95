package connector

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"golang.org/x/net/proxy"
)

// Chained returns a Dialer that reaches every destination through an
// upstream SOCKS5 proxy instead of dialing it directly, enabling the
// chaining scenario spec.md §8 describes (server A configured with an
// outbound factory that connects via SOCKS5 to server B). upstream must
// be a socks5://[user:pass@]host:port URL.
func Chained(upstream *url.URL) (Dialer, error) {
	if upstream.Scheme != "socks5" && upstream.Scheme != "socks5h" {
		return nil, fmt.Errorf("connector: unsupported upstream scheme %q", upstream.Scheme)
	}
	var auth *proxy.Auth
	if upstream.User != nil {
		password, _ := upstream.User.Password()
		auth = &proxy.Auth{User: upstream.User.Username(), Password: password}
	}
	upstreamDialer, err := proxy.SOCKS5("tcp", upstream.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("connector: building upstream socks5 dialer: %w", err)
	}
	ctxDialer, ok := upstreamDialer.(proxy.ContextDialer)
	if !ok {
		// golang.org/x/net/proxy.SOCKS5 always returns a ContextDialer;
		// this branch only guards against a future change to that
		// contract.
		return func(ctx context.Context, host string, port uint16) (net.Conn, error) {
			return upstreamDialer.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
		}, nil
	}
	return func(ctx context.Context, host string, port uint16) (net.Conn, error) {
		return ctxDialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	}, nil
}
