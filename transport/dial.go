package transport

import (
	"context"
	"net"
	"time"

	"github.com/sardanioss/httpcloakproxy/proxy"
)

// dialUpstream dials the target through proxyURL (http://, https:// or
// socks5:// scheme), or returns an error if proxyURL is malformed. The
// second return value reports whether the caller must write an
// absolute-form request line instead of using origin-form — true only for
// a plain http:// target reached through an http/https proxy, where no
// CONNECT tunnel exists.
func dialUpstream(ctx context.Context, proxyURL, targetScheme, host, port string, timeout time.Duration) (net.Conn, bool, error) {
	if proxy.IsSOCKS5URL(proxyURL) {
		dialer, err := proxy.NewSOCKS5Dialer(proxyURL)
		if err != nil {
			return nil, false, err
		}
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
		return conn, false, err
	}

	dialer, err := proxy.NewHTTPProxyDialer(proxyURL)
	if err != nil {
		return nil, false, err
	}

	if targetScheme == "https" {
		conn, err := dialer.DialTunnel(ctx, host, port)
		return conn, false, err
	}

	conn, err := dialer.DialPlain(ctx)
	return conn, true, err
}

// proxyAuthHeader returns the Proxy-Authorization value to send on an
// absolute-form request through an http/https proxy, or "" when proxyURL
// carries no userinfo or is not an http/https proxy (SOCKS5 authenticates
// during its own handshake, not via a header).
func proxyAuthHeader(proxyURL string) string {
	if !proxy.IsHTTPProxyURL(proxyURL) {
		return ""
	}
	dialer, err := proxy.NewHTTPProxyDialer(proxyURL)
	if err != nil {
		return ""
	}
	return dialer.AuthHeaderValue()
}
