package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"
)

// SOCKS5Dialer dials through a socks5:// or socks5h:// upstream proxy using
// the TCP CONNECT command (RFC 1928). Shaped like HTTPProxyDialer: a parsed
// proxy URL plus a timeout, with the address and auth plumbing derived from
// it lazily rather than duplicated into separate fields.
type SOCKS5Dialer struct {
	proxyURL *url.URL
	timeout  time.Duration
}

// NewSOCKS5Dialer parses proxyURLStr (scheme socks5 or socks5h) into a dialer.
func NewSOCKS5Dialer(proxyURLStr string) (*SOCKS5Dialer, error) {
	u, err := url.Parse(proxyURLStr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}
	return &SOCKS5Dialer{proxyURL: u, timeout: 30 * time.Second}, nil
}

func (d *SOCKS5Dialer) proxyAddr() string {
	port := d.proxyURL.Port()
	if port == "" {
		port = "1080"
	}
	return net.JoinHostPort(d.proxyURL.Hostname(), port)
}

// credentials returns the username/password carried in the proxy URL's
// userinfo, or "", "" if none was set.
func (d *SOCKS5Dialer) credentials() (string, string) {
	if d.proxyURL.User == nil {
		return "", ""
	}
	user := d.proxyURL.User.Username()
	pass, _ := d.proxyURL.User.Password()
	return user, pass
}

// DialContext connects to target through the proxy and performs the SOCKS5
// handshake and CONNECT request, returning the open tunnel on success.
func (d *SOCKS5Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	targetHost, targetPort, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid target address: %w", err)
	}

	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.proxyAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := d.handshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("SOCKS5 handshake failed: %w", err)
	}

	if err := d.connect(conn, targetHost, targetPort); err != nil {
		conn.Close()
		return nil, fmt.Errorf("SOCKS5 CONNECT failed: %w", err)
	}

	conn.SetDeadline(time.Time{})
	return conn, nil
}

// handshake performs method negotiation and, if the proxy demands it,
// username/password authentication (RFC 1929).
func (d *SOCKS5Dialer) handshake(conn net.Conn) error {
	user, _ := d.credentials()

	greeting := []byte{socks5Version, 0x01, authNone}
	if user != "" {
		greeting = []byte{socks5Version, 0x02, authNone, authPassword}
	}
	if _, err := conn.Write(greeting); err != nil {
		return fmt.Errorf("failed to send greeting: %w", err)
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("failed to read method response: %w", err)
	}
	if resp[0] != socks5Version {
		return fmt.Errorf("unexpected SOCKS version in reply: %d", resp[0])
	}

	switch resp[1] {
	case authNone:
		return nil
	case authPassword:
		return d.passwordAuth(conn)
	case authNoAccept:
		return errors.New("proxy rejected every offered authentication method")
	default:
		return fmt.Errorf("unsupported authentication method: %d", resp[1])
	}
}

// passwordAuth runs the username/password sub-negotiation (RFC 1929).
func (d *SOCKS5Dialer) passwordAuth(conn net.Conn) error {
	user, pass := d.credentials()
	if user == "" {
		return errors.New("proxy requires authentication but the proxy URL carries no credentials")
	}

	req := make([]byte, 0, 3+len(user)+len(pass))
	req = append(req, 0x01, byte(len(user)))
	req = append(req, user...)
	req = append(req, byte(len(pass)))
	req = append(req, pass...)

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("failed to send auth sub-negotiation: %w", err)
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("failed to read auth status: %w", err)
	}
	if resp[1] != 0x00 {
		return errors.New("proxy rejected the supplied credentials")
	}
	return nil
}

// connect sends the CONNECT request naming host/port and consumes the
// reply, including the bound-address field this module has no use for.
func (d *SOCKS5Dialer) connect(conn net.Conn, host, port string) error {
	portNum, err := net.LookupPort("tcp", port)
	if err != nil {
		return fmt.Errorf("invalid target port: %w", err)
	}

	request := []byte{socks5Version, cmdConnect, 0x00}
	switch ip := net.ParseIP(host); {
	case ip == nil:
		if len(host) > 255 {
			return errors.New("target hostname too long for SOCKS5 domain addressing")
		}
		request = append(request, atypDomain, byte(len(host)))
		request = append(request, host...)
	case ip.To4() != nil:
		request = append(request, atypIPv4)
		request = append(request, ip.To4()...)
	default:
		request = append(request, atypIPv6)
		request = append(request, ip.To16()...)
	}

	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, uint16(portNum))
	request = append(request, portBytes...)

	if _, err := conn.Write(request); err != nil {
		return fmt.Errorf("failed to send CONNECT request: %w", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return fmt.Errorf("failed to read CONNECT reply header: %w", err)
	}
	if header[0] != socks5Version {
		return fmt.Errorf("unexpected SOCKS version in CONNECT reply: %d", header[0])
	}
	if header[1] != replySuccess {
		return fmt.Errorf("CONNECT refused: %s (code %d)", socks5ReplyString(header[1]), header[1])
	}

	return d.discardBoundAddr(conn, header[3])
}

// discardBoundAddr reads and drops the bound-address field a CONNECT reply
// carries — the tunnel is identified by the connection itself, not this value.
func (d *SOCKS5Dialer) discardBoundAddr(conn net.Conn, atyp byte) error {
	switch atyp {
	case atypIPv4:
		_, err := io.ReadFull(conn, make([]byte, net.IPv4len+2))
		return err
	case atypIPv6:
		_, err := io.ReadFull(conn, make([]byte, net.IPv6len+2))
		return err
	case atypDomain:
		length := make([]byte, 1)
		if _, err := io.ReadFull(conn, length); err != nil {
			return err
		}
		_, err := io.ReadFull(conn, make([]byte, int(length[0])+2))
		return err
	default:
		return fmt.Errorf("unsupported address type in CONNECT reply: %d", atyp)
	}
}

// IsSOCKS5URL reports whether proxyURL is a socks5:// or socks5h:// proxy.
func IsSOCKS5URL(proxyURL string) bool {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return false
	}
	return u.Scheme == "socks5" || u.Scheme == "socks5h"
}
