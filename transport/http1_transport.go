package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sardanioss/httpcloakproxy/apierrors"
	"github.com/sardanioss/httpcloakproxy/dns"
	"github.com/sardanioss/httpcloakproxy/fingerprint"
	utls "github.com/sardanioss/utls"
)

// HTTP1Transport is a custom HTTP/1.1 transport with uTLS fingerprinting and
// a small keep-alive connection pool, used both standalone for plaintext
// http:// targets and as the ALPN fallback when an https target doesn't
// negotiate h2.
type HTTP1Transport struct {
	preset   *fingerprint.Preset
	dnsCache *dns.Cache
	proxyURL string

	idleConns   map[string][]*http1Conn
	idleConnsMu sync.Mutex

	sessionCache *sessionCache

	maxIdleConnsPerHost int
	maxIdleTime         time.Duration
	connectTimeout      time.Duration
	responseTimeout     time.Duration

	stopCleanup chan struct{}
	closed      bool
	closedMu    sync.RWMutex
}

type http1Conn struct {
	host         string
	port         string
	conn         net.Conn
	tlsConn      *utls.UConn
	br           *bufio.Reader
	bw           *bufio.Writer
	createdAt    time.Time
	lastUsedAt   time.Time
	useCount     int64
	mu           sync.Mutex
	closed       bool
	absoluteForm bool
}

// NewHTTP1Transport creates an HTTP/1.1 transport with uTLS fingerprinting,
// optionally dialing through proxyURL (empty string means direct).
func NewHTTP1Transport(preset *fingerprint.Preset, dnsCache *dns.Cache, proxyURL string) *HTTP1Transport {
	t := &HTTP1Transport{
		preset:              preset,
		dnsCache:            dnsCache,
		proxyURL:            proxyURL,
		idleConns:           make(map[string][]*http1Conn),
		sessionCache:        newSessionCache(),
		maxIdleConnsPerHost: 6,
		maxIdleTime:         90 * time.Second,
		connectTimeout:      30 * time.Second,
		responseTimeout:     60 * time.Second,
		stopCleanup:         make(chan struct{}),
	}

	go t.cleanupLoop()

	return t
}

func (t *HTTP1Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return nil, apierrors.New(apierrors.Internal, "transport is closed", nil)
	}
	t.closedMu.RUnlock()

	host := req.URL.Hostname()
	port := req.URL.Port()
	scheme := req.URL.Scheme

	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	key := fmt.Sprintf("%s://%s:%s", scheme, host, port)

	if conn, err := t.getIdleConn(key); err == nil && conn != nil {
		resp, err := t.doRequest(conn, req)
		if err == nil {
			t.putIdleConn(key, conn)
			return resp, nil
		}
		conn.close()
	}

	conn, err := t.createConn(req.Context(), host, port, scheme)
	if err != nil {
		return nil, err
	}

	resp, err := t.doRequest(conn, req)
	if err != nil {
		conn.close()
		if isTimeoutErr(req.Context(), err) {
			return nil, apierrors.New(apierrors.Timeout, "http/1.1 request timed out", err)
		}
		return nil, apierrors.New(apierrors.UpstreamDial, "http/1.1 request failed", err)
	}

	if t.shouldKeepAlive(req, resp) {
		t.putIdleConn(key, conn)
	} else {
		conn.close()
	}

	return resp, nil
}

func (t *HTTP1Transport) createConn(ctx context.Context, host, port, scheme string) (*http1Conn, error) {
	var rawConn net.Conn
	var err error

	usingProxy := t.proxyURL != ""
	absoluteForm := false

	if usingProxy {
		rawConn, absoluteForm, err = dialUpstream(ctx, t.proxyURL, scheme, host, port, t.connectTimeout)
		if err != nil {
			return nil, apierrors.New(apierrors.ProxyProtocol, "proxy connection failed", err)
		}
	} else {
		ip, rerr := t.dnsCache.ResolveOne(ctx, host)
		if rerr != nil {
			return nil, apierrors.New(apierrors.UpstreamDial, "dns resolution failed", rerr)
		}

		addr := net.JoinHostPort(ip.String(), port)
		dialer := &net.Dialer{Timeout: t.connectTimeout, KeepAlive: 30 * time.Second}

		rawConn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			t.dnsCache.Invalidate(host)
			return nil, apierrors.New(apierrors.UpstreamDial, "tcp connect failed", err)
		}
	}

	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
		tcpConn.SetNoDelay(true)
	}

	conn := &http1Conn{
		host:         host,
		port:         port,
		conn:         rawConn,
		createdAt:    time.Now(),
		lastUsedAt:   time.Now(),
		absoluteForm: absoluteForm,
	}

	if scheme == "https" {
		tlsConfig := &utls.Config{
			ServerName:         host,
			MinVersion:         tls.VersionTLS12,
			MaxVersion:         tls.VersionTLS13,
			ClientSessionCache: clientSessionCacheAdapter{t.sessionCache},
			NextProtos:         []string{"http/1.1"},
		}

		tlsConn := utls.UClient(rawConn, tlsConfig, t.preset.ClientHelloID)

		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, apierrors.New(apierrors.UpstreamTLS, "tls handshake failed", err)
		}

		conn.tlsConn = tlsConn
		conn.conn = tlsConn
	}

	conn.br = bufio.NewReaderSize(conn.conn, 4096)
	conn.bw = bufio.NewWriterSize(conn.conn, 4096)

	return conn, nil
}

// doRequest writes req and reads the response. When dialed through a plain
// http:// proxy, the request line carries the absolute URI per RFC 7230 §5.3.2
// instead of going through a CONNECT tunnel. The socket deadline tracks
// req.Context() rather than a fixed constant, so the hop is bounded by
// whatever the caller configured for this request; cancelling the context
// before the deadline (client disconnect, engine shutdown) pulls the
// deadline forward to abort whatever write/read is in flight.
func (t *HTTP1Transport) doRequest(conn *http1Conn, req *http.Request) (*http.Response, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.closed {
		return nil, fmt.Errorf("connection closed")
	}

	conn.lastUsedAt = time.Now()
	conn.useCount++

	deadline := time.Now().Add(t.responseTimeout)
	if d, ok := req.Context().Deadline(); ok {
		deadline = d
	}
	conn.conn.SetDeadline(deadline)
	defer conn.conn.SetDeadline(time.Time{})

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-req.Context().Done():
			conn.conn.SetDeadline(time.Now())
		case <-watchDone:
		}
	}()

	if err := t.writeRequest(conn, req, conn.absoluteForm); err != nil {
		return nil, err
	}

	resp, err := http.ReadResponse(conn.br, req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// isTimeoutErr reports whether err stems from the hop's deadline firing,
// either through context cancellation or the socket's own deadline expiring.
func isTimeoutErr(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (t *HTTP1Transport) writeRequest(conn *http1Conn, req *http.Request, absoluteForm bool) error {
	uri := req.URL.RequestURI()
	if absoluteForm {
		uri = req.URL.String()
	}
	if uri == "" {
		uri = "/"
	}
	fmt.Fprintf(conn.bw, "%s %s HTTP/1.1\r\n", req.Method, uri)

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	fmt.Fprintf(conn.bw, "Host: %s\r\n", host)

	if absoluteForm {
		if auth := proxyAuthHeader(t.proxyURL); auth != "" {
			fmt.Fprintf(conn.bw, "Proxy-Authorization: Basic %s\r\n", auth)
		}
	}

	t.writeHeadersInOrder(conn.bw, req)

	conn.bw.WriteString("\r\n")

	if err := conn.bw.Flush(); err != nil {
		return err
	}

	if req.Body != nil {
		if _, err := io.Copy(conn.bw, req.Body); err != nil {
			return err
		}
		conn.bw.Flush()
	}

	return nil
}

// writeHeadersInOrder writes headers in the order a real browser emits them.
// The caller (headers.Composer) is responsible for the header set itself;
// this only controls wire order.
func (t *HTTP1Transport) writeHeadersInOrder(w *bufio.Writer, req *http.Request) {
	headerOrder := []string{
		"Connection",
		"Cache-Control",
		"Upgrade-Insecure-Requests",
		"User-Agent",
		"Accept",
		"Accept-Encoding",
		"Accept-Language",
		"Cookie",
		"Referer",
		"Origin",
		"Sec-Fetch-Dest",
		"Sec-Fetch-Mode",
		"Sec-Fetch-Site",
		"Sec-Fetch-User",
		"Content-Type",
		"Content-Length",
	}

	written := make(map[string]bool)

	for _, key := range headerOrder {
		if key == "Content-Length" {
			if values, ok := req.Header[key]; ok {
				for _, v := range values {
					fmt.Fprintf(w, "%s: %s\r\n", key, v)
				}
				written[key] = true
			} else if req.ContentLength > 0 {
				fmt.Fprintf(w, "Content-Length: %d\r\n", req.ContentLength)
				written[key] = true
			} else if req.ContentLength == 0 && req.Body != nil {
				fmt.Fprintf(w, "Content-Length: 0\r\n")
				written[key] = true
			}
			continue
		}

		if values, ok := req.Header[key]; ok {
			for _, v := range values {
				fmt.Fprintf(w, "%s: %s\r\n", key, v)
			}
			written[key] = true
		}
	}

	for key, values := range req.Header {
		if written[key] {
			continue
		}
		if strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			fmt.Fprintf(w, "%s: %s\r\n", key, v)
		}
	}

	if _, ok := req.Header["Connection"]; !ok {
		fmt.Fprintf(w, "Connection: keep-alive\r\n")
	}
}

func (t *HTTP1Transport) shouldKeepAlive(req *http.Request, resp *http.Response) bool {
	if resp.Header.Get("Connection") == "close" {
		return false
	}
	if req.Header.Get("Connection") == "close" {
		return false
	}
	if resp.ProtoMajor == 1 && resp.ProtoMinor >= 1 {
		return true
	}
	return strings.ToLower(resp.Header.Get("Connection")) == "keep-alive"
}

func (t *HTTP1Transport) getIdleConn(key string) (*http1Conn, error) {
	t.idleConnsMu.Lock()
	defer t.idleConnsMu.Unlock()

	conns := t.idleConns[key]
	if len(conns) == 0 {
		return nil, nil
	}

	conn := conns[len(conns)-1]
	t.idleConns[key] = conns[:len(conns)-1]

	if time.Since(conn.lastUsedAt) > t.maxIdleTime {
		conn.close()
		return nil, nil
	}

	return conn, nil
}

func (t *HTTP1Transport) putIdleConn(key string, conn *http1Conn) {
	t.idleConnsMu.Lock()
	defer t.idleConnsMu.Unlock()

	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		conn.close()
		return
	}
	t.closedMu.RUnlock()

	conns := t.idleConns[key]
	if len(conns) >= t.maxIdleConnsPerHost {
		oldConn := conns[0]
		conns = conns[1:]
		go oldConn.close()
	}

	conn.lastUsedAt = time.Now()
	t.idleConns[key] = append(conns, conn)
}

func (c *http1Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.tlsConn != nil {
		c.tlsConn.Close()
	} else if c.conn != nil {
		c.conn.Close()
	}
}

func (t *HTTP1Transport) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCleanup:
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

func (t *HTTP1Transport) cleanup() {
	t.idleConnsMu.Lock()
	defer t.idleConnsMu.Unlock()

	for key, conns := range t.idleConns {
		var active []*http1Conn
		for _, conn := range conns {
			if time.Since(conn.lastUsedAt) > t.maxIdleTime {
				go conn.close()
			} else {
				active = append(active, conn)
			}
		}
		if len(active) > 0 {
			t.idleConns[key] = active
		} else {
			delete(t.idleConns, key)
		}
	}
}

func (t *HTTP1Transport) Close() {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return
	}
	t.closed = true
	t.closedMu.Unlock()

	close(t.stopCleanup)

	t.idleConnsMu.Lock()
	for _, conns := range t.idleConns {
		for _, conn := range conns {
			go conn.close()
		}
	}
	t.idleConns = nil
	t.idleConnsMu.Unlock()
}

func (t *HTTP1Transport) GetDNSCache() *dns.Cache {
	return t.dnsCache
}
