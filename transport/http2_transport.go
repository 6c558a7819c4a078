package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sardanioss/httpcloakproxy/apierrors"
	"github.com/sardanioss/httpcloakproxy/dns"
	"github.com/sardanioss/httpcloakproxy/fingerprint"
	"golang.org/x/net/http2"
	utls "github.com/sardanioss/utls"
)

// HTTP2Transport dials https:// targets over a frame-level fingerprinted
// HTTP/2 connection and keeps it alive for reuse by later requests in the
// same session.
type HTTP2Transport struct {
	preset   *fingerprint.Preset
	dnsCache *dns.Cache
	proxyURL string

	conns   map[string]*persistentConn
	connsMu sync.RWMutex

	sessionCache *sessionCache

	maxIdleTime    time.Duration
	maxConnAge     time.Duration
	connectTimeout time.Duration

	stopCleanup chan struct{}
	closed      bool
}

type persistentConn struct {
	host           string
	tlsConn        *utls.UConn
	h2Conn         *http2.ClientConn
	createdAt      time.Time
	lastUsedAt     time.Time
	useCount       int64
	sessionResumed bool
	tlsVersion     uint16
	cipherSuite    uint16
	mu             sync.Mutex
}

// NewHTTP2Transport creates an HTTP/2 transport with uTLS fingerprinting,
// optionally dialing through proxyURL (empty string means direct; a
// non-empty proxy is always reached through a CONNECT tunnel since the
// target connection is TLS).
func NewHTTP2Transport(preset *fingerprint.Preset, dnsCache *dns.Cache, proxyURL string) *HTTP2Transport {
	t := &HTTP2Transport{
		preset:         preset,
		dnsCache:       dnsCache,
		proxyURL:       proxyURL,
		conns:          make(map[string]*persistentConn),
		sessionCache:   newSessionCache(),
		maxIdleTime:    90 * time.Second,
		maxConnAge:     5 * time.Minute,
		connectTimeout: 30 * time.Second,
		stopCleanup:    make(chan struct{}),
	}

	go t.cleanupLoop()

	return t
}

func (t *HTTP2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		port = "443"
	}
	key := net.JoinHostPort(host, port)

	conn, err := t.getOrCreateConn(req.Context(), host, port, key)
	if err != nil {
		return nil, err
	}

	resp, err := conn.h2Conn.RoundTrip(req)
	if err != nil {
		t.removeConn(key)

		conn, err = t.getOrCreateConn(req.Context(), host, port, key)
		if err != nil {
			return nil, err
		}
		resp, err = conn.h2Conn.RoundTrip(req)
		if err != nil {
			t.removeConn(key)
			return nil, apierrors.New(apierrors.UpstreamDial, "h2 request failed", err)
		}
	}

	conn.mu.Lock()
	conn.lastUsedAt = time.Now()
	conn.useCount++
	conn.mu.Unlock()

	return resp, nil
}

func (t *HTTP2Transport) getOrCreateConn(ctx context.Context, host, port, key string) (*persistentConn, error) {
	t.connsMu.RLock()
	conn, exists := t.conns[key]
	t.connsMu.RUnlock()

	if exists && t.isConnUsable(conn) {
		return conn, nil
	}

	t.connsMu.Lock()
	defer t.connsMu.Unlock()

	if conn, exists = t.conns[key]; exists && t.isConnUsable(conn) {
		return conn, nil
	}

	if exists {
		go conn.close()
	}

	newConn, err := t.createConn(ctx, host, port)
	if err != nil {
		return nil, err
	}

	t.conns[key] = newConn
	return newConn, nil
}

func (t *HTTP2Transport) isConnUsable(conn *persistentConn) bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if time.Since(conn.createdAt) > t.maxConnAge {
		return false
	}
	if time.Since(conn.lastUsedAt) > t.maxIdleTime {
		return false
	}
	return conn.h2Conn != nil
}

func (t *HTTP2Transport) createConn(ctx context.Context, host, port string) (*persistentConn, error) {
	var rawConn net.Conn
	var err error

	if t.proxyURL != "" {
		rawConn, _, err = dialUpstream(ctx, t.proxyURL, "https", host, port, t.connectTimeout)
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
	}

	tlsConfig := &utls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS13,
		ClientSessionCache: clientSessionCacheAdapter{t.sessionCache},
	}

	tlsConn := utls.UClient(rawConn, tlsConfig, t.preset.ClientHelloID)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, apierrors.New(apierrors.UpstreamTLS, "tls handshake failed", err)
	}

	state := tlsConn.ConnectionState()
	if state.NegotiatedProtocol != "h2" {
		tlsConn.Close()
		return nil, apierrors.New(apierrors.UpstreamTLS, "server did not negotiate h2", nil)
	}

	wrappedConn := wrapForFingerprint(tlsConn, t.preset)

	h2Transport := &http2.Transport{
		AllowHTTP:          false,
		DisableCompression: false,
		ReadIdleTimeout:    t.maxIdleTime,
		PingTimeout:        15 * time.Second,
	}

	h2Conn, err := h2Transport.NewClientConn(wrappedConn)
	if err != nil {
		tlsConn.Close()
		return nil, apierrors.New(apierrors.UpstreamTLS, "h2 setup failed", err)
	}

	connState := tlsConn.ConnectionState()

	return &persistentConn{
		host:           host,
		tlsConn:        tlsConn,
		h2Conn:         h2Conn,
		createdAt:      time.Now(),
		lastUsedAt:     time.Now(),
		sessionResumed: connState.DidResume,
		tlsVersion:     connState.Version,
		cipherSuite:    connState.CipherSuite,
	}, nil
}

func (t *HTTP2Transport) removeConn(key string) {
	t.connsMu.Lock()
	conn, exists := t.conns[key]
	if exists {
		delete(t.conns, key)
	}
	t.connsMu.Unlock()

	if exists && conn != nil {
		go conn.close()
	}
}

func (c *persistentConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tlsConn != nil {
		c.tlsConn.Close()
	}
}

func (t *HTTP2Transport) cleanupLoop() {
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

func (t *HTTP2Transport) cleanup() {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()

	for key, conn := range t.conns {
		if !t.isConnUsable(conn) {
			delete(t.conns, key)
			go conn.close()
		}
	}
}

func (t *HTTP2Transport) Close() {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	close(t.stopCleanup)

	for _, conn := range t.conns {
		go conn.close()
	}
	t.conns = nil
}

// IsConnectionReused reports whether a usable pooled connection to host:port
// already exists.
func (t *HTTP2Transport) IsConnectionReused(host, port string) bool {
	key := net.JoinHostPort(host, port)
	t.connsMu.RLock()
	conn, exists := t.conns[key]
	t.connsMu.RUnlock()

	if !exists {
		return false
	}
	return t.isConnUsable(conn)
}

func (t *HTTP2Transport) GetDNSCache() *dns.Cache {
	return t.dnsCache
}
