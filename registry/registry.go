// Package registry implements the session registry (C5): a bounded,
// TTL-driven table of sessions, each owning a cookie jar and a reusable
// fingerprinted transport. Sweep interval is TTL/10, floored at 10s.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sardanioss/httpcloakproxy/apierrors"
	"github.com/sardanioss/httpcloakproxy/cookiejar"
	"github.com/sardanioss/httpcloakproxy/fingerprint"
	"github.com/sardanioss/httpcloakproxy/transport"
)

// Session is a registered (cookie jar, transport) pair plus the
// bookkeeping the registry needs to enforce TTL and serialize access.
type Session struct {
	Handle     string
	CreatedAt  time.Time
	Jar        *cookiejar.Jar
	Transport  *transport.Transport
	mu         sync.Mutex // per-session mutual-exclusion token (§5)
	lastAccess time.Time
	accessMu   sync.RWMutex
}

// NewEphemeral builds a session outside the registry: the orchestrator uses
// it for exactly one call (including every redirect hop) and discards it
// afterward. It needs no handle, no capacity check, and no sweep exposure.
func NewEphemeral(preset *fingerprint.Preset, proxyURL string) *Session {
	return newSession("", preset, proxyURL, 0)
}

func newSession(handle string, preset *fingerprint.Preset, proxyURL string, dnsCacheTTL time.Duration) *Session {
	now := time.Now()
	t := transport.New(preset, proxyURL)
	if dnsCacheTTL > 0 {
		t.SetDNSCacheTTL(dnsCacheTTL)
	}
	return &Session{
		Handle:     handle,
		CreatedAt:  now,
		Jar:        cookiejar.New(),
		Transport:  t,
		lastAccess: now,
	}
}

// Lock acquires the session's mutual-exclusion token. The orchestrator
// holds this for the duration of one call, including all redirect hops.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the token.
func (s *Session) Unlock() { s.mu.Unlock() }

// TryLock attempts to acquire the token without blocking — used by sweep to
// skip a session currently in use.
func (s *Session) TryLock() bool { return s.mu.TryLock() }

func (s *Session) touch() {
	s.accessMu.Lock()
	s.lastAccess = time.Now()
	s.accessMu.Unlock()
}

func (s *Session) idleFor(now time.Time) time.Duration {
	s.accessMu.RLock()
	defer s.accessMu.RUnlock()
	return now.Sub(s.lastAccess)
}

// Registry is the bounded, TTL-driven sessions table.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	ttl         time.Duration
	preset      *fingerprint.Preset
	dnsCacheTTL time.Duration

	stopSweep chan struct{}

	// onEvict, when set, is called once per session removed by a sweep —
	// wired to the /metrics sessions-evicted counter by cmd/httpcloakproxy.
	onEvict func()
}

// OnEvict registers fn to be called once per session the sweep evicts.
func (r *Registry) OnEvict(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// New constructs a Registry enforcing maxSessions and ttl, minting sessions
// that impersonate preset. Each session's DNS resolver cache is tuned to
// dnsCacheTTL (a zero value keeps the cache's own default). It starts its
// own periodic sweep at TTL/10 (floored at 10s) and must be stopped with
// Close.
func New(maxSessions int, ttl time.Duration, preset *fingerprint.Preset, dnsCacheTTL time.Duration) *Registry {
	r := &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		ttl:         ttl,
		preset:      preset,
		dnsCacheTTL: dnsCacheTTL,
		stopSweep:   make(chan struct{}),
	}

	go r.sweepLoop()

	return r
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 10
	if interval < 10*time.Second {
		return 10 * time.Second
	}
	return interval
}

// Create mints a new session under a UUIDv4 handle. Fails with
// capacity_exhausted when the table is still full after a sweep.
func (r *Registry) Create(proxyURL string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	if len(r.sessions) >= r.maxSessions {
		return nil, apierrors.New(apierrors.CapacityExhausted, "session registry is full", nil)
	}

	handle := uuid.New().String()
	s := newSession(handle, r.preset, proxyURL, r.dnsCacheTTL)
	r.sessions[handle] = s
	return s, nil
}

// GetOrCreate returns the existing session under handle (touching its
// last-access time), or creates one under that exact handle if absent and
// capacity permits.
func (r *Registry) GetOrCreate(handle string, proxyURL string) (*Session, error) {
	r.mu.RLock()
	if s, ok := r.sessions[handle]; ok {
		r.mu.RUnlock()
		s.touch()
		return s, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[handle]; ok {
		s.touch()
		return s, nil
	}

	r.sweepLocked()

	if len(r.sessions) >= r.maxSessions {
		return nil, apierrors.New(apierrors.CapacityExhausted, "session registry is full", nil)
	}

	s := newSession(handle, r.preset, proxyURL, r.dnsCacheTTL)
	r.sessions[handle] = s
	return s, nil
}

// Get returns the session under handle without creating one.
func (r *Registry) Get(handle string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[handle]
	return s, ok
}

// Delete removes handle's session, releasing its transport first. Idempotent.
func (r *Registry) Delete(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	s, ok := r.sessions[handle]
	if !ok {
		return false
	}
	s.Transport.Close()
	delete(r.sessions, handle)
	return true
}

// Cookies returns handle's cookie snapshot, or false if the session doesn't exist.
func (r *Registry) Cookies(handle string) (map[string]string, bool) {
	r.mu.RLock()
	s, ok := r.sessions[handle]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Jar.Snapshot(), true
}

// Size returns the current number of registered sessions.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the handle, creation and last-access time of every registered
// session, for the supplemented /proxy/session/list endpoint.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		s.accessMu.RLock()
		dnsTotal, dnsExpired := s.Transport.GetDNSCache().Stats()
		out = append(out, SessionInfo{
			Handle:        s.Handle,
			CreatedAt:     s.CreatedAt,
			LastAccess:    s.lastAccess,
			DNSCacheSize:  dnsTotal,
			DNSCacheStale: dnsExpired,
		})
		s.accessMu.RUnlock()
	}
	return out
}

// SessionInfo is the introspection row List returns.
type SessionInfo struct {
	Handle        string
	CreatedAt     time.Time
	LastAccess    time.Time
	DNSCacheSize  int
	DNSCacheStale int
}

// sweepLocked evicts every session whose idle time has reached the TTL, and
// opportunistically trims expired entries from the DNS cache of every
// session that survives. The caller must hold r.mu for writing. A session
// currently holding its token is skipped and re-examined on the next sweep.
func (r *Registry) sweepLocked() {
	now := time.Now()
	for handle, s := range r.sessions {
		if s.idleFor(now) >= r.ttl {
			if !s.TryLock() {
				continue
			}
			delete(r.sessions, handle)
			s.Transport.Close()
			s.Unlock()
			if r.onEvict != nil {
				r.onEvict()
			}
			continue
		}
		s.Transport.GetDNSCache().Cleanup()
	}
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(sweepInterval(r.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.sweepLocked()
			r.mu.Unlock()
		}
	}
}

// Close stops the periodic sweep and releases every session's transport.
func (r *Registry) Close() {
	close(r.stopSweep)

	r.mu.Lock()
	defer r.mu.Unlock()
	for handle, s := range r.sessions {
		s.Transport.Close()
		delete(r.sessions, handle)
	}
}
