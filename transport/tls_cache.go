package transport

import (
	"sync"

	tls "github.com/sardanioss/utls"
)

// sessionCache is an in-memory tls.ClientSessionCache shared across the
// connections one transport opens, so repeat hops to the same origin within a
// session get abbreviated TLS 1.3 handshakes. It is never persisted to disk —
// session state is lost on process restart, same as everything else the
// engine holds.
type sessionCache struct {
	mu       sync.RWMutex
	sessions map[string]*tls.ClientSessionState
}

func newSessionCache() *sessionCache {
	return &sessionCache{sessions: make(map[string]*tls.ClientSessionState)}
}

func (c *sessionCache) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionKey]
	return s, ok
}

func (c *sessionCache) Put(sessionKey string, cs *tls.ClientSessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionKey] = cs
}

func (c *sessionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string]*tls.ClientSessionState)
}

func (c *sessionCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// clientSessionCacheAdapter satisfies utls.ClientSessionCache so sessionCache
// can be handed straight to a tls.Config.
type clientSessionCacheAdapter struct {
	cache *sessionCache
}

func (a clientSessionCacheAdapter) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	return a.cache.Get(sessionKey)
}

func (a clientSessionCacheAdapter) Put(sessionKey string, cs *tls.ClientSessionState) {
	a.cache.Put(sessionKey, cs)
}
