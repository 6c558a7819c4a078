package cookiejar

import (
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

type cookieKey struct {
	domain string
	path   string
	name   string
}

// Jar is one session's cookie store: RFC 6265 domain/path selection, upsert
// by (domain, path, name), and a flat snapshot for the cookies read endpoint.
type Jar struct {
	mu      sync.RWMutex
	entries map[cookieKey]*Cookie
	seq     map[cookieKey]int // ingest order, for snapshot tie-breaking
	nextSeq int
}

// New returns an empty cookie jar.
func New() *Jar {
	return &Jar{
		entries: make(map[cookieKey]*Cookie),
		seq:     make(map[cookieKey]int),
	}
}

// Ingest parses each Set-Cookie line observed on a response to requestURL
// and upserts the jar. A cookie whose effective expiry is already in the
// past deletes any matching entry instead of being stored. A cookie whose
// Domain attribute is a bare public suffix (e.g. ".com") is rejected.
func (j *Jar) Ingest(requestURL *url.URL, setCookieLines []string) {
	if len(setCookieLines) == 0 {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, line := range setCookieLines {
		cookie := parseSetCookie(line, requestURL)
		if cookie == nil || cookie.Name == "" {
			continue
		}
		if isBarePublicSuffix(cookie.Domain) {
			continue
		}

		key := cookieKey{domain: strings.ToLower(cookie.Domain), path: cookie.Path, name: cookie.Name}

		if cookie.IsExpired() {
			delete(j.entries, key)
			delete(j.seq, key)
			continue
		}

		j.entries[key] = cookie
		j.seq[key] = j.nextSeq
		j.nextSeq++
	}
}

// isBarePublicSuffix reports whether domain (without a leading dot) is
// itself a public suffix such as "com" or "co.uk" — a cookie scoped there
// would be sent to every site under that suffix.
func isBarePublicSuffix(domain string) bool {
	if domain == "" {
		return false
	}
	suffix, icann := publicsuffix.PublicSuffix(strings.ToLower(domain))
	return icann && suffix == domain
}

// Select returns the cookies that should be attached to a request to u,
// per RFC 6265 domain-match, path-match and secure-flag rules, excluding
// anything expired at the call instant.
func (j *Jar) Select(u *url.URL) []*Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*Cookie
	for _, c := range j.entries {
		if c.IsExpired() {
			continue
		}
		if c.matches(u) {
			result = append(result, c)
		}
	}
	return result
}

// CookieHeader renders Select's result as a Cookie: header value.
func (j *Jar) CookieHeader(u *url.URL) string {
	cookies := j.Select(u)
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.Name + "=" + c.Value
	}
	return strings.Join(parts, "; ")
}

// Snapshot returns a flat name→value projection for the session-cookies
// read endpoint. On name collisions across (domain, path) the entry with
// the longest path wins; ties are broken by most recent ingest.
func (j *Jar) Snapshot() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	type winner struct {
		value   string
		path    string
		seq     int
	}
	winners := make(map[string]winner)

	for key, c := range j.entries {
		if c.IsExpired() {
			continue
		}
		cur, ok := winners[key.name]
		seq := j.seq[key]
		if !ok || len(c.Path) > len(cur.path) || (len(c.Path) == len(cur.path) && seq > cur.seq) {
			winners[key.name] = winner{value: c.Value, path: c.Path, seq: seq}
		}
	}

	out := make(map[string]string, len(winners))
	for name, w := range winners {
		out[name] = w.value
	}
	return out
}

// Count returns the number of live (unexpired) cookies in the jar.
func (j *Jar) Count() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n := 0
	for _, c := range j.entries {
		if !c.IsExpired() {
			n++
		}
	}
	return n
}
