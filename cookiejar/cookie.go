// Package cookiejar implements the per-session cookie store (C2): RFC 6265
// domain/path matching, attribute parsing, and upsert-by-key semantics.
// Cookies are keyed explicitly by (domain, path, name) rather than a
// domain-bucketed slice, with public-suffix rejection applied at ingest time.
package cookiejar

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Cookie is one stored cookie entry.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	HostOnly bool // true when Domain was defaulted from the request host, not set via a Domain attribute
	Path     string
	Expires  time.Time // zero value means session cookie
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// IsExpired reports whether the cookie's absolute expiry has passed. Session
// cookies (zero Expires) never expire on their own.
func (c *Cookie) IsExpired() bool {
	if c.Expires.IsZero() {
		return false
	}
	return time.Now().After(c.Expires)
}

// matchesDomain implements RFC 6265 §5.1.3's domain-match algorithm: a
// host-only cookie (Domain defaulted from the request host) matches only
// that exact host; a cookie scoped via an explicit Domain attribute also
// matches any subdomain of it.
func (c *Cookie) matchesDomain(host string) bool {
	host = strings.ToLower(stripPort(host))
	domain := strings.ToLower(c.Domain)

	if host == domain {
		return true
	}
	if c.HostOnly {
		return false
	}
	return strings.HasSuffix(host, "."+domain)
}

func (c *Cookie) matchesPath(path string) bool {
	if c.Path == "" || c.Path == "/" {
		return true
	}
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, c.Path) {
		return false
	}
	return len(path) == len(c.Path) || path[len(c.Path)] == '/'
}

// matches reports whether c should be sent on a request to u.
func (c *Cookie) matches(u *url.URL) bool {
	if !c.matchesDomain(u.Host) {
		return false
	}
	if !c.matchesPath(u.Path) {
		return false
	}
	if c.Secure && u.Scheme != "https" {
		return false
	}
	return true
}

func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

// parseSetCookie parses one Set-Cookie header value, resolving the default
// domain/path from requestURL when the attributes are absent. Returns nil
// for an unparsable header (no name=value pair).
func parseSetCookie(header string, requestURL *url.URL) *Cookie {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	parts := strings.Split(header, ";")
	nameValue := strings.TrimSpace(parts[0])
	eqIdx := strings.Index(nameValue, "=")
	if eqIdx == -1 {
		return nil
	}

	cookie := &Cookie{
		Name:     strings.TrimSpace(nameValue[:eqIdx]),
		Value:    strings.TrimSpace(nameValue[eqIdx+1:]),
		Path:     "/",
		HostOnly: true,
	}
	if requestURL != nil {
		cookie.Domain = strings.ToLower(stripPort(requestURL.Host))
		// RFC 6265 §5.1.4 default-path: the request path up to, but not
		// including, its last '/'; "/" when that leaves nothing.
		if p := requestURL.Path; strings.HasPrefix(p, "/") {
			if idx := strings.LastIndex(p, "/"); idx > 0 {
				cookie.Path = p[:idx]
			}
		}
	}

	var maxAgeSet bool
	var maxAge int

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}

		var name, value string
		if idx := strings.Index(attr, "="); idx != -1 {
			name = strings.ToLower(strings.TrimSpace(attr[:idx]))
			value = strings.TrimSpace(attr[idx+1:])
		} else {
			name = strings.ToLower(attr)
		}

		switch name {
		case "domain":
			if value != "" {
				cookie.Domain = strings.ToLower(strings.TrimPrefix(value, "."))
				cookie.HostOnly = false
			}
		case "path":
			if value != "" {
				cookie.Path = value
			}
		case "expires":
			if t, err := parseExpires(value); err == nil {
				cookie.Expires = t
			}
		case "max-age":
			if n, err := strconv.Atoi(value); err == nil {
				maxAge = n
				maxAgeSet = true
			}
		case "secure":
			cookie.Secure = true
		case "httponly":
			cookie.HTTPOnly = true
		case "samesite":
			cookie.SameSite = value
		}
	}

	// Max-Age takes precedence over Expires per RFC 6265 §5.3.
	if maxAgeSet {
		if maxAge <= 0 {
			cookie.Expires = time.Unix(0, 0)
		} else {
			cookie.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
		}
	}

	return cookie
}

func parseExpires(s string) (time.Time, error) {
	formats := []string{
		time.RFC1123,
		time.RFC1123Z,
		"Mon, 02-Jan-2006 15:04:05 MST",
		"Mon, 02 Jan 2006 15:04:05 MST",
		"Monday, 02-Jan-06 15:04:05 MST",
		"Mon Jan 2 15:04:05 2006",
	}

	s = strings.TrimSpace(s)
	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
