// Package headers implements the outbound header composer (C3): it merges
// the fixed default header set, URL-derived headers (Origin, Referer), and
// caller overrides into the header set C1 sends on the wire. Wire-level
// ordering (the Chrome HPACK/HTTP-1.1 header order) is the transport's job,
// not this package's — Compose returns an ordinary http.Header.
package headers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sardanioss/httpcloakproxy/fingerprint"
)

// Composer produces the outbound header set for a given target URL.
type Composer struct {
	preset *fingerprint.Preset
}

// NewComposer returns a Composer impersonating preset's User-Agent and
// Sec-Ch-Ua family; every other default header is fixed regardless of preset.
func NewComposer(preset *fingerprint.Preset) *Composer {
	return &Composer{preset: preset}
}

// defaults returns the fixed default header block, applied first.
func (c *Composer) defaults() http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("User-Agent", c.preset.UserAgent)
	h.Set("Sec-Ch-Ua", c.preset.SecChUA)
	h.Set("Sec-Ch-Ua-Mobile", c.preset.SecChUAMobile)
	h.Set("Sec-Ch-Ua-Platform", c.preset.SecChUAPlatform)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-site")
	return h
}

// derived returns the headers computed from targetURL: Origin and Referer.
// Host is set implicitly by the transport, not here.
func derived(targetURL *url.URL) http.Header {
	h := make(http.Header)
	origin := fmt.Sprintf("%s://%s", targetURL.Scheme, targetURL.Host)
	h.Set("Origin", origin)
	h.Set("Referer", origin+"/")
	return h
}

// Compose merges defaults, derived headers, and overrides (case-insensitive
// name comparison, caller value wins). An override present with an empty
// value suppresses that header entirely rather than sending it empty.
func (c *Composer) Compose(targetURL *url.URL, overrides map[string]string) http.Header {
	result := c.defaults()
	for key, values := range derived(targetURL) {
		result[key] = values
	}

	suppressed := make(map[string]bool)
	for key, value := range overrides {
		canonical := http.CanonicalHeaderKey(key)
		if value == "" {
			suppressed[canonical] = true
			continue
		}
		result.Set(key, value)
	}
	for key := range suppressed {
		result.Del(key)
	}

	return result
}

// EqualFoldOverride reports whether name matches any key in overrides,
// case-insensitively, returning the matched value.
func EqualFoldOverride(overrides map[string]string, name string) (string, bool) {
	for k, v := range overrides {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
