// Package redirect implements the redirect state machine (C4): it drives C1
// iteratively, composing headers via C3 and consuming cookies into C2 on
// each hop, rewriting method/body per status class, and enforcing the hop
// limit and loop detection. 301 and 302 preserve method and body, matching
// real browser behavior rather than the RFC 7231 method-downgrade reading.
package redirect

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/sardanioss/httpcloakproxy/apierrors"
	"github.com/sardanioss/httpcloakproxy/cookiejar"
	"github.com/sardanioss/httpcloakproxy/headers"
	"github.com/sardanioss/httpcloakproxy/transport"
)

// Doer is the one-hop transport dependency Resolver needs — exactly C1's
// contract. *transport.Transport satisfies it; tests substitute a stub so
// the redirect state machine can be exercised without a network call.
type Doer interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// MaxRedirects is the hop limit (§3: hop_index ≤ 5).
const MaxRedirects = 5

var redirectStatuses = map[int]bool{301: true, 302: true, 303: true, 307: true, 308: true}

// Frame is one iteration's state: current URL, method, body, header
// overrides, and hop index.
type Frame struct {
	URL      string
	Method   string
	Body     []byte
	Headers  map[string]string
	HopIndex int
}

// Result is what Resolve returns on reaching Terminal.
type Result struct {
	Response *transport.Response
	Chain    []string // URLs traversed before the final one
	HopCount int
	FinalURL string
}

// Resolver drives the redirect state machine for one call.
type Resolver struct {
	composer  *headers.Composer
	jar       *cookiejar.Jar
	transport Doer
}

// NewResolver builds a Resolver that composes headers with composer,
// accrues cookies into jar, and dispatches hops through t.
func NewResolver(composer *headers.Composer, jar *cookiejar.Jar, t Doer) *Resolver {
	return &Resolver{composer: composer, jar: jar, transport: t}
}

// Resolve drives frame to Terminal or an error.
func (r *Resolver) Resolve(ctx context.Context, frame Frame) (*Result, error) {
	var chain []string
	seen := make(map[string]bool)

	for {
		parsedURL, err := url.Parse(frame.URL)
		if err != nil {
			return nil, apierrors.New(apierrors.MalformedRedirect, "unparsable url", err)
		}
		seen[chainKeyOf(parsedURL)] = true

		outbound := r.composer.Compose(parsedURL, frame.Headers)
		if cookieHeader := r.jar.CookieHeader(parsedURL); cookieHeader != "" {
			outbound.Set("Cookie", cookieHeader)
		}

		resp, err := r.transport.Do(ctx, &transport.Request{
			Method:  frame.Method,
			URL:     frame.URL,
			Headers: outbound,
			Body:    frame.Body,
		})
		if err != nil {
			return nil, err
		}

		r.jar.Ingest(parsedURL, resp.Headers.Values("Set-Cookie"))

		if !redirectStatuses[resp.StatusCode] {
			return &Result{
				Response: resp,
				Chain:    chain,
				HopCount: frame.HopIndex,
				FinalURL: frame.URL,
			}, nil
		}

		location := resp.Headers.Get("Location")
		if location == "" {
			return nil, apierrors.New(apierrors.MalformedRedirect, "missing Location header", nil)
		}

		resolved, err := parsedURL.Parse(location)
		if err != nil {
			return nil, apierrors.New(apierrors.MalformedRedirect, "unparsable Location header", err)
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return nil, apierrors.New(apierrors.MalformedRedirect, "Location scheme must be http or https", nil)
		}

		if seen[chainKeyOf(resolved)] {
			return nil, apierrors.New(apierrors.RedirectLoop, "redirect chain revisited a prior URL", nil)
		}
		chain = append(chain, frame.URL)

		nextHop := frame.HopIndex + 1
		if nextHop > MaxRedirects {
			return nil, apierrors.New(apierrors.TooManyRedirects, "exceeded max redirects", nil)
		}

		method, body, dropBodyHeaders := rewriteForStatus(resp.StatusCode, frame.Method, frame.Body)

		nextHeaders := frame.Headers
		if !sameOrigin(parsedURL, resolved) {
			nextHeaders = stripCrossOriginHeaders(frame.Headers)
		}
		if dropBodyHeaders {
			nextHeaders = dropContentHeaders(nextHeaders)
		}

		frame = Frame{
			URL:      resolved.String(),
			Method:   method,
			Body:     body,
			Headers:  nextHeaders,
			HopIndex: nextHop,
		}
	}
}

// rewriteForStatus applies §4.4's method/body rewrite table.
func rewriteForStatus(status int, method string, body []byte) (newMethod string, newBody []byte, dropBodyHeaders bool) {
	switch status {
	case 303:
		return http.MethodGet, nil, true
	default: // 301, 302, 307, 308: method and body preserved
		return method, body, false
	}
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func stripCrossOriginHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if lower == "authorization" || lower == "cookie" {
			continue
		}
		out[k] = v
	}
	return out
}

func dropContentHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if lower == "content-type" || lower == "content-length" || lower == "transfer-encoding" {
			continue
		}
		out[k] = v
	}
	return out
}

// chainKeyOf normalizes a URL for loop detection: case-normalized origin,
// raw path and query preserved as observed.
func chainKeyOf(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath() + "?" + u.RawQuery
}
