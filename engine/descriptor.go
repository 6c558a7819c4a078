package engine

import (
	"encoding/base64"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sardanioss/httpcloakproxy/apierrors"
	"github.com/sardanioss/httpcloakproxy/headers"
)

// validateDescriptor implements §4.6 step 1: method, URL scheme, and proxy
// scheme must all be valid or the call fails with bad_request before any
// session or transport resource is touched.
func validateDescriptor(req RequestDescriptor) (method, targetURL string, err error) {
	method = strings.ToUpper(req.Method)
	if !permittedMethods[method] {
		return "", "", apierrors.New(apierrors.BadRequest, "unsupported method: "+req.Method, nil)
	}

	parsed, perr := url.Parse(req.URL)
	if perr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", "", apierrors.New(apierrors.BadRequest, "url must be an absolute http or https URL", perr)
	}

	if req.ProxyURL != "" {
		proxyParsed, perr := url.Parse(req.ProxyURL)
		if perr != nil || !permittedProxySchemes[proxyParsed.Scheme] {
			return "", "", apierrors.New(apierrors.BadRequest, "proxy scheme must be http, https, or socks5", perr)
		}
	}

	return method, req.URL, nil
}

// encodeRequestBody resolves §7's open question: a structured value with no
// caller Content-Type override is serialized as JSON; a raw string is sent
// as-is, defaulting to text/plain when the caller set no Content-Type.
// Returns a cloned header map so the caller's map is never mutated.
func encodeRequestBody(body interface{}, reqHeaders map[string]string) ([]byte, map[string]string, error) {
	out := make(map[string]string, len(reqHeaders))
	for k, v := range reqHeaders {
		out[k] = v
	}

	if body == nil {
		return nil, out, nil
	}

	if raw, ok := body.(string); ok {
		if _, has := headers.EqualFoldOverride(out, "Content-Type"); !has {
			out["Content-Type"] = "text/plain; charset=utf-8"
		}
		return []byte(raw), out, nil
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, nil, apierrors.New(apierrors.BadRequest, "body is not JSON-serializable", err)
	}
	if _, has := headers.EqualFoldOverride(out, "Content-Type"); !has {
		out["Content-Type"] = "application/json"
	}
	return encoded, out, nil
}

// decodeResponseBody applies §4.1's body interpretation policy to the final
// hop's raw bytes only.
func decodeResponseBody(body []byte, contentType string) (interface{}, error) {
	if len(body) == 0 {
		return nil, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.EqualFold(mediaType, "application/json") {
		var v interface{}
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, apierrors.New(apierrors.Decode, "response declared application/json but body did not parse", err)
		}
		return v, nil
	}

	if utf8.Valid(body) {
		return string(body), nil
	}

	return BinaryBody{Binary: true, Data: base64.StdEncoding.EncodeToString(body)}, nil
}

// flattenHeaders mirrors the original's response-header shape: a header
// seen once collapses to a plain string, a header repeated across the hop
// (duplicate Set-Cookie lines, most commonly) survives as its full list
// rather than losing every value but the first.
func flattenHeaders(h http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for k, v := range h {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		out[k] = v
	}
	return out
}
