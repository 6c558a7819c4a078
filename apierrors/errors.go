// Package apierrors defines the error-kind taxonomy the core engine speaks
// and its mapping onto HTTP status codes: typed, wrappable sentinels instead
// of categorizing errors by matching substrings in their messages.
package apierrors

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the core produces.
type Kind string

const (
	BadRequest         Kind = "bad_request"
	CapacityExhausted  Kind = "capacity_exhausted"
	SessionNotFound    Kind = "session_not_found"
	RedirectLoop       Kind = "redirect_loop"
	TooManyRedirects   Kind = "too_many_redirects"
	MalformedRedirect  Kind = "malformed_redirect"
	UpstreamDial       Kind = "upstream_dial"
	UpstreamTLS        Kind = "upstream_tls"
	ProxyProtocol      Kind = "proxy_protocol"
	Timeout            Kind = "timeout"
	Decode             Kind = "decode"
	Internal           Kind = "internal"
)

// HTTPStatus returns the status code §7 maps this kind to.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest, CapacityExhausted:
		return 400
	case SessionNotFound:
		return 404
	case RedirectLoop, TooManyRedirects, MalformedRedirect, UpstreamDial, UpstreamTLS, ProxyProtocol, Decode:
		return 502
	case Timeout:
		return 504
	default:
		return 500
	}
}

// Error wraps an underlying cause with a Kind, so callers can both render a
// status code and keep the original error for logs via errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error carrying kind and message, optionally wrapping cause.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is lets errors.Is(err, apierrors.New(kind, ...)) match any *Error of the
// same kind by comparing the Kind field rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind carried by err, defaulting to Internal when err
// does not wrap an *Error — this is the boundary where an unexpected bug
// still produces a valid HTTP response instead of a panic.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
