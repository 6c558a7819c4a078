package apierrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		BadRequest:        400,
		CapacityExhausted: 400,
		SessionNotFound:   404,
		RedirectLoop:       502,
		TooManyRedirects:   502,
		MalformedRedirect:  502,
		UpstreamDial:       502,
		UpstreamTLS:        502,
		ProxyProtocol:      502,
		Decode:             502,
		Timeout:            504,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", kind, got, want)
		}
	}
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := New(Timeout, "hop deadline exceeded", errors.New("context deadline exceeded"))
	wrapped := fmt.Errorf("orchestrator: %w", base)

	if got := KindOf(wrapped); got != Timeout {
		t.Errorf("KindOf(wrapped) = %s, want %s", got, Timeout)
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Errorf("KindOf(plain error) = %s, want %s", got, Internal)
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(BadRequest, "bad method", nil)
	if !errors.Is(err, New(BadRequest, "different message", nil)) {
		t.Error("errors.Is should match on Kind regardless of message")
	}
	if errors.Is(err, New(Timeout, "bad method", nil)) {
		t.Error("errors.Is should not match across different kinds")
	}
}
