// Package engine implements the request orchestrator (C6): the public entry
// point that resolves or creates a session, drives the redirect resolver,
// and assembles the structured response the surrounding HTTP server returns.
package engine

import (
	"context"
	"time"

	"github.com/sardanioss/httpcloakproxy/apierrors"
	"github.com/sardanioss/httpcloakproxy/fingerprint"
	"github.com/sardanioss/httpcloakproxy/headers"
	"github.com/sardanioss/httpcloakproxy/redirect"
	"github.com/sardanioss/httpcloakproxy/registry"
	"go.uber.org/zap"
)

var permittedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

var permittedProxySchemes = map[string]bool{"http": true, "https": true, "socks5": true}

// RequestDescriptor is the caller-facing request shape (§3).
type RequestDescriptor struct {
	Method        string
	URL           string
	Headers       map[string]string
	Body          interface{} // JSON-serializable value, or a raw string
	SessionHandle string
	ProxyURL      string
}

// BinaryBody tags a response body that is neither JSON nor valid UTF-8.
type BinaryBody struct {
	Binary bool   `json:"_binary"`
	Data   string `json:"data"`
}

// ResponseDescriptor is the caller-facing response shape (§3).
type ResponseDescriptor struct {
	StatusCode    int
	Headers       map[string]interface{}
	Body          interface{}
	SessionHandle string
	FinalURL      string
	RedirectCount int
	RedirectChain []string
	ElapsedMs     float64
}

// Engine is the explicit, globals-free value §9's design note calls for: a
// registry, an impersonation profile, and a per-hop timeout, all
// constructor-injected so tests can stand up several engines in one process.
type Engine struct {
	registry       *registry.Registry
	preset         *fingerprint.Preset
	requestTimeout time.Duration
	logger         *zap.Logger
}

// New builds an Engine backed by reg, impersonating preset, bounding every
// hop at requestTimeout.
func New(reg *registry.Registry, preset *fingerprint.Preset, requestTimeout time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{registry: reg, preset: preset, requestTimeout: requestTimeout, logger: logger}
}

// Execute runs the six-step orchestration of §4.6 for one inbound request.
func (e *Engine) Execute(ctx context.Context, req RequestDescriptor) (*ResponseDescriptor, error) {
	method, targetURL, err := validateDescriptor(req)
	if err != nil {
		return nil, err
	}

	session, ephemeral, err := e.acquireSession(req.SessionHandle, req.ProxyURL)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		defer session.Transport.Close()
	}

	session.Lock()
	defer session.Unlock()

	session.Transport.SetTimeout(e.requestTimeout)

	start := time.Now()

	bodyBytes, outboundHeaders, err := encodeRequestBody(req.Body, req.Headers)
	if err != nil {
		return nil, err
	}

	composer := headers.NewComposer(e.preset)
	resolver := redirect.NewResolver(composer, session.Jar, session.Transport)

	frame := redirect.Frame{
		URL:     targetURL,
		Method:  method,
		Body:    bodyBytes,
		Headers: outboundHeaders,
	}

	result, err := resolver.Resolve(ctx, frame)
	if err != nil {
		e.logger.Debug("request failed",
			zap.String("url", targetURL),
			zap.String("kind", string(apierrors.KindOf(err))),
		)
		return nil, err
	}

	body, err := decodeResponseBody(result.Response.Body, result.Response.Headers.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	handle := req.SessionHandle
	if !ephemeral {
		handle = session.Handle
	}

	return &ResponseDescriptor{
		StatusCode:    result.Response.StatusCode,
		Headers:       flattenHeaders(result.Response.Headers),
		Body:          body,
		SessionHandle: handle,
		FinalURL:      result.FinalURL,
		RedirectCount: result.HopCount,
		RedirectChain: result.Chain,
		ElapsedMs:     float64(time.Since(start).Milliseconds()),
	}, nil
}

func (e *Engine) acquireSession(handle, proxyURL string) (*registry.Session, bool, error) {
	if handle == "" {
		return registry.NewEphemeral(e.preset, proxyURL), true, nil
	}
	session, err := e.registry.GetOrCreate(handle, proxyURL)
	if err != nil {
		return nil, false, err
	}
	return session, false, nil
}
