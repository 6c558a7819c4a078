package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sardanioss/httpcloakproxy/apierrors"
	"github.com/sardanioss/httpcloakproxy/engine"
	"github.com/sardanioss/httpcloakproxy/metrics"
	"github.com/sardanioss/httpcloakproxy/registry"
	"go.uber.org/zap"
)

// Handlers holds every dependency the route functions call into: one set
// constructed once in Server.New, methods registered directly as
// gin.HandlerFunc.
type Handlers struct {
	engine      *engine.Engine
	registry    *registry.Registry
	metrics     *metrics.Metrics
	maxSessions int
	startTime   time.Time
	logger      *zap.Logger
}

func newHandlers(eng *engine.Engine, reg *registry.Registry, m *metrics.Metrics, maxSessions int, logger *zap.Logger) *Handlers {
	return &Handlers{
		engine:      eng,
		registry:    reg,
		metrics:     m,
		maxSessions: maxSessions,
		startTime:   time.Now(),
		logger:      logger,
	}
}

// Health serves GET /health. Never requires the API key.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": h.registry.Size(),
		"max_sessions":    h.maxSessions,
		"uptime_seconds":  time.Since(h.startTime).Seconds(),
	})
}

type proxyRequestBody struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body"`
	Session string            `json:"session_id"`
	Proxy   string            `json:"proxy"`
}

// ProxyRequest serves POST /proxy/request — the sole entry point into C6.
func (h *Handlers) ProxyRequest(c *gin.Context) {
	var body proxyRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, string(apierrors.BadRequest), "invalid request body: "+err.Error())
		return
	}

	desc := engine.RequestDescriptor{
		Method:        body.Method,
		URL:           body.URL,
		Headers:       body.Headers,
		Body:          body.Body,
		SessionHandle: body.Session,
		ProxyURL:      body.Proxy,
	}

	start := time.Now()
	resp, err := h.engine.Execute(c.Request.Context(), desc)
	if err != nil {
		h.writeEngineError(c, body.Method, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordRequest(body.Method, statusBucket(resp.StatusCode), time.Since(start), resp.RedirectCount)
	}

	c.JSON(http.StatusOK, gin.H{
		"status_code":    resp.StatusCode,
		"headers":        resp.Headers,
		"body":           resp.Body,
		"session_id":     resp.SessionHandle,
		"final_url":      resp.FinalURL,
		"redirect_count": resp.RedirectCount,
		"redirect_chain": resp.RedirectChain,
		"elapsed_ms":     resp.ElapsedMs,
	})
}

// SessionCreate serves POST /proxy/session/create.
func (h *Handlers) SessionCreate(c *gin.Context) {
	session, err := h.registry.Create("")
	if err != nil {
		h.writeEngineError(c, "", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncSessionsCreated()
		h.metrics.SetSessionsActive(h.registry.Size())
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.Handle, "message": "session created"})
}

// SessionDelete serves DELETE /proxy/session/:id.
func (h *Handlers) SessionDelete(c *gin.Context) {
	id := c.Param("id")
	if !h.registry.Delete(id) {
		writeError(c, http.StatusNotFound, string(apierrors.SessionNotFound), "session not found: "+id)
		return
	}
	if h.metrics != nil {
		h.metrics.SetSessionsActive(h.registry.Size())
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "message": "session deleted"})
}

// SessionCookies serves GET /proxy/session/:id/cookies.
func (h *Handlers) SessionCookies(c *gin.Context) {
	id := c.Param("id")
	snapshot, ok := h.registry.Cookies(id)
	if !ok {
		writeError(c, http.StatusNotFound, string(apierrors.SessionNotFound), "session not found: "+id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "cookies": snapshot})
}

// SessionList serves the supplemented GET /proxy/session/list.
func (h *Handlers) SessionList(c *gin.Context) {
	infos := h.registry.List()
	sessions := make([]gin.H, 0, len(infos))
	for _, info := range infos {
		sessions = append(sessions, gin.H{
			"session_id":      info.Handle,
			"created_at":      info.CreatedAt,
			"last_access":     info.LastAccess,
			"dns_cache_size":  info.DNSCacheSize,
			"dns_cache_stale": info.DNSCacheStale,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handlers) writeEngineError(c *gin.Context, method string, err error) {
	kind := apierrors.KindOf(err)

	if h.metrics != nil {
		h.metrics.RecordError(string(kind))
	}

	var apiErr *apierrors.Error
	detail := err.Error()
	if errors.As(err, &apiErr) {
		detail = apiErr.Message
	}

	writeError(c, kind.HTTPStatus(), string(kind), detail)
}

func statusBucket(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
