// Package httpserver implements the REST surface: health, proxy request
// execution, and session lifecycle endpoints, plus a supplemented session
// listing endpoint. An explicit Server struct wraps a gin.Engine with a
// handler set constructed in one place, routes registered in New, and CORS
// as its own middleware.
package httpserver

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sardanioss/httpcloakproxy/engine"
	"github.com/sardanioss/httpcloakproxy/metrics"
	"github.com/sardanioss/httpcloakproxy/registry"
	"go.uber.org/zap"
)

// Server wraps the gin router and the dependencies its handlers call into.
type Server struct {
	router      *gin.Engine
	handlers    *Handlers
	startTime   time.Time
	maxSessions int
}

// New builds a Server with its routes registered. An empty apiKey does not
// disable auth: every protected route then answers 401.
func New(eng *engine.Engine, reg *registry.Registry, m *metrics.Metrics, apiKey string, maxSessions int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		handlers:    newHandlers(eng, reg, m, maxSessions, logger),
		startTime:   time.Now(),
		maxSessions: maxSessions,
	}

	router.GET("/health", s.handlers.Health)

	if m != nil {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	authed := router.Group("/")
	authed.Use(apiKeyMiddleware(apiKey))
	{
		authed.POST("/proxy/request", s.handlers.ProxyRequest)
		authed.POST("/proxy/session/create", s.handlers.SessionCreate)
		authed.DELETE("/proxy/session/:id", s.handlers.SessionDelete)
		authed.GET("/proxy/session/:id/cookies", s.handlers.SessionCookies)
		authed.GET("/proxy/session/list", s.handlers.SessionList)
	}

	s.router = router
	return s
}

// Run blocks serving on addr (":PORT").
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler returns the underlying http.Handler, for embedding in an
// *http.Server the entrypoint controls directly (needed for graceful
// shutdown).
func (s *Server) Handler() *gin.Engine {
	return s.router
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
