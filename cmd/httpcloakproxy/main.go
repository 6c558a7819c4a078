// Command httpcloakproxy is the process entrypoint: it constructs config,
// the core engine, and the HTTP surface explicitly (no init() magic) and
// runs with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sardanioss/httpcloakproxy/config"
	"github.com/sardanioss/httpcloakproxy/engine"
	"github.com/sardanioss/httpcloakproxy/fingerprint"
	"github.com/sardanioss/httpcloakproxy/httpserver"
	"github.com/sardanioss/httpcloakproxy/metrics"
	"github.com/sardanioss/httpcloakproxy/registry"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	preset := fingerprint.Chrome133()

	reg := registry.New(cfg.MaxSessions, time.Duration(cfg.SessionTTL)*time.Second, preset, time.Duration(cfg.DNSCacheTTL)*time.Second)
	defer reg.Close()

	m := metrics.New()
	reg.OnEvict(m.IncSessionsEvicted)

	eng := engine.New(reg, preset, time.Duration(cfg.RequestTimeout)*time.Second, logger)

	srv := httpserver.New(eng, reg, m, cfg.APIKey, cfg.MaxSessions, logger)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Handler(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	case err := <-errChan:
		logger.Fatal("server error", zap.Error(err))
	}
}
