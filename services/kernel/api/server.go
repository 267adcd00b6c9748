// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the kernel over HTTP.
//
// Diagrams travel as encodings (base64 in JSON bodies); the server decodes
// them into one shared kernel, runs the operation and encodes the result.
// Handles never leave the process.
//
// # Collection
//
// Decoded diagrams are not retained. A background loop collects the store
// once its live entry count passes ServerConfig.CollectThreshold. Requests
// hold the server lock for reading and the collector takes it for writing,
// so no request sees its handles reclaimed.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/homotopy-kernel/services/kernel"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/config"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.3.0"

const defaultShutdownTimeout = 10 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsHandler serves h on /metrics instead of the default
// Prometheus registry handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metrics = h
		}
	}
}

// WithServiceName names the server in traces.
func WithServiceName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.service = name
		}
	}
}

// Server is the HTTP front of one kernel.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	kernel  *kernel.Kernel
	config  config.ServerConfig
	logger  *slog.Logger
	metrics http.Handler
	service string
	router  *gin.Engine

	// mu is held for reading by requests and for writing by collection.
	mu sync.RWMutex
}

// New creates a server for k.
//
// Description:
//
//	Builds the gin engine with recovery, tracing, request ids, rate
//	limiting and body limits, and registers the kernel routes under /v1.
//
// Inputs:
//
//	k - The kernel every request runs on.
//	cfg - Listen address, limits and collection policy.
//
// Outputs:
//
//	*Server - Ready to Run, or to serve Handler() in tests.
func New(k *kernel.Kernel, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		kernel:  k,
		config:  cfg,
		logger:  slog.Default(),
		metrics: promhttp.Handler(),
		service: "hdk",
	}
	for _, opt := range opts {
		opt(s)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.service))
	router.Use(RequestID())
	router.GET("/metrics", gin.WrapH(s.metrics))

	v1 := router.Group("/v1")
	v1.Use(RateLimit(limit, burst))
	if cfg.MaxBodyBytes > 0 {
		v1.Use(BodyLimit(cfg.MaxBodyBytes))
	}
	v1.Use(s.guard())
	RegisterRoutes(v1, s)

	s.router = router
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
//
// Description:
//
//	Runs the listener and the collection loop in one errgroup. A listener
//	failure stops both; cancellation of ctx shuts the listener down within
//	ShutdownTimeout.
//
// Outputs:
//
//	error - The listener error, or nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("kernel API listening", slog.String("addr", s.config.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.collectLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.logger.Info("kernel API shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) collectLoop(ctx context.Context) {
	if s.config.CollectInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.config.CollectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CollectIfNeeded(ctx); err != nil {
				s.logger.Warn("collection failed", slog.String("error", err.Error()))
			}
		}
	}
}

// CollectIfNeeded collects the kernel's store when its live entry count
// exceeds the configured threshold. It waits for running requests and
// returns the number of entries reclaimed.
func (s *Server) CollectIfNeeded(ctx context.Context) (int, error) {
	live := s.kernel.LiveEntries()
	if live <= s.config.CollectThreshold {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	freed, err := s.kernel.Collect(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("store collected", slog.Int("live_before", live), slog.Int("freed", freed))
	return freed, nil
}
