package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"deployhook/internal/deployment"
	"deployhook/internal/environment"
	"deployhook/internal/metrics"
	"deployhook/internal/target"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 30 * time.Second

	// Rate limiting - requests per minute per client IP
	GlobalRateLimit  = 60
	WebhookRateLimit = 12
)

// Server represents the HTTP server
type Server struct {
	Config      target.Config
	Registry    *target.Registry
	Resolver    *environment.Resolver
	Supervisor  *deployment.Supervisor
	LockManager *deployment.LockManager
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	TestMode    bool

	gatherer   prometheus.Gatherer
	deployWg   sync.WaitGroup // Tracks in-flight async deployments
	httpServer *http.Server
}

// NewServer creates a new server instance from a validated configuration.
// In test mode rate limiting is disabled.
func NewServer(cfg target.Config, logger *slog.Logger, testMode bool) *Server {
	reg := prometheus.NewRegistry()
	if !testMode {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(reg)

	return &Server{
		Config:   cfg,
		Registry: target.NewRegistry(cfg.Targets),
		Resolver: environment.NewResolver(cfg.TestHosts, cfg.Test, cfg.Production),
		Supervisor: deployment.NewSupervisor(deployment.Options{
			Scripts:        cfg.Scripts,
			EnvPassthrough: cfg.EnvPassthrough,
			Logger:         logger,
			Metrics:        m,
		}),
		LockManager: deployment.NewLockManager(),
		Metrics:     m,
		Logger:      logger,
		TestMode:    testMode,
		gatherer:    reg,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewRecoverMiddleware(s.Logger))
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(NewRequestLogMiddleware(s.Logger))

	// Rate limiting middleware (only if not in test mode)
	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, "global", s.Logger, s.Metrics))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/status/{targetName}", s.HandleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// One route per target, all sharing the same handler.
	webhooks := r.With()
	if !s.TestMode {
		webhooks = r.With(NewRateLimitMiddleware(WebhookRateLimit, "webhook", s.Logger, s.Metrics))
	}
	for _, t := range s.Registry.All() {
		webhooks.Post(t.Path, s.WebhookHandler(t))
	}

	return r
}

// Start starts the HTTP server and blocks until it stops. After Shutdown it
// returns http.ErrServerClosed.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("starting server", "addr", addr)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return s.httpServer.ListenAndServe()
}

// WaitForDeployments waits for all in-flight async deployments to complete.
func (s *Server) WaitForDeployments() {
	s.deployWg.Wait()
}

// Shutdown stops accepting requests and waits for in-flight deployments,
// giving up when ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil && !errors.Is(shutdownErr, http.ErrServerClosed) {
			err = fmt.Errorf("failed to shut down HTTP server: %w", shutdownErr)
		}
	}

	done := make(chan struct{})
	go func() {
		s.deployWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("deployments still running: %w", ctx.Err()))
	}
}
