// Package server exposes indexwarden's HTTP API: health checks, metrics,
// version, read-only indexer views and manual reconciliation triggers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/indexwarden/internal/errors"
	"github.com/3leaps/indexwarden/internal/server/handlers"
	"github.com/3leaps/indexwarden/internal/server/middleware"
	"github.com/3leaps/indexwarden/pkg/indexermodel"
)

// Timeouts configures the underlying http.Server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// Server is the indexwarden HTTP server.
type Server struct {
	host string
	port int

	router   chi.Router
	logger   *zap.Logger
	timeouts Timeouts

	health     *handlers.HealthManager
	version    handlers.VersionInfo
	gatherer   prometheus.Gatherer
	indexers   indexermodel.Reader
	reconciler handlers.Reconciler
	responder  handlers.HTTPErrorResponder
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithTimeouts sets http.Server timeouts.
func WithTimeouts(t Timeouts) Option { return func(s *Server) { s.timeouts = t } }

// WithHealthManager serves health endpoints from m instead of the global manager.
func WithHealthManager(m *handlers.HealthManager) Option {
	return func(s *Server) { s.health = m }
}

// WithVersion sets the /version payload.
func WithVersion(v handlers.VersionInfo) Option { return func(s *Server) { s.version = v } }

// WithMetrics exposes g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithIndexers enables the /v1/indexers routes.
func WithIndexers(r indexermodel.Reader) Option { return func(s *Server) { s.indexers = r } }

// WithReconciler enables the /v1/reconcile routes.
func WithReconciler(r handlers.Reconciler) Option {
	return func(s *Server) { s.reconciler = r }
}

// WithErrorResponder replaces the responder that writes handler and routing
// errors. The default logs 5xx responses through the server logger.
func WithErrorResponder(fn handlers.HTTPErrorResponder) Option {
	return func(s *Server) { s.responder = fn }
}

// New builds a server listening on host:port once Run is called.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:    host,
		port:    port,
		logger:  zap.NewNop(),
		version: handlers.VersionInfo{Version: "dev"},
		timeouts: Timeouts{
			Read:     30 * time.Second,
			Write:    30 * time.Second,
			Idle:     120 * time.Second,
			Shutdown: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.responder == nil {
		s.responder = handlers.LoggingErrorResponder(s.logger)
	}
	handlers.SetHTTPErrorResponder(s.responder)
	s.router = s.routes()
	return s
}

// Port returns the configured port.
func (s *Server) Port() int { return s.port }

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.responder(w, req, apperrors.NotFound("no route for "+req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		s.responder(w, req, apperrors.NewStatusError(http.StatusMethodNotAllowed,
			apperrors.CodeMethodNotAllowed, "method "+req.Method+" not allowed on "+req.URL.Path, nil))
	})

	if s.health != nil {
		r.Get("/health", s.health.HealthHandler)
		r.Get("/health/live", s.health.LivenessHandler)
		r.Get("/health/ready", s.health.ReadinessHandler)
		r.Get("/health/startup", s.health.StartupHandler)
	} else {
		r.Get("/health", handlers.HealthHandler)
		r.Get("/health/live", handlers.LivenessHandler)
		r.Get("/health/ready", handlers.ReadinessHandler)
		r.Get("/health/startup", handlers.StartupHandler)
	}
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	if s.indexers != nil {
		ih := handlers.NewIndexerHandlers(s.indexers)
		r.Get("/v1/indexers", ih.List)
		r.Get("/v1/indexers/{name}", ih.Get)
	}
	if s.reconciler != nil {
		rh := handlers.NewReconcileHandlers(s.reconciler)
		r.Post("/v1/reconcile", rh.Trigger)
		r.Get("/v1/reconcile/last", rh.Last)
	}
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       s.timeouts.Read,
		ReadHeaderTimeout: s.timeouts.Read,
		WriteTimeout:      s.timeouts.Write,
		IdleTimeout:       s.timeouts.Idle,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
