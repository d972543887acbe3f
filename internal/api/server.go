package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/litecore/internal/changes"
	"github.com/nerrad567/litecore/internal/engine"
	"github.com/nerrad567/litecore/internal/infrastructure/config"
	"github.com/nerrad567/litecore/internal/infrastructure/logging"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the part of the engine the listener reads from.
type Engine interface {
	Stats() engine.Stats
	Subscribe(ctx context.Context, f changes.Filter) *changes.Subscription
	Query(ctx context.Context, query string, params sqlval.Params) (*sqlval.ResultSet, error)
}

// Deps holds the dependencies required by the server.
type Deps struct {
	Config   config.HTTPConfig
	Logger   *logging.Logger
	Engine   Engine
	Gatherer prometheus.Gatherer // optional; nil disables the metrics route
	Version  string
}

// Server is the operations listener.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.HTTPConfig
	logger   *logging.Logger
	engine   Engine
	gatherer prometheus.Gatherer
	version  string
	started  time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Config.MetricsPath == "" {
		deps.Config.MetricsPath = "/metrics"
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		engine:   deps.Engine,
		gatherer: deps.Gatherer,
		version:  deps.Version,
	}, nil
}

// Start binds the listen address and serves in a background goroutine.
// The bind happens before Start returns, so a port already in use is
// reported here. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.cfg.WebSocket, s.logger)
	go s.hub.Run(srvCtx)

	s.started = time.Now()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(srvCtx),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server error", "error", err)
		}
	}()

	s.logger.Info("ops server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server.
//
// WebSocket clients are disconnected first, then in-flight requests get
// up to gracefulShutdownTimeout to complete.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, hub, cancel := s.server, s.hub, s.cancel
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	cancel()
	hub.closeAll()
	hub.Wait()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down ops server: %w", err)
	}
	s.logger.Info("ops server stopped")
	return nil
}

// HealthCheck reports whether the server is running.
func (s *Server) HealthCheck(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("ops server not running")
	}
	return nil
}
