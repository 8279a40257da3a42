package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/switch-dimmer/internal/bridge"
	"github.com/nerrad567/switch-dimmer/internal/entity"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/config"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceView exposes the live virtual dimmers. *bridge.Bridge satisfies it.
type DeviceView interface {
	Devices() []bridge.DeviceStatus
	Device(id string) (bridge.DeviceStatus, bool)
	LastReconcile() (bridge.ReconcileSummary, bool)
}

// SourceLister lists hidden source switches. *entity.Registry satisfies it.
type SourceLister interface {
	ListHidden(ctx context.Context) ([]entity.Entity, error)
}

// Reloader re-reads the device configuration and applies it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context) error

// Reload calls f.
func (f ReloaderFunc) Reload(ctx context.Context) error {
	return f(ctx)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BusStatus reports the MQTT connection. *mqtt.Client satisfies it.
type BusStatus interface {
	IsConnected() bool
	SubscriptionCount() int
}

// DBStats reports connection pool statistics. *sql.DB satisfies it.
type DBStats interface {
	Stats() sql.DBStats
}

// WatchView lists the switch entities with an active state subscription.
type WatchView interface {
	Watched() []string
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Devices  DeviceView
	Sources  SourceLister
	Reloader Reloader

	// Optional.
	Bus     BusStatus
	DB      DBStats
	Watches WatchView
	Checks  map[string]HealthChecker

	Version string
}

// Server is the operations HTTP API.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	devices   DeviceView
	sources   SourceLister
	reloader  Reloader
	bus       BusStatus
	db        DBStats
	watches   WatchView
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a new API server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device view is required")
	}
	// Sources and Reloader are optional; their endpoints answer 503 without them.

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		devices:   deps.Devices,
		sources:   deps.Sources,
		reloader:  deps.Reloader,
		bus:       deps.Bus,
		db:        deps.DB,
		watches:   deps.Watches,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine. A bind
// failure is returned immediately.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
