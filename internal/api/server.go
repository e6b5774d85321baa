package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kbuck1/navilink/internal/auth"
	"github.com/kbuck1/navilink/internal/device"
	"github.com/kbuck1/navilink/internal/infrastructure/config"
	"github.com/kbuck1/navilink/internal/infrastructure/logging"
	"github.com/kbuck1/navilink/internal/navilink"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Device is one water heater session as seen by the API.
type Device interface {
	Snapshot() navilink.Snapshot
	SetPowerState(ctx context.Context, on bool) error
	SetTemperature(ctx context.Context, temp float64) error
	SetOperationMode(ctx context.Context, mode navilink.OperationMode, days int) error
	SetAntiLegionella(ctx context.Context, on bool) error
	SetFreezeProtection(ctx context.Context, on bool) error
	SetRecircHotButton(ctx context.Context, on bool) error
}

// DeviceService is the account-level surface the API needs.
// cmd/navilinkd adapts *navilink.Coordinator to it.
type DeviceService interface {
	Devices() []Device
	// Device returns an error wrapping navilink.ErrUnknownDevice for unknown ids.
	Device(id string) (Device, error)
	Status() navilink.LinkStatus
	IsPollingDisabled(id string) bool
	SetPollingDisabled(ctx context.Context, id string, disabled bool) error
	HealthCheck(ctx context.Context) error
}

// HistoryReader reads recorded snapshots. Implemented by
// *device.SQLiteHistoryRepository.
type HistoryReader interface {
	GetHistory(ctx context.Context, deviceID string, limit int) ([]device.HistoryEntry, error)
}

// CommandNotifier is told before a command is sent so the snapshot that
// follows is recorded as a command result.
type CommandNotifier interface {
	ExpectCommand(deviceID string)
}

// HealthChecker is any component that can report its health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Devices  DeviceService
	History  HistoryReader   // optional: history endpoint answers 503 without it
	Commands CommandNotifier // optional
	Auth     *auth.Authenticator

	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string

	// HealthChecks are reported by GET /health in addition to the link.
	HealthChecks map[string]HealthChecker

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for navilinkd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	devices      DeviceService
	history      HistoryReader
	commands     CommandNotifier
	auth         *auth.Authenticator
	metrics      http.Handler
	metricsPath  string
	healthChecks map[string]HealthChecker
	version      string
	tickets      *ticketStore
	server       *http.Server
	hub          *Hub
	externalHub  bool
	cancel       context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device service is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		devices:      deps.Devices,
		history:      deps.History,
		commands:     deps.Commands,
		auth:         deps.Auth,
		metrics:      deps.Metrics,
		metricsPath:  metricsPath,
		healthChecks: deps.HealthChecks,
		version:      deps.Version,
		tickets:      newTicketStore(),
	}
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}
	return s, nil
}

// Hub returns the WebSocket hub. It is nil before Start unless one was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and ticket cleanup, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	s.hub.SetReplay(s.snapshots)

	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// snapshots returns the current state of every device.
func (s *Server) snapshots() []navilink.Snapshot {
	devices := s.devices.Devices()
	out := make([]navilink.Snapshot, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	return out
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
