// Package api exposes the orchestrator over HTTP.
//
// Every route except the health probes requires the master backend key as a
// bearer token. Handlers only decode and validate the request body, call the
// orchestrator and map its error kinds onto status codes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/botoralo/botworker/internal/botworker/lifecycle"
	"github.com/botoralo/botworker/internal/botworker/telemetry"
)

// DefaultMaxUpload bounds the size of a deploy request body.
const DefaultMaxUpload = 10 << 20

// Lifecycle is the orchestrator surface the server drives.
type Lifecycle interface {
	Deploy(ctx context.Context, req lifecycle.DeployRequest) (*lifecycle.BotInfo, error)
	Start(ctx context.Context, ownerID, externalID string) (*lifecycle.StartResult, error)
	Stop(ctx context.Context, ownerID, externalID string) error
	Delete(ctx context.Context, ownerID, externalID string) error
	Info(ctx context.Context, ownerID, externalID string) (*lifecycle.BotInfo, error)
	List(ctx context.Context, ownerID string) ([]lifecycle.BotSummary, error)
	Code(ctx context.Context, ownerID, externalID string) ([]byte, string, error)
}

// Telemetry serves logs and stats.
type Telemetry interface {
	Logs(ctx context.Context, ownerID, externalID string) (*telemetry.LogStream, error)
	Stats(ctx context.Context, ownerID, externalID string) (telemetry.Reading, error)
}

// StatusProvider is the minimal interface /status needs from the registry.
type StatusProvider interface {
	BotCount(ctx context.Context) (int, error)
}

// Config configures a Server.
type Config struct {
	Addr      string
	MasterKey string
	Lifecycle Lifecycle
	Telemetry Telemetry
	Status    StatusProvider
	// MaxUpload defaults to DefaultMaxUpload.
	MaxUpload int64
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	addr      string
	masterKey []byte
	lifecycle Lifecycle
	telemetry Telemetry
	status    StatusProvider
	maxUpload int64
	startedAt time.Time
	handler   http.Handler
	server    *http.Server
}

// NewServer creates and configures the HTTP server (does not start it).
func NewServer(cfg Config) *Server {
	s := &Server{
		addr:      cfg.Addr,
		masterKey: []byte(cfg.MasterKey),
		lifecycle: cfg.Lifecycle,
		telemetry: cfg.Telemetry,
		status:    cfg.Status,
		maxUpload: cfg.MaxUpload,
		startedAt: time.Now(),
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUpload
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /deploy", s.handleDeploy)
	api.HandleFunc("POST /start", s.handleStart)
	api.HandleFunc("POST /stop", s.handleStop)
	api.HandleFunc("POST /delete", s.handleDelete)
	api.HandleFunc("POST /info", s.handleInfo)
	api.HandleFunc("POST /list", s.handleList)
	api.HandleFunc("POST /logs", s.handleLogs)
	api.HandleFunc("POST /stats", s.handleStats)
	api.HandleFunc("POST /download_code", s.handleDownloadCode)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /_health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("/", s.requireMasterKey(api))

	s.handler = withTrace(withRecover(mux))
	return s
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the listener is
// established.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api server: listen %s: %w", s.addr, err)
	}

	// No WriteTimeout: log streams are unbounded.
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		slog.Info("api server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("api server shutdown error", "err", err)
	}
}
