// Package app wires the botworker components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/botoralo/botworker/common/retry"
	"github.com/botoralo/botworker/internal/botworker/admission"
	"github.com/botoralo/botworker/internal/botworker/api"
	"github.com/botoralo/botworker/internal/botworker/audit"
	"github.com/botoralo/botworker/internal/botworker/codestore"
	"github.com/botoralo/botworker/internal/botworker/lifecycle"
	"github.com/botoralo/botworker/internal/botworker/matrix"
	"github.com/botoralo/botworker/internal/botworker/observability"
	"github.com/botoralo/botworker/internal/botworker/plans"
	"github.com/botoralo/botworker/internal/botworker/runtime"
	"github.com/botoralo/botworker/internal/botworker/runtime/docker"
	"github.com/botoralo/botworker/internal/botworker/store"
	"github.com/botoralo/botworker/internal/botworker/store/postgres"
	"github.com/botoralo/botworker/internal/botworker/telemetry"
)

// Config holds application configuration.
type Config struct {
	// DataDir holds app.db and the bots/ code tree.
	DataDir string
	// DatabaseURL selects the PostgreSQL registry when it is a postgres:// URL.
	// Empty uses SQLite under DataDir.
	DatabaseURL string
	// Registry replaces the SQLite/PostgreSQL registry when non-nil. The app
	// closes it on Stop.
	Registry Registry
	// MasterKey is the bearer key every API caller must present.
	MasterKey string
	HTTPAddr  string
	MaxUpload int64

	Docker docker.Config
	// Runtime replaces the Docker adapter when non-nil.
	Runtime runtime.Runtime

	Identity    plans.ServiceConfig
	PlansFile   string
	DefaultPlan string

	Matrix matrix.Config
	// AuditRoomID is the Matrix room that receives lifecycle notices. Notices
	// are disabled when it or the Matrix credentials are empty.
	AuditRoomID string

	// DriftInterval enables the drift monitor when positive.
	DriftInterval time.Duration
	// OTLPEndpoint enables metric export when non-empty.
	OTLPEndpoint string
}

// Registry is the bot registry as the app uses it. Both the SQLite and the
// PostgreSQL stores satisfy it.
type Registry interface {
	lifecycle.Registry
	runtime.RunningLister
	BotCount(ctx context.Context) (int, error)
	Close() error
}

// App is the botworker service.
type App struct {
	config        *Config
	registry      Registry
	runtime       runtime.Runtime
	orchestrator  *lifecycle.Orchestrator
	server        *api.Server
	drift         *runtime.DriftMonitor
	shutdownOTel  func(context.Context) error
	runtimeCloser io.Closer
}

// New builds every component. It fails fast when the registry cannot be
// opened or the sandbox runtime does not answer.
func New(ctx context.Context, config *Config) (*App, error) {
	if config.MasterKey == "" {
		return nil, errors.New("master backend key is required")
	}
	if config.DataDir == "" {
		config.DataDir = "./data"
	}

	shutdownOTel, err := observability.InitMetrics(ctx, config.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	registry := config.Registry
	if registry == nil {
		registry, err = openRegistry(ctx, config)
		if err != nil {
			_ = shutdownOTel(ctx)
			return nil, err
		}
	}

	a := &App{config: config, registry: registry, shutdownOTel: shutdownOTel}
	if err := a.init(ctx); err != nil {
		a.Stop()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	config := a.config

	code, err := codestore.New(filepath.Join(config.DataDir, "bots"))
	if err != nil {
		return fmt.Errorf("failed to initialize code store: %w", err)
	}

	table, err := plans.LoadTable(config.PlansFile)
	if err != nil {
		return fmt.Errorf("failed to load plan table: %w", err)
	}
	if config.DefaultPlan != "" {
		if _, ok := table.Plans[config.DefaultPlan]; !ok {
			return fmt.Errorf("default plan %q is not in the plan table", config.DefaultPlan)
		}
		table.Default = config.DefaultPlan
	}
	resolver := plans.NewResolver(config.Identity, table)

	rt := config.Runtime
	if rt == nil {
		adapter, err := docker.New(config.Docker)
		if err != nil {
			return fmt.Errorf("failed to initialize docker runtime: %w", err)
		}
		a.runtimeCloser = adapter
		rt = adapter
	}
	a.runtime = rt
	err = retry.Do(ctx, retry.StartupPolicy, func(ctx context.Context) error {
		if err := rt.Ping(ctx); err != nil {
			slog.Warn("sandbox runtime not ready", "err", err)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sandbox runtime unavailable: %w", err)
	}

	notifier, err := buildNotifier(ctx, config)
	if err != nil {
		return err
	}

	a.orchestrator = lifecycle.New(lifecycle.Config{
		Registry:  a.registry,
		Code:      code,
		Admission: admission.New(resolver, a.registry),
		Runtime:   rt,
		Notifier:  notifier,
	})

	a.server = api.NewServer(api.Config{
		Addr:      config.HTTPAddr,
		MasterKey: config.MasterKey,
		Lifecycle: a.orchestrator,
		Telemetry: telemetry.NewStreamer(a.registry, rt),
		Status:    a.registry,
		MaxUpload: config.MaxUpload,
	})

	if config.DriftInterval > 0 {
		a.drift = runtime.NewDriftMonitor(rt, a.registry, runtime.DriftConfig{
			Interval: config.DriftInterval,
			AlertFunc: func(bot *store.Bot, message string) {
				notifier.Notify(context.Background(), audit.Event{
					Kind:    audit.KindBotDrift,
					Owner:   bot.OwnerID,
					Target:  bot.ExternalID,
					Message: message,
				})
			},
		})
	}
	return nil
}

func openRegistry(ctx context.Context, config *Config) (Registry, error) {
	url := config.DatabaseURL
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		slog.Info("opening postgres registry")
		s, err := postgres.Open(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, nil
	}
	if url != "" {
		return nil, errors.New("unsupported DATABASE_URL scheme")
	}

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	path := filepath.Join(config.DataDir, "app.db")
	slog.Info("opening database", "path", path)
	s, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func buildNotifier(ctx context.Context, config *Config) (audit.Notifier, error) {
	notifiers := audit.Multi{audit.LogNotifier{}}
	if config.AuditRoomID == "" || !config.Matrix.Configured() {
		return notifiers, nil
	}

	client, err := matrix.New(config.Matrix)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}
	if err := client.JoinRoom(ctx, config.AuditRoomID); err != nil {
		slog.Warn("could not join audit room; notices may fail", "room", config.AuditRoomID, "err", err)
	}
	slog.Info("audit room notifier ready", "room", config.AuditRoomID)
	return append(notifiers, audit.NewMatrixNotifier(client, config.AuditRoomID)), nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() *api.Server { return a.server }

// Run serves the API and the drift monitor until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.server.Start(ctx); err != nil {
		return err
	}
	if a.drift != nil {
		go a.drift.Run(ctx)
	}

	slog.Info("botworker is running", "addr", a.config.HTTPAddr)
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// Stop releases every resource New acquired. Running sandboxes are left
// alone; the registry still describes them on the next boot.
func (a *App) Stop() {
	if a.server != nil {
		slog.Info("stopping api server")
		a.server.Stop()
	}
	if a.runtimeCloser != nil {
		if err := a.runtimeCloser.Close(); err != nil {
			slog.Warn("close runtime client", "err", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownOTel(ctx); err != nil {
		slog.Warn("metrics shutdown error", "err", err)
	}

	slog.Info("closing database")
	if err := a.registry.Close(); err != nil {
		slog.Warn("close registry", "err", err)
	}
}
