package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/botoralo/botworker/common/environment"
	"github.com/botoralo/botworker/common/version"
	"github.com/botoralo/botworker/internal/botworker/api"
	"github.com/botoralo/botworker/internal/botworker/app"
	"github.com/botoralo/botworker/internal/botworker/matrix"
	"github.com/botoralo/botworker/internal/botworker/observability"
	"github.com/botoralo/botworker/internal/botworker/plans"
	"github.com/botoralo/botworker/internal/botworker/runtime/docker"
)

func main() {
	fmt.Printf("botworker\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: reading .env: %v\n", err)
		os.Exit(1)
	}

	config, logCfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logCloser := observability.Setup(logCfg)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	botworker, err := app.New(ctx, config)
	if err != nil {
		slog.Error("failed to initialize botworker", "err", err)
		os.Exit(1)
	}
	defer botworker.Stop()

	if err := botworker.Run(ctx); err != nil {
		slog.Error("error running botworker", "err", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables.
func loadConfig() (*app.Config, observability.LogConfig, error) {
	masterKey, err := environment.Required("MASTER_BACKEND_KEY")
	if err != nil {
		return nil, observability.LogConfig{}, err
	}

	host := environment.StringOr("FLASK_HOST", "0.0.0.0")
	port := environment.StringOr("FLASK_PORT", "5000")
	addr := environment.StringOr("HTTP_ADDR", net.JoinHostPort(host, port))

	matrixCfg := matrix.Config{
		Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
		UserID:      environment.StringOr("MATRIX_USER_ID", ""),
		AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
	}
	identity := plans.ServiceConfig{
		BaseURL:    environment.StringOr("SUPABASE_URL", ""),
		ServiceKey: environment.FirstOr("", "SUPABASE_SERVICE_KEY", "SUPABASE_KEY"),
	}

	config := &app.Config{
		DataDir:     environment.StringOr("DATA_DIR", "./data"),
		DatabaseURL: environment.StringOr("DATABASE_URL", ""),
		MasterKey:   masterKey,
		HTTPAddr:    addr,
		MaxUpload:   environment.Int64Or("MAX_UPLOAD_BYTES", api.DefaultMaxUpload),
		Docker: docker.Config{
			Image:     environment.StringOr("BOT_IMAGE", docker.DefaultImage),
			User:      environment.StringOr("SANDBOX_USER", docker.DefaultUser),
			PidsLimit: environment.Int64Or("SANDBOX_PIDS_LIMIT", docker.DefaultPidsLimit),
			LogTail:   environment.IntOr("SANDBOX_LOG_TAIL", docker.DefaultLogTail),
		},
		Identity:      identity,
		PlansFile:     environment.StringOr("PLANS_FILE", ""),
		DefaultPlan:   environment.StringOr("DEFAULT_PLAN", ""),
		Matrix:        matrixCfg,
		AuditRoomID:   environment.StringOr("MATRIX_AUDIT_ROOM", ""),
		DriftInterval: environment.DurationOr("DRIFT_CHECK_INTERVAL", 0),
		OTLPEndpoint:  environment.StringOr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	logCfg := observability.LogConfig{
		Level:      environment.StringOr("LOG_LEVEL", "info"),
		Format:     environment.StringOr("LOG_FORMAT", "text"),
		File:       environment.StringOr("LOG_FILE", ""),
		MaxSizeMB:  environment.IntOr("LOG_MAX_SIZE_MB", 0),
		MaxBackups: environment.IntOr("LOG_MAX_BACKUPS", 0),
		MaxAgeDays: environment.IntOr("LOG_MAX_AGE_DAYS", 0),
		Secrets:    []string{masterKey, identity.ServiceKey, matrixCfg.AccessToken},
	}
	return config, logCfg, nil
}
