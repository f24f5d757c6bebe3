package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/target/congress-backoffice/config"
	"github.com/target/congress-backoffice/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logStartupInfo(ctx, logger, &cfg)
	return bootstrap.Run(ctx, &cfg, logger)
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting congress back-office",
		"addr", cfg.HTTP.Addr,
		"backend", cfg.Backend.URL,
		"session_store", string(cfg.Session.Store),
		"dev", cfg.IsDev)
}
