package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/target/congress-backoffice/config"
	"golang.org/x/sync/errgroup"
)

// Run serves the back-office until ctx is cancelled or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	if cfg == nil {
		return errors.New("bootstrap: config is required")
	}
	ln, err := net.Listen("tcp", NewServer(cfg.HTTP.Addr, nil).Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	return serve(ctx, ln, ServiceDeps{Config: cfg, Logger: logger})
}

func serve(ctx context.Context, ln net.Listener, deps ServiceDeps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := BuildServices(ctx, deps)
	if err != nil {
		return errors.Join(err, ln.Close())
	}
	defer func() {
		if cerr := services.Close(); cerr != nil {
			logger.Error("close services failed", "error", cerr)
		}
	}()

	handler, err := BuildHTTPHandler(cfg, services, logger)
	if err != nil {
		return errors.Join(err, ln.Close())
	}
	server := NewServer(ln.Addr().String(), handler)

	// Pages answer with the waiting page until the persisted token settles.
	services.Sessions.Initialize(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})
	return g.Wait()
}
