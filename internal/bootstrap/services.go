package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/congress-backoffice/config"
	"github.com/target/congress-backoffice/internal/adapters/backend"
	"github.com/target/congress-backoffice/internal/adapters/filestore"
	"github.com/target/congress-backoffice/internal/adapters/memory"
	redisadapter "github.com/target/congress-backoffice/internal/adapters/redis"
	"github.com/target/congress-backoffice/internal/observability/statsd"
	"github.com/target/congress-backoffice/internal/ports"
	"github.com/target/congress-backoffice/internal/service"
)

// ServiceContainer holds the wired session stack shared by the server and the admin CLI.
type ServiceContainer struct {
	Sessions *service.SessionService
	Auth     *service.AuthService
	Backend  *backend.Client
	Metrics  *statsd.Client
	// Slot is the token store the session service persists to.
	Slot ports.TokenSlot

	redis redis.UniversalClient
}

// ServiceDeps contains the inputs for BuildServices.
type ServiceDeps struct {
	Config *config.AppConfig
	Logger *slog.Logger

	// Slot overrides the configured token slot (tests).
	Slot ports.TokenSlot
}

// BuildServices wires the token slot, backend client, metrics sink and services.
// The session is not initialized; callers decide when to read the persisted token.
func BuildServices(ctx context.Context, deps ServiceDeps) (*ServiceContainer, error) {
	if deps.Config == nil {
		return nil, errors.New("bootstrap: Config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &ServiceContainer{Metrics: buildMetrics(logger, cfg.Observability)}

	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL:      cfg.Backend.URL,
		LoginField:   string(cfg.Backend.LoginField),
		TokenPath:    cfg.Backend.TokenPath,
		LoginTimeout: cfg.Backend.LoginTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("backend client: %w", err), c.Close())
	}
	c.Backend = client

	slot := deps.Slot
	if slot == nil {
		slot, err = c.tokenSlot(ctx, cfg, logger)
		if err != nil {
			return nil, errors.Join(err, c.Close())
		}
	}
	c.Slot = slot

	sessions, err := service.NewSessionService(service.SessionServiceOptions{
		Slot:           slot,
		Profiles:       client,
		Metrics:        c.Metrics,
		Logger:         logger,
		DiscardStale:   cfg.Session.DiscardStale,
		ResolveTimeout: cfg.Backend.ProfileTimeout,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("session service: %w", err), c.Close())
	}
	c.Sessions = sessions
	c.Auth = service.NewAuthService(service.AuthServiceOptions{
		Exchanger: client,
		Sessions:  sessions,
	})

	logger.InfoContext(ctx, "session stack ready",
		"store", string(cfg.Session.Store),
		"backend", cfg.Backend.URL,
		"login_field", string(cfg.Backend.LoginField),
		"discard_stale", cfg.Session.DiscardStale,
		"metrics", c.Metrics.Enabled())
	return c, nil
}

func (c *ServiceContainer) tokenSlot(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (ports.TokenSlot, error) {
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		client, err := ConnectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.redis = client
		slot, err := redisadapter.NewTokenSlot(client, cfg.Session.RedisPrefix, cfg.Session.TokenKey)
		if err != nil {
			return nil, fmt.Errorf("redis token slot: %w", err)
		}
		return slot, nil
	case config.SessionStoreMemory:
		logger.WarnContext(ctx, "session token kept in memory only; it will not survive a restart")
		return memory.NewTokenSlot(), nil
	default:
		slot, err := filestore.NewTokenSlot(cfg.Session.FilePath, cfg.Session.TokenKey)
		if err != nil {
			return nil, fmt.Errorf("file token slot: %w", err)
		}
		return slot, nil
	}
}

func buildMetrics(logger *slog.Logger, cfg config.ObservabilityConfig) *statsd.Client {
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:    true,
			Address:    cfg.Metrics.StatsdAddress,
			Prefix:     cfg.Metrics.Prefix,
			Logger:     logger,
			GlobalTags: map[string]string{"service": "backoffice"},
		})
		if err == nil {
			return client
		}
		logger.Warn("statsd disabled", "error", err)
	}
	// A disabled client never dials and so cannot fail.
	client, _ := statsd.NewClient(statsd.Config{Logger: logger})
	return client
}

// Close stops in-flight resolutions and releases connections.
func (c *ServiceContainer) Close() error {
	if c == nil {
		return nil
	}
	if c.Sessions != nil {
		c.Sessions.Close()
	}
	var errs []error
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := c.Metrics.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close statsd: %w", err))
	}
	return errors.Join(errs...)
}
