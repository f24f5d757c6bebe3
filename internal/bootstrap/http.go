package bootstrap

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/congress-backoffice/config"
	httpx "github.com/target/congress-backoffice/internal/http"
)

// BuildHTTPHandler builds the router and wraps it with request logging and panic recovery.
func BuildHTTPHandler(cfg *config.AppConfig, services *ServiceContainer, logger *slog.Logger) (http.Handler, error) {
	if cfg == nil || services == nil {
		return nil, errors.New("bootstrap: config and services are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	router, err := httpx.NewRouter(httpx.RouterServices{
		Sessions:       services.Sessions,
		Auth:           services.Auth,
		CookieDomain:   cfg.HTTP.CookieDomain,
		SessionSecret:  []byte(cfg.HTTP.SessionSecret),
		SessionMaxAge:  cfg.HTTP.SessionMaxAge,
		PendingRefresh: cfg.HTTP.PendingRefresh,
		IsDev:          cfg.IsDev,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	// Order: Recover -> Logging -> Router
	h := httpx.Logging(logger)(router)
	h = httpx.Recover(logger)(h)
	return h, nil
}

// NewServer returns an http.Server with the back-office timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
