package config

import "time"

// DefaultHTTPAddr is the loopback address the server binds when none is configured.
const DefaultHTTPAddr = "127.0.0.1:8080"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to. The default is loopback only; the
	// back-office shares a single operator session and is not meant for an open network.
	Addr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`

	// CookieDomain is the domain for cookies set by the back-office.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// SessionSecret signs the cookie that binds a browser to the operator session.
	// When empty a random secret is generated per process, so browsers must sign in again
	// after a restart.
	SessionSecret string `env:"HTTP_SESSION_SECRET" envDefault:""`

	// SessionMaxAge is how long a browser stays bound to the session.
	SessionMaxAge time.Duration `env:"HTTP_SESSION_MAX_AGE" envDefault:"12h"`

	// PendingRefresh is how often the waiting page polls while the session resolves.
	PendingRefresh time.Duration `env:"HTTP_PENDING_REFRESH" envDefault:"1s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = DefaultHTTPAddr
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
	if h.SessionMaxAge <= 0 {
		h.SessionMaxAge = 12 * time.Hour
	}
	if h.PendingRefresh < time.Second {
		h.PendingRefresh = time.Second
	}
}
