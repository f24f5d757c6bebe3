package config

import (
	"fmt"
	"strings"
	"time"
)

// LoginField names the credential field the backend expects in POST /auth/login.
type LoginField string

const (
	// LoginFieldID sends the national identity document (DNI/NIE) as "id".
	LoginFieldID LoginField = "id"
	// LoginFieldEmail sends the account e-mail as "email".
	LoginFieldEmail LoginField = "email"
)

// UnmarshalText implements encoding.TextUnmarshaler for LoginField.
func (f *LoginField) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "id", "email":
		*f = LoginField(v)
		return nil
	default:
		return fmt.Errorf("invalid LoginField: %q (valid options: id, email)", v)
	}
}

// BackendConfig describes the congress REST backend shared with the public site.
type BackendConfig struct {
	// URL is the backend base URL, e.g. "https://api.example.org".
	URL string `env:"URL" envDefault:"http://localhost:3001"`

	// LoginField selects the credential field name of the login request body.
	LoginField LoginField `env:"LOGIN_FIELD" envDefault:"id"`

	// TokenPath is a JMESPath expression locating the bearer token in the login response.
	TokenPath string `env:"TOKEN_PATH" envDefault:"token"`

	// ProfileTimeout bounds identity resolution. Zero means no timeout.
	ProfileTimeout time.Duration `env:"PROFILE_TIMEOUT" envDefault:"0s"`

	// LoginTimeout bounds the credential exchange.
	LoginTimeout time.Duration `env:"LOGIN_TIMEOUT" envDefault:"15s"`
}

// Sanitize normalises backend configuration values.
func (b *BackendConfig) Sanitize() {
	b.URL = strings.TrimRight(strings.TrimSpace(b.URL), "/")
	b.TokenPath = strings.TrimSpace(b.TokenPath)
	if b.TokenPath == "" {
		b.TokenPath = "token"
	}
	if b.LoginField == "" {
		b.LoginField = LoginFieldID
	}
	if b.ProfileTimeout < 0 {
		b.ProfileTimeout = 0
	}
	if b.LoginTimeout < 0 {
		b.LoginTimeout = 0
	}
}
