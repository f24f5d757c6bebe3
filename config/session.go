package config

import (
	"fmt"
	"strings"
)

// SessionStore selects the persistence backend for the token slot.
type SessionStore string

const (
	// SessionStoreFile keeps the slot in a local JSON key-value file.
	SessionStoreFile SessionStore = "file"
	// SessionStoreRedis keeps the slot in Redis.
	SessionStoreRedis SessionStore = "redis"
	// SessionStoreMemory keeps the slot in process memory (lost on restart).
	SessionStoreMemory SessionStore = "memory"
)

// DefaultTokenKey is the slot key, distinct from the public site's token key.
const DefaultTokenKey = "backofficeToken"

// UnmarshalText implements encoding.TextUnmarshaler for SessionStore.
func (s *SessionStore) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "file", "redis", "memory":
		*s = SessionStore(v)
		return nil
	default:
		return fmt.Errorf("invalid SessionStore: %q (valid options: file, redis, memory)", v)
	}
}

// SessionConfig controls the operator session.
type SessionConfig struct {
	Store SessionStore `env:"STORE" envDefault:"file"`

	// TokenKey is the name of the persisted slot.
	TokenKey string `env:"TOKEN_KEY" envDefault:"backofficeToken"`

	// FilePath is the key-value file used when Store=file.
	FilePath string `env:"FILE_PATH" envDefault:".backoffice/session.json"`

	// RedisPrefix namespaces the slot key when Store=redis.
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"backoffice:"`

	// DiscardStale drops identity resolutions superseded by a newer login.
	// Off by default: overlapping logins settle last-write-wins.
	DiscardStale bool `env:"DISCARD_STALE" envDefault:"false"`
}

// Sanitize applies defaults to blank values.
func (s *SessionConfig) Sanitize() {
	s.TokenKey = strings.TrimSpace(s.TokenKey)
	if s.TokenKey == "" {
		s.TokenKey = DefaultTokenKey
	}
	if s.Store == "" {
		s.Store = SessionStoreFile
	}
	if strings.TrimSpace(s.FilePath) == "" {
		s.FilePath = ".backoffice/session.json"
	}
}
