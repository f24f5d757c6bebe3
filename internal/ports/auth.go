package ports

// Package ports defines interfaces (hexagonal ports) for session-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"

	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
)

// TokenSlot is the single durable key-value entry holding the operator's bearer token.
type TokenSlot interface {
	// Load returns the persisted token and whether one was present.
	Load(ctx context.Context) (token string, ok bool, err error)
	// Save replaces the persisted token.
	Save(ctx context.Context, token string) error
	// Clear removes the persisted token. Clearing an empty slot is not an error.
	Clear(ctx context.Context) error
}

// ProfileFetcher resolves a bearer token into the identity it belongs to.
type ProfileFetcher interface {
	Profile(ctx context.Context, token string) (domainauth.User, error)
}

// Credentials are what an operator types into the login form.
type Credentials struct {
	Identifier string
	Password   string
}

// CredentialExchanger trades credentials for a bearer token.
type CredentialExchanger interface {
	Login(ctx context.Context, creds Credentials) (token string, err error)
}

// MetricsSink receives counters emitted by the session service.
type MetricsSink interface {
	Count(name string, value int64, tags map[string]string)
}
