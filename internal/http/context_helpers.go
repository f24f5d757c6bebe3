package httpx

import (
	"context"

	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
)

// sessionKey is an unexported context key type to avoid collisions across packages.
// Centralized in this file so all handlers/middleware use the same key.
type sessionKey struct{}

// SetSessionInContext returns a child context carrying the snapshot the guard admitted.
func SetSessionInContext(ctx context.Context, snap domainauth.Snapshot) context.Context {
	return context.WithValue(ctx, sessionKey{}, snap)
}

// GetSessionFromContext returns the admitted snapshot and whether one is present.
// Only requests that passed RequireSession carry one.
func GetSessionFromContext(ctx context.Context) (domainauth.Snapshot, bool) {
	snap, ok := ctx.Value(sessionKey{}).(domainauth.Snapshot)
	return snap, ok
}
