package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/target/congress-backoffice/internal/errors"
	"github.com/target/congress-backoffice/internal/ports"
)

// SessionLoginer is the part of SessionService that AuthService drives.
type SessionLoginer interface {
	Login(ctx context.Context, token string) error
	Logout(ctx context.Context) error
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Exchanger ports.CredentialExchanger
	Sessions  SessionLoginer
}

// AuthService orchestrates sign-in by exchanging credentials for a token and handing it to the session.
type AuthService struct {
	exchanger ports.CredentialExchanger
	sessions  SessionLoginer
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	return &AuthService{
		exchanger: opts.Exchanger,
		sessions:  opts.Sessions,
	}
}

// SignIn validates the credentials, exchanges them with the backend and logs the session in.
// Identity resolution continues in the background after SignIn returns.
func (s *AuthService) SignIn(ctx context.Context, creds ports.Credentials) error {
	creds.Identifier = strings.TrimSpace(creds.Identifier)
	if creds.Identifier == "" {
		return apperrors.ValidationField("identifier", "identifier is required")
	}
	if creds.Password == "" {
		return apperrors.ValidationField("password", "password is required")
	}
	if s.exchanger == nil || s.sessions == nil {
		return errors.New("auth service is not configured")
	}

	token, err := s.exchanger.Login(ctx, creds)
	if err != nil {
		return fmt.Errorf("exchange credentials: %w", err)
	}

	if err := s.sessions.Login(ctx, token); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// SignOut ends the session.
func (s *AuthService) SignOut(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Logout(ctx)
}
