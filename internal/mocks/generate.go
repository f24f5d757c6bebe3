// Package mocks provides gomock implementations of the session ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the interfaces in
// internal/ports. Hand-written fakes with richer behavior live in internal/mocks/auth.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	profiles := mocks.NewMockProfileFetcher(ctrl)
//	profiles.EXPECT().Profile(gomock.Any(), "tok").Return(user, nil)
package mocks

// Generate mocks for ProfileFetcher, TokenSlot and CredentialExchanger from internal/ports.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/target/congress-backoffice/internal/ports ProfileFetcher,TokenSlot,CredentialExchanger
