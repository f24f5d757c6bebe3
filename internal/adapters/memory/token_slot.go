// Package memory keeps the token slot in process memory. Nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/target/congress-backoffice/internal/ports"
)

var _ ports.TokenSlot = (*TokenSlot)(nil)

// TokenSlot is an in-memory token slot. It is safe for concurrent use.
type TokenSlot struct {
	mu      sync.Mutex
	token   string
	present bool
}

// NewTokenSlot creates an empty slot.
func NewTokenSlot() *TokenSlot { return &TokenSlot{} }

// NewTokenSlotWith creates a slot already holding token.
func NewTokenSlotWith(token string) *TokenSlot {
	return &TokenSlot{token: token, present: true}
}

func (m *TokenSlot) Load(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	token, ok := m.Peek()
	return token, ok, nil
}

func (m *TokenSlot) Save(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.present = token, true
	return nil
}

func (m *TokenSlot) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.present = "", false
	return nil
}

// Peek returns the slot contents without a context.
func (m *TokenSlot) Peek() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.present
}
