package redis

// Package redis provides Redis-based adapters for the back-office session.

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/target/congress-backoffice/internal/ports"
)

var _ ports.TokenSlot = (*TokenSlot)(nil)

// TokenSlot keeps the operator's bearer token under a single Redis key.
// The key never expires; the backend decides when a token stops being valid.
type TokenSlot struct {
	client redis.UniversalClient
	key    string
}

// NewTokenSlot creates a token slot stored at prefix+name.
func NewTokenSlot(client redis.UniversalClient, prefix, name string) (*TokenSlot, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if name == "" {
		return nil, errors.New("token key cannot be empty")
	}
	return &TokenSlot{client: client, key: prefix + name}, nil
}

// Key returns the full Redis key of the slot.
func (s *TokenSlot) Key() string { return s.key }

func (s *TokenSlot) Load(ctx context.Context) (string, bool, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return token, true, nil
}

func (s *TokenSlot) Save(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}
	if err := s.client.Set(ctx, s.key, token, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *TokenSlot) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
