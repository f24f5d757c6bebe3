package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/congress-backoffice/internal/testutil"
)

// setupTestRedis prefers a real Redis and falls back to an in-process miniredis.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if _, ok := testutil.GetTestRedisAddr(t); ok {
		return testutil.SetupTestRedis(t)
	}
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestNewTokenSlot_Validation(t *testing.T) {
	_, err := NewTokenSlot(nil, "backoffice:", "backofficeToken")
	require.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	_, err = NewTokenSlot(client, "backoffice:", "")
	require.Error(t, err)

	slot, err := NewTokenSlot(client, "backoffice:", "backofficeToken")
	require.NoError(t, err)
	assert.Equal(t, "backoffice:backofficeToken", slot.Key())
}

func TestTokenSlot_SaveLoadClear(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	slot, err := NewTokenSlot(client, "backoffice:", "backofficeToken")
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty slot")

	require.NoError(t, slot.Save(ctx, "tok-1"))
	token, ok, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", token)

	ttl, err := client.TTL(ctx, slot.Key()).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "slot must not expire")

	require.NoError(t, slot.Save(ctx, "tok-2"))
	token, _, err = slot.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)

	require.NoError(t, slot.Clear(ctx))
	require.NoError(t, slot.Clear(ctx), "clearing an empty slot is not an error")
	_, ok, err = slot.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenSlot_LeavesOtherKeys(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "token", "public-site-token", 0).Err())

	slot, err := NewTokenSlot(client, "backoffice:", "backofficeToken")
	require.NoError(t, err)
	require.NoError(t, slot.Save(ctx, "tok"))
	require.NoError(t, slot.Clear(ctx))

	val, err := client.Get(ctx, "token").Result()
	require.NoError(t, err)
	assert.Equal(t, "public-site-token", val)
}

func TestTokenSlot_RejectsEmptyToken(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	slot, err := NewTokenSlot(client, "", "backofficeToken")
	require.NoError(t, err)
	require.Error(t, slot.Save(context.Background(), ""))
}
