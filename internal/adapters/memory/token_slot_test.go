package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSlot_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	slot := NewTokenSlot()

	_, ok, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, slot.Save(ctx, "tok-1"))
	token, ok, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", token)

	require.NoError(t, slot.Clear(ctx))
	_, ok = slot.Peek()
	assert.False(t, ok)
}

func TestTokenSlot_With(t *testing.T) {
	token, ok := NewTokenSlotWith("seed").Peek()
	assert.True(t, ok)
	assert.Equal(t, "seed", token)
}

func TestTokenSlot_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slot := NewTokenSlotWith("seed")

	_, _, err := slot.Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, slot.Save(ctx, "other"), context.Canceled)
	require.ErrorIs(t, slot.Clear(ctx), context.Canceled)

	token, ok := slot.Peek()
	assert.True(t, ok)
	assert.Equal(t, "seed", token)
}

func TestTokenSlot_ConcurrentUse(t *testing.T) {
	ctx := context.Background()
	slot := NewTokenSlot()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = slot.Save(ctx, "tok")
			_, _, _ = slot.Load(ctx)
			_ = slot.Clear(ctx)
		}()
	}
	wg.Wait()
}
