package ports_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mocks "github.com/target/congress-backoffice/internal/mocks/auth"
	"github.com/target/congress-backoffice/internal/ports"
)

func TestMemoryTokenSlotSatisfiesPort(t *testing.T) {
	var slot ports.TokenSlot = mocks.NewMemoryTokenSlot()
	ctx := context.Background()

	_, ok, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, slot.Save(ctx, "tok"))
	got, ok, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", got)

	require.NoError(t, slot.Clear(ctx))
	require.NoError(t, slot.Clear(ctx))
	_, ok, err = slot.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticProfilesSatisfyPort(t *testing.T) {
	var fetcher ports.ProfileFetcher = mocks.NewStaticProfiles()
	_, err := fetcher.Profile(context.Background(), "unknown")
	require.Error(t, err)
}
