package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(tokenID string, ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		TokenID:   tokenID,
		UID:       "u1",
		Role:      "user",
		Provider:  "google",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestMemorySessionStoreSetGet(t *testing.T) {
	store := NewMemorySessionStore()
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testSession("jti-1", time.Hour)))

	got, err := store.Get(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UID)
	assert.Equal(t, "google", got.Provider)
}

func TestMemorySessionStoreMissing(t *testing.T) {
	store := NewMemorySessionStore()
	defer store.Stop()

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemorySessionStoreDelete(t *testing.T) {
	store := NewMemorySessionStore()
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testSession("jti-1", time.Hour)))
	require.NoError(t, store.Delete(ctx, "jti-1"))

	_, err := store.Get(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemorySessionStoreExpiredSessionNeverStored(t *testing.T) {
	store := NewMemorySessionStore()
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testSession("jti-old", -time.Minute)))

	_, err := store.Get(ctx, "jti-old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
