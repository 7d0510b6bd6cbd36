package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemorySessionStore implements SessionStore with ttlcache. Suitable for
// single-process deployments and tests.
type MemorySessionStore struct {
	cache *ttlcache.Cache[string, *Session]
}

// NewMemorySessionStore creates an in-memory session store with
// automatic expiry cleanup.
func NewMemorySessionStore() *MemorySessionStore {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *Session](),
	)
	go c.Start()

	return &MemorySessionStore{cache: c}
}

func (s *MemorySessionStore) Set(_ context.Context, session *Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(session.TokenID, session, ttl)
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, tokenID string) (*Session, error) {
	item := s.cache.Get(tokenID)
	if item == nil || item.Value() == nil {
		return nil, ErrSessionNotFound
	}
	return item.Value(), nil
}

func (s *MemorySessionStore) Delete(_ context.Context, tokenID string) error {
	s.cache.Delete(tokenID)
	return nil
}

// Stop terminates the background cleanup goroutine.
func (s *MemorySessionStore) Stop() {
	s.cache.Stop()
}

var _ SessionStore = (*MemorySessionStore)(nil)
