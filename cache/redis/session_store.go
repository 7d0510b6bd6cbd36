package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/pitlane-app/identity/cache"
)

// SessionStore implements cache.SessionStore on Redis, for deployments
// where logins must survive a process restart or span replicas.
type SessionStore struct {
	client *redis.Client
	prefix string
}

// NewSessionStore creates a SessionStore. prefix namespaces the keys.
func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefix}
}

func (r *SessionStore) redisKey(tokenID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, tokenID)
}

func (r *SessionStore) Set(ctx context.Context, session *cache.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.redisKey(session.TokenID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session in redis: %w", err)
	}
	return nil
}

func (r *SessionStore) Get(ctx context.Context, tokenID string) (*cache.Session, error) {
	raw, err := r.client.Get(ctx, r.redisKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cache.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session from redis: %w", err)
	}
	var session cache.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *SessionStore) Delete(ctx context.Context, tokenID string) error {
	return r.client.Del(ctx, r.redisKey(tokenID)).Err()
}

var _ cache.SessionStore = (*SessionStore)(nil)
