// Package cache holds the server-side session record store. A session
// record is created for every minted session token and keyed by the
// token id, so tokens can be revoked before their JWT expiry.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned for unknown, expired or revoked
// sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session is one live login session.
type Session struct {
	TokenID   string    `json:"token_id"`
	UID       string    `json:"uid"`
	Role      string    `json:"role"`
	Provider  string    `json:"provider"`
	Origin    string    `json:"origin,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore stores live sessions until their token expiry.
type SessionStore interface {
	Set(ctx context.Context, session *Session) error
	Get(ctx context.Context, tokenID string) (*Session, error)
	Delete(ctx context.Context, tokenID string) error
}
