// Package sessiontoken mints the opaque-to-callers session tokens
// returned after a successful login. Tokens are signed JWTs carrying
// the account uid and role.
package sessiontoken

import (
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the decoded session token payload.
type Claims struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
	jwtv5.RegisteredClaims
}

// Minter signs session tokens with a shared HMAC secret.
type Minter struct {
	issuer string
	secret []byte
	ttl    time.Duration
}

// NewMinter creates a Minter. ttl falls back to one hour when
// non-positive.
func NewMinter(issuer string, secret []byte, ttl time.Duration) *Minter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Minter{issuer: issuer, secret: secret, ttl: ttl}
}

// Mint issues a signed session token for uid with the given role claim.
// The returned token id (jti) keys the server-side session record.
func (m *Minter) Mint(uid, role string) (token string, tokenID string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(m.ttl)
	tokenID = uuid.NewString()

	claims := Claims{
		UID:  uid,
		Role: role,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   uid,
			ID:        tokenID,
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(expiresAt),
		},
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	token, err = tk.SignedString(m.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("session token signing failed: %w", err)
	}
	return token, tokenID, expiresAt, nil
}

// Parse validates a session token and returns its claims.
func (m *Minter) Parse(token string) (*Claims, error) {
	var claims Claims
	tk, err := jwtv5.ParseWithClaims(token, &claims, func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return m.secret, nil
	}, jwtv5.WithIssuer(m.issuer))
	if err != nil {
		return nil, err
	}
	if !tk.Valid {
		return nil, jwtv5.ErrTokenUnverifiable
	}
	return &claims, nil
}
