// Package refreshrepo stores server-side refresh token metadata for the
// development auth backend. Refresh tokens handed to clients are opaque
// random strings; this repo keys their metadata by the token string.
package refreshrepo

import (
	"context"
	"time"
)

// StoredToken is the server-side record behind an opaque refresh token.
type StoredToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	NickName  string    `json:"nickName"`
	Role      string    `json:"role,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the token is past its lifetime at now.
func (t *StoredToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Repo manages stored refresh tokens. Get must not return expired tokens.
type Repo interface {
	Upsert(ctx context.Context, token *StoredToken) error
	Get(ctx context.Context, token string) (*StoredToken, error)
	Delete(ctx context.Context, token string) error
}
