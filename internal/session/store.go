// Package session provides storage backends for operator sessions. A session
// carries the identity returned by the ERP login plus the upstream bearer
// token, keyed by the hash of the local access token's JTI.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found or expired")

// Data is what survives between requests for one operator session.
type Data struct {
	Usuario   string    `json:"usuario"`
	Nombre    string    `json:"nombre"`
	ERPToken  string    `json:"erp_token"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Save(ctx context.Context, key string, data Data, expiresAt time.Time) error
	Lookup(ctx context.Context, key string) (Data, error)
	Revoke(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
