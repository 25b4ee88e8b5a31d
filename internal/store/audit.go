// Package store persists the approval command audit trail. The ERP remains
// the owner of all document state; this table only records who asked this
// dashboard to do what, and how it ended.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type AuditEntry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Action    string    `json:"action"`
	LocCod    int       `json:"locCod"`
	Nro       int       `json:"nro"`
	Actor     string    `json:"actor"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS approval_audit (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			action TEXT NOT NULL,
			loc_cod INTEGER NOT NULL,
			nro INTEGER NOT NULL,
			actor TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure approval_audit: %w", err)
	}
	return nil
}

func (s *AuditStore) Insert(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_audit (kind, action, loc_cod, nro, actor, outcome, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.Kind, entry.Action, entry.LocCod, entry.Nro, entry.Actor, entry.Outcome, entry.Detail)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, action, loc_cod, nro, actor, outcome, detail, created_at
		FROM approval_audit
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Action, &e.LocCod, &e.Nro, &e.Actor, &e.Outcome, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *AuditStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
