package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const createAPIKeysTable = `
	CREATE TABLE IF NOT EXISTS api_keys (
		id         UUID        PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id    TEXT        NOT NULL,
		plan_slug  TEXT        NOT NULL DEFAULT 'vt_base',
		key_hash   TEXT        NOT NULL UNIQUE,
		active     BOOLEAN     NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createAPIKeysTable); err != nil {
		return fmt.Errorf("failed to create api_keys: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*APIKey, error) {
	query := `
		SELECT id, user_id, plan_slug, key_hash, active, created_at
		FROM api_keys
		WHERE key_hash = $1 AND active = true
	`

	var k APIKey
	var plan string
	err := s.db.QueryRow(ctx, query, HashKey(key)).Scan(
		&k.ID, &k.UserID, &plan, &k.KeyHash, &k.Active, &k.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}

	k.PlanSlug = vtplus.ParsePlan(plan)
	return &k, nil
}

func (s *PostgresStore) Create(ctx context.Context, apiKey *APIKey) error {
	if apiKey.KeyHash == "" {
		return fmt.Errorf("key_hash is required")
	}
	if apiKey.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO api_keys (user_id, plan_slug, key_hash, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key_hash) DO UPDATE SET plan_slug = EXCLUDED.plan_slug, active = EXCLUDED.active
		RETURNING id, created_at
	`

	err := s.db.QueryRow(ctx, query,
		apiKey.UserID, string(apiKey.PlanSlug), apiKey.KeyHash, apiKey.Active,
	).Scan(&apiKey.ID, &apiKey.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}

	return nil
}

func (s *PostgresStore) Revoke(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET active = false WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}

	return nil
}
