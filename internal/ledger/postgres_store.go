package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const createUsageTable = `
	CREATE TABLE IF NOT EXISTS vtplus_usage (
		user_id      TEXT        NOT NULL,
		feature      TEXT        NOT NULL,
		period_start DATE        NOT NULL,
		used         INTEGER     NOT NULL DEFAULT 0 CHECK (used >= 0),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT vtplus_usage_user_feature_period_key UNIQUE (user_id, feature, period_start)
	)
`

// Migrate creates the usage table and its uniqueness constraint.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createUsageTable); err != nil {
		return fmt.Errorf("failed to create vtplus_usage: %w", err)
	}
	return nil
}

// The SELECT ... WHERE guards the insert path, the DO UPDATE ... WHERE guards
// the increment path. Either guard failing yields no row.
const incrementUsage = `
	INSERT INTO vtplus_usage (user_id, feature, period_start, used, created_at, updated_at)
	SELECT $1::text, $2::text, $3::date, $4::int, NOW(), NOW()
	WHERE $4::int <= $5::int
	ON CONFLICT (user_id, feature, period_start)
	DO UPDATE SET used = vtplus_usage.used + EXCLUDED.used, updated_at = NOW()
	WHERE vtplus_usage.used + EXCLUDED.used <= $5::int
	RETURNING used
`

func (s *PostgresStore) Increment(ctx context.Context, key Key, amount, limit int) (int, bool, error) {
	var used int
	err := s.db.QueryRow(ctx, incrementUsage,
		key.UserID, string(key.Feature), key.PeriodStart, amount, limit,
	).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to increment usage: %w", err)
	}

	current, err := s.Used(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return current, false, nil
}

func (s *PostgresStore) Used(ctx context.Context, key Key) (int, error) {
	query := `
		SELECT used
		FROM vtplus_usage
		WHERE user_id = $1 AND feature = $2 AND period_start = $3::date
	`
	var used int
	err := s.db.QueryRow(ctx, query, key.UserID, string(key.Feature), key.PeriodStart).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return used, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, periods []time.Time) ([]Record, error) {
	query := `
		SELECT user_id, feature, period_start, used, created_at, updated_at
		FROM vtplus_usage
		WHERE user_id = $1 AND period_start = ANY($2::date[])
	`
	rows, err := s.db.Query(ctx, query, userID, periods)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var feature string
		if err := rows.Scan(&r.UserID, &feature, &r.PeriodStart, &r.Used, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		r.Feature = vtplus.Feature(feature)
		r.PeriodStart = r.PeriodStart.UTC()
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage: %w", err)
	}

	return records, nil
}
