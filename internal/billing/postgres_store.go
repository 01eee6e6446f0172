package billing

import (
	"context"
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

const createUsageLogsTable = `
	CREATE TABLE IF NOT EXISTS usage_logs (
		id            UUID             PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id       TEXT             NOT NULL,
		request_id    TEXT             NOT NULL,
		provider      TEXT             NOT NULL,
		model         TEXT             NOT NULL DEFAULT '',
		feature       TEXT             NOT NULL DEFAULT '',
		byok          BOOLEAN          NOT NULL DEFAULT false,
		input_tokens  INTEGER          NOT NULL DEFAULT 0,
		output_tokens INTEGER          NOT NULL DEFAULT 0,
		cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms    BIGINT           NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ      NOT NULL DEFAULT NOW()
	)
`

const createUsageLogsIndex = `CREATE INDEX IF NOT EXISTS usage_logs_user_created_idx ON usage_logs (user_id, created_at)`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createUsageLogsTable); err != nil {
		return fmt.Errorf("failed to create usage_logs: %w", err)
	}
	if _, err := s.db.Exec(ctx, createUsageLogsIndex); err != nil {
		return fmt.Errorf("failed to index usage_logs: %w", err)
	}
	return nil
}

func (s *PostgresStore) LogUsage(ctx context.Context, log *UsageLog) error {
	query := `
		INSERT INTO usage_logs (user_id, request_id, provider, model, feature, byok, input_tokens, output_tokens, cost_usd, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		log.UserID, log.RequestID, log.Provider, log.Model, string(log.Feature), log.Byok,
		log.InputTokens, log.OutputTokens, log.CostUSD, log.LatencyMs,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetUsageByUser(ctx context.Context, userID string, from, to time.Time) ([]*UsageLog, error) {
	query := `
		SELECT id, user_id, request_id, provider, model, feature, byok, input_tokens, output_tokens, cost_usd, latency_ms, created_at
		FROM usage_logs
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage logs: %w", err)
	}
	defer rows.Close()

	var logs []*UsageLog
	for rows.Next() {
		var l UsageLog
		var feature string
		err := rows.Scan(
			&l.ID, &l.UserID, &l.RequestID, &l.Provider, &l.Model, &feature, &l.Byok,
			&l.InputTokens, &l.OutputTokens, &l.CostUSD, &l.LatencyMs, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		l.Feature = vtplus.Feature(feature)
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage logs: %w", err)
	}

	return logs, nil
}

func (s *PostgresStore) GetTotalCostByUser(ctx context.Context, userID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_logs
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total float64
	err := s.db.QueryRow(ctx, query, userID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}

	return total, nil
}
