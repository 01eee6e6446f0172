package ledger

import (
	"context"
	"time"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

// Key identifies one ledger row.
type Key struct {
	UserID      string
	Feature     vtplus.Feature
	PeriodStart time.Time
}

// Record is a persisted usage row.
type Record struct {
	UserID      string
	Feature     vtplus.Feature
	PeriodStart time.Time
	Used        int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Store interface {
	// Increment adds amount to the row for key in a single guarded upsert,
	// creating it if needed, unless the result would exceed limit. When the
	// guard rejects the write, applied is false and used is the value
	// currently stored.
	Increment(ctx context.Context, key Key, amount, limit int) (used int, applied bool, err error)

	// Used returns the stored value for key, or 0 when no row exists.
	Used(ctx context.Context, key Key) (int, error)

	// List returns the rows of userID whose period start is one of periods.
	List(ctx context.Context, userID string, periods []time.Time) ([]Record, error)
}
