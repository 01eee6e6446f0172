package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

// usageRow is the gorm model of vtplus_usage. Period starts are stored as
// YYYY-MM-DD text so equality never depends on time zone formatting.
type usageRow struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	UserID      string    `gorm:"type:text;not null;uniqueIndex:idx_vtplus_usage_key,priority:1"`
	Feature     string    `gorm:"type:text;not null;uniqueIndex:idx_vtplus_usage_key,priority:2"`
	PeriodStart string    `gorm:"type:text;not null;uniqueIndex:idx_vtplus_usage_key,priority:3"`
	Used        int       `gorm:"not null;default:0;check:chk_vtplus_usage_used,used >= 0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (usageRow) TableName() string {
	return "vtplus_usage"
}

// OpenSQLite opens a SQLite database for the ledger. All statements go
// through one connection, which makes every upsert a serialized write.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.New(log.StandardLogger(), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	return db, nil
}

type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore migrates the usage table and returns a store over db.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&usageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate vtplus_usage: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteIncrementUsage = `
	INSERT INTO vtplus_usage (user_id, feature, period_start, used, created_at, updated_at)
	SELECT ?, ?, ?, ?, ?, ?
	WHERE ? <= ?
	ON CONFLICT (user_id, feature, period_start)
	DO UPDATE SET used = vtplus_usage.used + excluded.used, updated_at = excluded.updated_at
	WHERE vtplus_usage.used + excluded.used <= ?
	RETURNING used
`

func (s *SQLiteStore) Increment(ctx context.Context, key Key, amount, limit int) (int, bool, error) {
	now := time.Now().UTC()
	var used int
	res := s.db.WithContext(ctx).Raw(sqliteIncrementUsage,
		key.UserID, string(key.Feature), key.PeriodStart.Format(dateLayout), amount, now, now,
		amount, limit,
		limit,
	).Scan(&used)
	if res.Error != nil {
		return 0, false, fmt.Errorf("failed to increment usage: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return used, true, nil
	}

	current, err := s.Used(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return current, false, nil
}

func (s *SQLiteStore) Used(ctx context.Context, key Key) (int, error) {
	var used int
	res := s.db.WithContext(ctx).Raw(
		`SELECT used FROM vtplus_usage WHERE user_id = ? AND feature = ? AND period_start = ?`,
		key.UserID, string(key.Feature), key.PeriodStart.Format(dateLayout),
	).Scan(&used)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to get usage: %w", res.Error)
	}
	return used, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string, periods []time.Time) ([]Record, error) {
	if len(periods) == 0 {
		return nil, nil
	}
	dates := make([]string, len(periods))
	for i, p := range periods {
		dates[i] = p.UTC().Format(dateLayout)
	}

	var rows []usageRow
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND period_start IN ?", userID, dates).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		start, err := time.ParseInLocation(dateLayout, row.PeriodStart, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse period_start %q: %w", row.PeriodStart, err)
		}
		records = append(records, Record{
			UserID:      row.UserID,
			Feature:     vtplus.Feature(row.Feature),
			PeriodStart: start,
			Used:        row.Used,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return records, nil
}

// count returns the number of rows stored for userID and feature across all
// periods. Used by tests to assert the one-row-per-key invariant.
func (s *SQLiteStore) count(ctx context.Context, userID string, feature vtplus.Feature) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&usageRow{}).
		Where("user_id = ? AND feature = ?", userID, string(feature)).
		Count(&n).Error
	return n, err
}
