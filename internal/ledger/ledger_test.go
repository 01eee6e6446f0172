package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func newTestLedger(t *testing.T, store Store, drLimit int, now func() time.Time) *Ledger {
	t.Helper()
	limits := vtplus.DefaultLimits()
	limits[vtplus.DeepResearch] = vtplus.Limit{Limit: drLimit, Window: vtplus.Daily}

	l, err := New(store, limits, WithClock(now))
	require.NoError(t, err)
	return l
}

func TestConsume_ConcurrentWithinLimit(t *testing.T) {
	store := newTestStore(t)
	l := newTestLedger(t, store, 25, func() time.Time { return fixedNow })
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	u, err := l.Usage(ctx, "u1", vtplus.DeepResearch)
	require.NoError(t, err)
	assert.Equal(t, 20, u.Used)
	assert.Equal(t, 5, u.Remaining)

	n, err := store.count(ctx, "u1", vtplus.DeepResearch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsume_ConcurrentMixedAmounts(t *testing.T) {
	store := newTestStore(t)
	l := newTestLedger(t, store, 25, func() time.Time { return fixedNow })
	ctx := context.Background()

	amounts := []int{1, 3, 2, 5, 1, 4, 2, 3, 1, 2}
	var wg sync.WaitGroup
	var failures atomic.Int32
	for _, a := range amounts {
		wg.Add(1)
		go func(amount int) {
			defer wg.Done()
			if _, err := l.Consume(ctx, "u1", vtplus.DeepResearch, amount); err != nil {
				failures.Add(1)
			}
		}(a)
	}
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load())
	u, err := l.Usage(ctx, "u1", vtplus.DeepResearch)
	require.NoError(t, err)
	assert.Equal(t, 24, u.Used)
}

func TestConsume_ConcurrentOverLimit(t *testing.T) {
	store := newTestStore(t)
	l := newTestLedger(t, store, 30, func() time.Time { return fixedNow })
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded, exceeded, other atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case IsQuotaExceeded(err):
				exceeded.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(30), succeeded.Load())
	assert.Equal(t, int32(20), exceeded.Load())
	assert.Equal(t, int32(0), other.Load())

	u, err := l.Usage(ctx, "u1", vtplus.DeepResearch)
	require.NoError(t, err)
	assert.Equal(t, 30, u.Used)
	assert.Equal(t, 0, u.Remaining)
}

func TestConsume_SequentialExceeded(t *testing.T) {
	store := newTestStore(t)
	l := newTestLedger(t, store, 5, func() time.Time { return fixedNow })
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		used, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 1)
		require.NoError(t, err)
		assert.Equal(t, i, used)
	}

	_, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 1)
	require.Error(t, err)

	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, vtplus.DeepResearch, qe.Feature)
	assert.Equal(t, 5, qe.Limit)
	assert.Equal(t, 5, qe.Used)
	assert.Equal(t, vtplus.Daily, qe.Window)
	assert.Equal(t, "VT+ quota exceeded for DR: 5/5", qe.Error())

	u, err := l.Usage(ctx, "u1", vtplus.DeepResearch)
	require.NoError(t, err)
	assert.Equal(t, 5, u.Used)
}

func TestConsume_AmountLargerThanLimitOnFreshRow(t *testing.T) {
	store := newTestStore(t)
	l := newTestLedger(t, store, 5, func() time.Time { return fixedNow })
	ctx := context.Background()

	_, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 6)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 0, qe.Used)

	n, err := store.count(ctx, "u1", vtplus.DeepResearch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestConsume_PeriodIsolation(t *testing.T) {
	store := newTestStore(t)
	now := fixedNow
	l := newTestLedger(t, store, 2, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 1)
		require.NoError(t, err)
	}
	_, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 1)
	require.True(t, IsQuotaExceeded(err))

	now = fixedNow.AddDate(0, 0, 1)
	used, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	n, err := store.count(ctx, "u1", vtplus.DeepResearch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestConsume_MonthlyWindowSpansDays(t *testing.T) {
	store := newTestStore(t)
	now := fixedNow
	l := newTestLedger(t, store, 5, func() time.Time { return now })
	ctx := context.Background()

	_, err := l.Consume(ctx, "u1", vtplus.RAG, 10)
	require.NoError(t, err)

	now = fixedNow.AddDate(0, 0, 3)
	used, err := l.Consume(ctx, "u1", vtplus.RAG, 5)
	require.NoError(t, err)
	assert.Equal(t, 15, used)

	now = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	used, err = l.Consume(ctx, "u1", vtplus.RAG, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestConsume_UsersAreIsolated(t *testing.T) {
	store := newTestStore(t)
	l := newTestLedger(t, store, 1, func() time.Time { return fixedNow })
	ctx := context.Background()

	_, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 1)
	require.NoError(t, err)
	_, err = l.Consume(ctx, "u2", vtplus.DeepResearch, 1)
	require.NoError(t, err)
	_, err = l.Consume(ctx, "u1", vtplus.ProSearch, 1)
	require.NoError(t, err)
}

func TestConsume_InvalidArguments(t *testing.T) {
	store := &fakeStore{}
	l := newTestLedger(t, store, 5, func() time.Time { return fixedNow })
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		feature vtplus.Feature
		amount  int
	}{
		{"zero amount", "u1", vtplus.DeepResearch, 0},
		{"negative amount", "u1", vtplus.DeepResearch, -3},
		{"empty user", " ", vtplus.DeepResearch, 1},
		{"unknown feature", "u1", vtplus.Feature("IMG"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Consume(ctx, tt.userID, tt.feature, tt.amount)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.False(t, IsQuotaExceeded(err))
		})
	}
	assert.Equal(t, 0, store.increments)
}

func TestConsume_StoreFailure(t *testing.T) {
	cause := errors.New("connection reset")
	store := &fakeStore{err: cause}
	l := newTestLedger(t, store, 5, func() time.Time { return fixedNow })

	_, err := l.Consume(context.Background(), "u1", vtplus.DeepResearch, 1)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsQuotaExceeded(err))
}

func TestReadFailuresAreNotReportedAsConsumes(t *testing.T) {
	store := &fakeStore{err: errors.New("connection reset")}
	l := newTestLedger(t, store, 5, func() time.Time { return fixedNow })
	ctx := context.Background()

	_, err := l.Usage(ctx, "u1", vtplus.DeepResearch)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.NotContains(t, err.Error(), "consume")

	_, err = l.AllUsage(ctx, "u1")
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.NotContains(t, err.Error(), "consume")
}

func TestUsage_MissingRowIsZeroAndNotCreated(t *testing.T) {
	store := newTestStore(t)
	l := newTestLedger(t, store, 5, func() time.Time { return fixedNow })
	ctx := context.Background()

	u, err := l.Usage(ctx, "nobody", vtplus.ProSearch)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Used)
	assert.Equal(t, 10, u.Limit)
	assert.Equal(t, 10, u.Remaining)
	assert.Equal(t, vtplus.ProSearch, u.Feature)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), u.PeriodStart)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), u.ResetAt)

	n, err := store.count(ctx, "nobody", vtplus.ProSearch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAllUsage(t *testing.T) {
	store := newTestStore(t)
	l := newTestLedger(t, store, 5, func() time.Time { return fixedNow })
	ctx := context.Background()

	_, err := l.Consume(ctx, "u1", vtplus.DeepResearch, 2)
	require.NoError(t, err)
	_, err = l.Consume(ctx, "u1", vtplus.RAG, 7)
	require.NoError(t, err)

	all, err := l.AllUsage(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 3)

	assert.Equal(t, 2, all[vtplus.DeepResearch].Used)
	assert.Equal(t, 0, all[vtplus.ProSearch].Used)
	assert.Equal(t, 10, all[vtplus.ProSearch].Limit)
	assert.Equal(t, 7, all[vtplus.RAG].Used)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), all[vtplus.RAG].PeriodStart)
}

func TestAllUsage_SingleStoreCall(t *testing.T) {
	store := &fakeStore{
		records: []Record{
			{UserID: "u1", Feature: vtplus.ProSearch, PeriodStart: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), Used: 4},
			// a daily feature row stamped with the monthly start belongs to a past day
			{UserID: "u1", Feature: vtplus.DeepResearch, PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Used: 3},
		},
	}
	l := newTestLedger(t, store, 5, func() time.Time { return fixedNow })

	all, err := l.AllUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.lists)
	assert.Len(t, store.listedPeriods, 2)
	assert.Equal(t, 4, all[vtplus.ProSearch].Used)
	assert.Equal(t, 0, all[vtplus.DeepResearch].Used)
}

func TestNew_RejectsInvalidLimits(t *testing.T) {
	limits := vtplus.DefaultLimits()
	limits[vtplus.ProSearch] = vtplus.Limit{Limit: 0, Window: vtplus.Daily}

	_, err := New(&fakeStore{}, limits)
	assert.Error(t, err)
}

func TestPeriodStart(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2026-03-01 02:00 in UTC+9 is still February 28th in UTC.
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, loc)

	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), PeriodStart(vtplus.Daily, now))
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), PeriodStart(vtplus.Monthly, now))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), PeriodEnd(vtplus.Monthly, PeriodStart(vtplus.Monthly, now)))
}

type fakeStore struct {
	mu            sync.Mutex
	err           error
	records       []Record
	increments    int
	lists         int
	listedPeriods []time.Time
}

func (f *fakeStore) Increment(ctx context.Context, key Key, amount, limit int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments++
	if f.err != nil {
		return 0, false, f.err
	}
	return amount, amount <= limit, nil
}

func (f *fakeStore) Used(ctx context.Context, key Key) (int, error) {
	return 0, f.err
}

func (f *fakeStore) List(ctx context.Context, userID string, periods []time.Time) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	f.listedPeriods = periods
	return f.records, f.err
}
