// Package ledger meters VT+ feature usage per user, feature and period.
//
// Every consume is a single guarded upsert in the Store, so concurrent
// callers for the same row serialize in the database and the stored value
// never exceeds the configured limit.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

// Usage is the status of one feature for the current period.
type Usage struct {
	Feature     vtplus.Feature `json:"feature"`
	Used        int            `json:"used"`
	Limit       int            `json:"limit"`
	Remaining   int            `json:"remaining"`
	Window      vtplus.Window  `json:"window"`
	PeriodStart time.Time      `json:"period_start"`
	ResetAt     time.Time      `json:"reset_at"`
}

type Ledger struct {
	store  Store
	limits vtplus.Limits
	now    func() time.Time
	tracer trace.Tracer
}

type Option func(*Ledger)

// WithClock overrides the wall clock used to compute period starts.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(l *Ledger) { l.tracer = tracer }
}

// New validates limits once and returns a ledger backed by store.
func New(store Store, limits vtplus.Limits, opts ...Option) (*Ledger, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	copied := make(vtplus.Limits, len(limits))
	for f, cfg := range limits {
		copied[f] = cfg
	}

	l := &Ledger{
		store:  store,
		limits: copied,
		now:    time.Now,
		tracer: noop.NewTracerProvider().Tracer("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Limit returns the configured quota for feature.
func (l *Ledger) Limit(feature vtplus.Feature) (vtplus.Limit, bool) {
	cfg, ok := l.limits[feature]
	return cfg, ok
}

// Consume reserves amount units of feature for userID in the current period
// and returns the new usage. It fails with *QuotaExceededError when the limit
// would be crossed, and with ErrOperationFailed when the store fails.
func (l *Ledger) Consume(ctx context.Context, userID string, feature vtplus.Feature, amount int) (int, error) {
	if amount <= 0 {
		return 0, invalidArgument("amount must be positive, got %d", amount)
	}
	if strings.TrimSpace(userID) == "" {
		return 0, invalidArgument("user id is required")
	}
	cfg, ok := l.limits[feature]
	if !ok {
		return 0, invalidArgument("unknown feature %q", feature)
	}

	key := Key{UserID: userID, Feature: feature, PeriodStart: PeriodStart(cfg.Window, l.now())}

	ctx, span := l.tracer.Start(ctx, "ledger.consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("feature", string(feature)),
		attribute.Int("amount", amount),
		attribute.Int("limit", cfg.Limit),
	)

	fields := log.Fields{
		"user_id":      userID,
		"feature":      feature,
		"amount":       amount,
		"period_start": key.PeriodStart.Format(dateLayout),
		"window":       cfg.Window,
	}
	log.WithFields(fields).Debug("attempting to consume VT+ quota")

	used, applied, err := l.store.Increment(ctx, key, amount, cfg.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failure")
		log.WithFields(fields).WithError(err).Error("failed to consume VT+ quota")
		return 0, operationFailed(err)
	}
	if !applied {
		span.SetAttributes(attribute.Bool("exceeded", true), attribute.Int("used", used))
		log.WithFields(fields).WithField("used", used).WithField("limit", cfg.Limit).Info("VT+ quota exceeded")
		return used, &QuotaExceededError{Feature: feature, Limit: cfg.Limit, Used: used, Window: cfg.Window}
	}

	span.SetAttributes(attribute.Int("used", used))
	log.WithFields(fields).WithField("used", used).WithField("limit", cfg.Limit).Info("VT+ quota consumed")
	return used, nil
}

// Usage reads the current period of one feature. A missing row is reported
// as zero usage and is not created.
func (l *Ledger) Usage(ctx context.Context, userID string, feature vtplus.Feature) (*Usage, error) {
	cfg, ok := l.limits[feature]
	if !ok {
		return nil, invalidArgument("unknown feature %q", feature)
	}

	ctx, span := l.tracer.Start(ctx, "ledger.usage")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("feature", string(feature)))

	start := PeriodStart(cfg.Window, l.now())
	used, err := l.store.Used(ctx, Key{UserID: userID, Feature: feature, PeriodStart: start})
	if err != nil {
		span.RecordError(err)
		return nil, operationFailed(err)
	}
	return newUsage(feature, cfg, start, used), nil
}

// AllUsage reads every feature of the current periods in one store call.
func (l *Ledger) AllUsage(ctx context.Context, userID string) (map[vtplus.Feature]*Usage, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.all_usage")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	now := l.now()
	starts := make(map[vtplus.Feature]time.Time, len(l.limits))
	var periods []time.Time
	for _, f := range vtplus.Features() {
		start := PeriodStart(l.limits[f].Window, now)
		starts[f] = start
		if !containsTime(periods, start) {
			periods = append(periods, start)
		}
	}

	records, err := l.store.List(ctx, userID, periods)
	if err != nil {
		span.RecordError(err)
		return nil, operationFailed(err)
	}

	result := make(map[vtplus.Feature]*Usage, len(starts))
	for _, f := range vtplus.Features() {
		result[f] = newUsage(f, l.limits[f], starts[f], 0)
	}
	for _, r := range records {
		u, ok := result[r.Feature]
		if !ok || !u.PeriodStart.Equal(r.PeriodStart) {
			continue
		}
		result[r.Feature] = newUsage(r.Feature, l.limits[r.Feature], u.PeriodStart, r.Used)
	}
	return result, nil
}

// IsQuotaExceeded reports whether err carries a *QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

func newUsage(f vtplus.Feature, cfg vtplus.Limit, start time.Time, used int) *Usage {
	remaining := cfg.Limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &Usage{
		Feature:     f,
		Used:        used,
		Limit:       cfg.Limit,
		Remaining:   remaining,
		Window:      cfg.Window,
		PeriodStart: start,
		ResetAt:     PeriodEnd(cfg.Window, start),
	}
}

func containsTime(ts []time.Time, t time.Time) bool {
	for _, v := range ts {
		if v.Equal(t) {
			return true
		}
	}
	return false
}
