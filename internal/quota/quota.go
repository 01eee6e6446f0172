// Package quota decides whether a generation call is server-funded and, if
// so, reserves VT+ quota before the call runs.
package quota

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

// Consumer reserves quota. *ledger.Ledger satisfies it.
type Consumer interface {
	Consume(ctx context.Context, userID string, feature vtplus.Feature, amount int) (int, error)
}

type Options struct {
	User      *vtplus.User
	Feature   vtplus.Feature
	Amount    int // 0 means 1
	IsByokKey bool
}

// IsEligible reports whether a call is metered: the user is on VT+ and the
// call runs on server credentials.
func IsEligible(user *vtplus.User, isByokKey bool) bool {
	return user.IsVtPlus() && !isByokKey
}

type Wrapper struct {
	consumer Consumer
}

func NewWrapper(consumer Consumer) *Wrapper {
	return &Wrapper{consumer: consumer}
}

// Reserve consumes quota for eligible calls. reserved is false when the call
// is not metered. Errors from the consumer are returned unchanged.
func (w *Wrapper) Reserve(ctx context.Context, opts Options) (bool, error) {
	if !IsEligible(opts.User, opts.IsByokKey) {
		return false, nil
	}

	amount := opts.Amount
	if amount == 0 {
		amount = 1
	}

	used, err := w.consumer.Consume(ctx, opts.User.ID, opts.Feature, amount)
	if err != nil {
		return false, err
	}

	log.WithFields(log.Fields{
		"user_id": opts.User.ID,
		"feature": opts.Feature,
		"amount":  amount,
		"used":    used,
	}).Debug("reserved VT+ quota")
	return true, nil
}

// Do reserves quota when opts is eligible and then runs call. When the
// reservation fails call is never invoked. Reserved units are not returned
// if call later fails or ctx is cancelled.
//
// call may start a stream; the reservation happens once, before it starts.
func Do[T any](ctx context.Context, w *Wrapper, opts Options, call func(context.Context) (T, error)) (T, error) {
	if _, err := w.Reserve(ctx, opts); err != nil {
		var zero T
		return zero, err
	}
	return call(ctx)
}
