package ledger

import (
	"time"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

// PeriodStart returns the first instant of the window containing now:
// midnight UTC for daily quotas, the first of the month UTC for monthly ones.
func PeriodStart(w vtplus.Window, now time.Time) time.Time {
	now = now.UTC()
	if w == vtplus.Daily {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the instant the period starting at start resets.
func PeriodEnd(w vtplus.Window, start time.Time) time.Time {
	if w == vtplus.Daily {
		return start.AddDate(0, 0, 1)
	}
	return start.AddDate(0, 1, 0)
}

const dateLayout = "2006-01-02"
