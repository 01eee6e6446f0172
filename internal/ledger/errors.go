package ledger

import (
	"errors"
	"fmt"

	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

var (
	// ErrInvalidArgument marks caller bugs such as a non-positive amount.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOperationFailed marks storage or transport failures. The cause is
	// wrapped alongside it.
	ErrOperationFailed = errors.New("quota operation failed")
)

// QuotaExceededError is returned when a consume would push usage past the
// feature limit. Used is the value stored at the time of the rejection.
type QuotaExceededError struct {
	Feature vtplus.Feature
	Limit   int
	Used    int
	Window  vtplus.Window
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("VT+ quota exceeded for %s: %d/%d", e.Feature, e.Used, e.Limit)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func operationFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrOperationFailed, err)
}
