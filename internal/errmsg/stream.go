package errmsg

import (
	"context"
	"errors"

	"github.com/vnmchuo/vtplus-gateway/internal/ledger"
)

// StreamStatus is the terminal status sent to a client whose stream failed.
type StreamStatus string

const (
	StreamError         StreamStatus = "error"
	StreamAborted       StreamStatus = "aborted"
	StreamQuotaExceeded StreamStatus = "quota_exceeded"
)

// ClassifyStream picks the terminal status of a failed stream. aborted is
// true when the client went away or the request deadline passed.
func ClassifyStream(err error, aborted bool) StreamStatus {
	if aborted || errors.Is(err, context.Canceled) {
		return StreamAborted
	}
	var qe *ledger.QuotaExceededError
	if errors.As(err, &qe) {
		return StreamQuotaExceeded
	}
	return StreamError
}
