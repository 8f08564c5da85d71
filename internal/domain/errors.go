package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrTransient     = errors.New("transient failure")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrOrderRejected = errors.New("order rejected")
	ErrFillTimeout   = errors.New("order not filled within retry budget")
	ErrPairBusy      = errors.New("pair has an active trade")
	ErrDuplicate     = errors.New("opportunity already handled")
	ErrLockHeld      = errors.New("lock already held")
	ErrStreamClosed  = errors.New("price stream closed")
	ErrUnknownVenue  = errors.New("unknown venue")
)

// RetryAfterError carries a venue-requested wait before the next attempt.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfter extracts a venue-requested wait from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) && ra.After > 0 {
		return ra.After, true
	}
	return 0, false
}
