package retry

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Class is the retry classification of an error.
type Class int

const (
	// Fatal errors are surfaced immediately.
	Fatal Class = iota
	// Transient errors are retried within the attempt budget.
	Transient
)

// Classify decides whether err is worth another attempt. Authorization
// failures, validation errors, rejections and anything unrecognised are
// fatal; explicit transient failures, rate limiting and network errors are
// retried.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Fatal
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrOrderRejected),
		errors.Is(err, domain.ErrNotFound):
		return Fatal
	case errors.Is(err, context.Canceled):
		return Fatal
	case errors.Is(err, domain.ErrTransient),
		errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, io.ErrUnexpectedEOF):
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Fatal
}
