package venue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// maxBodyBytes bounds how much of a venue response is read.
const maxBodyBytes = 1 << 20

// apiError is the decoded error body a venue returned.
type apiError struct {
	Code    int
	Message string
}

// send executes req and returns the body of a 2xx response. Non-2xx
// responses are mapped to domain errors by classify; transport failures are
// transient.
func send(ctx context.Context, client *http.Client, req *http.Request, classify func(status int, body []byte) error) ([]byte, error) {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("http request: %w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %v", domain.ErrTransient, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	mapped := classify(resp.StatusCode, body)
	if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok && errors.Is(mapped, domain.ErrRateLimited) {
		return nil, &domain.RetryAfterError{After: wait, Err: mapped}
	}
	return nil, mapped
}

// statusError maps an HTTP status to the domain taxonomy. Venue-specific
// codes are refined by the callers before falling back to this.
func statusError(venue string, status int, e apiError) error {
	detail := fmt.Sprintf("%s: HTTP %d: %s (%d)", venue, status, e.Message, e.Code)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, detail)
	case status == http.StatusTooManyRequests, status == http.StatusTeapot:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, detail)
	case status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrTransient, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func newRequest(method, url string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
