package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Config tunes a Policy.
type Config struct {
	// MaxAttempts is the total number of tries including the first one.
	MaxAttempts int
	// Backoff computes delays between attempts.
	Backoff Backoff
	// DefaultInterval is the minimum spacing between calls to one venue.
	DefaultInterval time.Duration
	// VenueIntervals overrides DefaultInterval per venue.
	VenueIntervals map[string]time.Duration
}

// DefaultConfig allows one call per second per venue and five attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		Backoff:         DefaultBackoff,
		DefaultInterval: time.Second,
	}
}

// Policy throttles and retries outbound calls. It is safe for concurrent use.
type Policy struct {
	cfg      Config
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	shared   domain.RateLimiter
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a Policy from cfg.
func NewPolicy(cfg Config, logger *slog.Logger) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Policy{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(slog.String("component", "retry_policy")),
		sleep:    sleepCtx,
	}
}

// WithSharedLimiter makes the policy also consult a distributed limiter so
// several processes sharing venue credentials keep the same spacing.
func (p *Policy) WithSharedLimiter(rl domain.RateLimiter) *Policy {
	p.shared = rl
	return p
}

// Do runs fn for venue, spacing calls and retrying transient failures.
// op names the call in logs and wrapped errors.
func (p *Policy) Do(ctx context.Context, venue, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if err := p.throttle(ctx, venue); err != nil {
			return fmt.Errorf("retry: %s %s: %w", venue, op, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if Classify(err) == Fatal {
			if errors.Is(err, domain.ErrUnauthorized) {
				p.logger.ErrorContext(ctx, "venue rejected credentials",
					slog.String("venue", venue),
					slog.String("op", op),
					slog.String("error", err.Error()),
				)
			}
			return err
		}
		if attempt == p.cfg.MaxAttempts-1 {
			break
		}

		wait := p.cfg.Backoff.Delay(attempt)
		if ra, ok := domain.RetryAfter(err); ok {
			wait = ra
		}
		p.logger.WarnContext(ctx, "venue call failed, retrying",
			slog.String("venue", venue),
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", p.cfg.MaxAttempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if err := p.sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry: %s %s: %w", venue, op, err)
		}
	}
	return fmt.Errorf("retry: %s %s: gave up after %d attempts: %w", venue, op, p.cfg.MaxAttempts, lastErr)
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, p *Policy, venue, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, venue, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Interval returns the spacing applied to venue.
func (p *Policy) Interval(venue string) time.Duration {
	if d, ok := p.cfg.VenueIntervals[venue]; ok && d > 0 {
		return d
	}
	return p.cfg.DefaultInterval
}

func (p *Policy) throttle(ctx context.Context, venue string) error {
	if err := p.limiter(venue).Wait(ctx); err != nil {
		return err
	}
	if p.shared == nil {
		return nil
	}
	interval := p.Interval(venue)
	if interval <= 0 {
		return nil
	}
	if err := p.shared.Wait(ctx, "venue:"+venue, 1, interval); err != nil {
		// Fall back to local spacing only.
		p.logger.WarnContext(ctx, "shared rate limiter unavailable",
			slog.String("venue", venue),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (p *Policy) limiter(venue string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[venue]
	if !ok {
		limit := rate.Inf
		if d := p.Interval(venue); d > 0 {
			limit = rate.Every(d)
		}
		l = rate.NewLimiter(limit, 1)
		p.limiters[venue] = l
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
