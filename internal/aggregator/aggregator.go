package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/retry"
)

// Config tunes ingestion.
type Config struct {
	Pairs           []string
	PollInterval    time.Duration
	StalenessWindow time.Duration
	// Reconnect is the stream reconnect backoff. Attempts are unbounded.
	Reconnect retry.Backoff
	// EscalateAfter is the consecutive-failure count that raises a
	// StreamEscalated event, once per failure streak.
	EscalateAfter int
}

type source struct {
	client domain.ExchangeClient
	poll   bool
	stream bool
}

// Aggregator feeds the PriceTable from every configured venue.
type Aggregator struct {
	cfg     Config
	table   *PriceTable
	sources map[string]source
	mirror  domain.PriceCache
	events  domain.EventEmitter
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Aggregator over an empty table.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	pairs := make([]string, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs = append(pairs, domain.NormalizePair(p))
	}
	cfg.Pairs = pairs
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = 5
	}
	return &Aggregator{
		cfg:     cfg,
		table:   NewPriceTable(),
		sources: make(map[string]source),
		logger:  logger.With(slog.String("component", "aggregator")),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// AddVenue registers a client. poll and stream select which ingestion units
// RunPollers and RunStreams start for it.
func (a *Aggregator) AddVenue(client domain.ExchangeClient, poll, stream bool) {
	a.sources[client.Venue()] = source{client: client, poll: poll, stream: stream}
}

// WithMirror copies every accepted quote to cache.
func (a *Aggregator) WithMirror(cache domain.PriceCache) *Aggregator {
	a.mirror = cache
	return a
}

// WithEvents sets the emitter used for stream escalations.
func (a *Aggregator) WithEvents(em domain.EventEmitter) *Aggregator {
	a.events = em
	return a
}

// Pairs returns the configured pairs.
func (a *Aggregator) Pairs() []string { return a.cfg.Pairs }

// Venues returns the registered venue names, sorted.
func (a *Aggregator) Venues() []string {
	out := make([]string, 0, len(a.sources))
	for v := range a.sources {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns all non-stale quotes for pair.
func (a *Aggregator) Snapshot(pair string) map[string]domain.Quote {
	return a.table.Snapshot(pair, a.now(), a.cfg.StalenessWindow)
}

// Entries returns every stored quote for pair with its staleness flag.
func (a *Aggregator) Entries(pair string) []QuoteEntry {
	return a.table.Entries(pair, a.now(), a.cfg.StalenessWindow)
}

// Ingest applies replace-if-newer to q. It reports whether q was stored.
func (a *Aggregator) Ingest(ctx context.Context, q domain.Quote) bool {
	if q.Price <= 0 {
		return false
	}
	q.Pair = domain.NormalizePair(q.Pair)
	if !a.table.Update(q) {
		return false
	}
	if a.mirror != nil {
		if err := a.mirror.SetQuote(ctx, q); err != nil {
			a.logger.DebugContext(ctx, "price mirror write failed",
				slog.String("venue", q.Venue),
				slog.String("pair", q.Pair),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// IngestPoll fetches one quote. On failure the previous entry is left in
// place to age out.
func (a *Aggregator) IngestPoll(ctx context.Context, venue, pair string) (domain.Quote, error) {
	src, ok := a.sources[venue]
	if !ok {
		return domain.Quote{}, fmt.Errorf("aggregator: poll %s: %w", venue, domain.ErrUnknownVenue)
	}
	q, err := src.client.FetchPrice(ctx, pair)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("aggregator: poll %s %s: %w", venue, pair, err)
	}
	q.Venue = venue
	a.Ingest(ctx, q)
	return q, nil
}

// IngestStream keeps a price stream for venue and pair open until ctx ends,
// reconnecting with backoff forever.
func (a *Aggregator) IngestStream(ctx context.Context, venue, pair string) error {
	src, ok := a.sources[venue]
	if !ok {
		return fmt.Errorf("aggregator: stream %s: %w", venue, domain.ErrUnknownVenue)
	}
	pair = domain.NormalizePair(pair)
	log := a.logger.With(slog.String("venue", venue), slog.String("pair", pair))

	failures := 0
	escalated := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stream, err := src.client.OpenPriceStream(ctx, pair)
		if err == nil {
			log.InfoContext(ctx, "price stream connected")
			var delivered bool
			delivered, err = a.consume(ctx, venue, stream)
			// A stream that drops before its first quote stays in the streak.
			if delivered {
				failures = 0
				escalated = false
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		wait := a.cfg.Reconnect.Delay(failures - 1)
		log.WarnContext(ctx, "price stream down, reconnecting",
			slog.Int("attempt", failures),
			slog.Duration("wait", wait),
			slog.String("error", errString(err)),
		)
		if failures >= a.cfg.EscalateAfter && !escalated {
			escalated = true
			a.escalate(ctx, venue, pair, failures, err)
		}

		if err := a.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// consume feeds stream quotes into the table until the stream ends and
// reports whether any quote arrived.
func (a *Aggregator) consume(ctx context.Context, venue string, stream domain.PriceStream) (bool, error) {
	defer stream.Close()
	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case q, ok := <-stream.Quotes():
			if !ok {
				if err := stream.Err(); err != nil {
					return delivered, err
				}
				return delivered, domain.ErrStreamClosed
			}
			delivered = true
			q.Venue = venue
			a.Ingest(ctx, q)
		}
	}
}

func (a *Aggregator) escalate(ctx context.Context, venue, pair string, failures int, cause error) {
	a.logger.ErrorContext(ctx, "price stream keeps failing",
		slog.String("venue", venue),
		slog.String("pair", pair),
		slog.Int("failures", failures),
		slog.String("error", errString(cause)),
	)
	if a.events == nil {
		return
	}
	a.events.Emit(domain.Event{
		ID:   uuid.NewString(),
		Kind: domain.EventStreamEscalated,
		Pair: pair,
		Stream: &domain.StreamAlert{
			Venue:    venue,
			Pair:     pair,
			Failures: failures,
			LastErr:  errString(cause),
		},
		Message: fmt.Sprintf("%s %s stream failed %d times in a row", venue, pair, failures),
		At:      a.now().UTC(),
	})
}

// RunPollers polls every pair on every polling venue each PollInterval.
func (a *Aggregator) RunPollers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for venue, src := range a.sources {
		if !src.poll {
			continue
		}
		g.Go(func() error {
			a.pollLoop(ctx, venue)
			return nil
		})
	}
	return g.Wait()
}

func (a *Aggregator) pollLoop(ctx context.Context, venue string) {
	log := a.logger.With(slog.String("venue", venue))
	log.InfoContext(ctx, "poller started", slog.Duration("interval", a.cfg.PollInterval))
	defer log.InfoContext(ctx, "poller stopped")

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for _, pair := range a.cfg.Pairs {
			if _, err := a.IngestPoll(ctx, venue, pair); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WarnContext(ctx, "price poll failed",
					slog.String("pair", pair),
					slog.String("error", err.Error()),
				)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunStreams runs one IngestStream unit per streaming venue and pair.
func (a *Aggregator) RunStreams(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for venue, src := range a.sources {
		if !src.stream {
			continue
		}
		for _, pair := range a.cfg.Pairs {
			g.Go(func() error {
				err := a.IngestStream(ctx, venue, pair)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			})
		}
	}
	return g.Wait()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
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
