package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// TradeHistory is the slice of the trade store the archiver needs.
type TradeHistory interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityHistory is the slice of the opportunity store the archiver
// needs.
type OpportunityHistory interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverConfig controls the periodic archive run. Rows older than
// Retention are copied on every Interval; with Prune set they are then
// deleted from the database.
type ArchiverConfig struct {
	Interval  time.Duration
	Retention time.Duration
	Prune     bool
}

// Archiver implements domain.Archiver. Records are grouped by the month they
// started in and merged into archive/<kind>/YYYY-MM.jsonl, so a rerun over
// the same rows rewrites the same lines rather than duplicating them.
type Archiver struct {
	cfg    ArchiverConfig
	writer domain.BlobWriter
	reader domain.BlobReader
	trades TradeHistory
	opps   OpportunityHistory
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver. reader and audit may be nil; without a
// reader each run overwrites the month objects.
func NewArchiver(
	cfg ArchiverConfig,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades TradeHistory,
	opps OpportunityHistory,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		cfg:    cfg,
		writer: writer,
		reader: reader,
		trades: trades,
		opps:   opps,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// ArchiveTrades copies trades started before the cutoff to object storage.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	n, err := archive(ctx, a, "trades", before, trades,
		func(t domain.Trade) string { return t.ID },
		func(t domain.Trade) time.Time { return t.StartedAt },
	)
	if err != nil || n == 0 || !a.cfg.Prune {
		return n, err
	}
	if _, err := a.trades.DeleteBefore(ctx, before); err != nil {
		return n, fmt.Errorf("s3blob: prune trades: %w", err)
	}
	return n, nil
}

// ArchiveOpportunities copies opportunities detected before the cutoff.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	n, err := archive(ctx, a, "opportunities", before, opps,
		func(o domain.Opportunity) string { return o.ID },
		func(o domain.Opportunity) time.Time { return o.DetectedAt },
	)
	if err != nil || n == 0 || !a.cfg.Prune {
		return n, err
	}
	if _, err := a.opps.DeleteBefore(ctx, before); err != nil {
		return n, fmt.Errorf("s3blob: prune opportunities: %w", err)
	}
	return n, nil
}

// Run archives on every interval until ctx ends. A failed pass is logged
// and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	if a.cfg.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single archive pass for both record kinds.
func (a *Archiver) RunOnce(ctx context.Context) {
	cutoff := a.now().UTC().Add(-a.cfg.Retention)
	if n, err := a.ArchiveTrades(ctx, cutoff); err != nil {
		a.logger.ErrorContext(ctx, "trade archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "trades archived", slog.Int64("count", n), slog.Time("before", cutoff))
	}
	if n, err := a.ArchiveOpportunities(ctx, cutoff); err != nil {
		a.logger.ErrorContext(ctx, "opportunity archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "opportunities archived", slog.Int64("count", n), slog.Time("before", cutoff))
	}
}

func archive[T any](
	ctx context.Context,
	a *Archiver,
	kind string,
	before time.Time,
	records []T,
	id func(T) string,
	at func(T) time.Time,
) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]T)
	for _, r := range records {
		m := at(r).UTC().Format("2006-01")
		byMonth[m] = append(byMonth[m], r)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	slices.Sort(months)

	paths := make([]string, 0, len(months))
	for _, m := range months {
		path := archivePath(kind, m)
		lines, err := a.existing(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s read %s: %w", kind, path, err)
		}
		for _, r := range byMonth[m] {
			raw, err := json.Marshal(r)
			if err != nil {
				return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
			}
			lines.put(id(r), raw)
		}
		if err := a.writer.Put(ctx, path, bytes.NewReader(lines.bytes()), jsonlContentType); err != nil {
			return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		paths = append(paths, path)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"paths":  paths,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// existing loads an archive object into an ordered line set. A missing
// object, or no reader, yields an empty set.
func (a *Archiver) existing(ctx context.Context, path string) (*lineSet, error) {
	set := newLineSet()
	if a.reader == nil {
		return set, nil
	}
	body, err := a.reader.Get(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return set, nil
	}
	if err != nil {
		return nil, err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			continue
		}
		set.put(rec.ID, slices.Clone(line))
	}
	return set, sc.Err()
}

// lineSet keeps JSONL lines keyed by record ID in first-seen order; a later
// put for the same ID replaces the line in place.
type lineSet struct {
	order []string
	lines map[string][]byte
}

func newLineSet() *lineSet {
	return &lineSet{lines: make(map[string][]byte)}
}

func (s *lineSet) put(id string, line []byte) {
	if _, ok := s.lines[id]; !ok {
		s.order = append(s.order, id)
	}
	s.lines[id] = line
}

func (s *lineSet) bytes() []byte {
	var buf bytes.Buffer
	for _, id := range s.order {
		buf.Write(s.lines[id])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// archivePath builds the object key for one month of a record kind, e.g.
// archive/trades/2025-01.jsonl.
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

var _ domain.Archiver = (*Archiver)(nil)
