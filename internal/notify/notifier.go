// Package notify delivers operator alerts for core events to chat channels
// (Telegram, Discord). Events can be filtered by kind; compensation failures
// always pass the filter.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier fans events out to every Sender. It is a domain.EventSink.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

var _ domain.EventSink = (*Notifier)(nil)

// NewNotifier creates a Notifier. Only event kinds listed in kinds are
// forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Name identifies the sink.
func (n *Notifier) Name() string { return "notify" }

// Handle formats ev and sends it to all senders if its kind passes the
// filter.
func (n *Notifier) Handle(ctx context.Context, ev domain.Event) error {
	if !ev.Kind.Critical() && len(n.kinds) > 0 && !n.kinds[ev.Kind] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", string(ev.Kind)))
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
