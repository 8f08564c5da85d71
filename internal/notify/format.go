package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Format renders ev as a notification title and body.
func Format(ev domain.Event) (title, message string) {
	var b strings.Builder
	switch ev.Kind {
	case domain.EventOpportunityDetected:
		title = "Arbitrage opportunity " + ev.Pair
		if o := ev.Opportunity; o != nil {
			fmt.Fprintf(&b, "buy %s @ %s, sell %s @ %s\n", o.BuyVenue, price(o.BuyPrice), o.SellVenue, price(o.SellPrice))
			fmt.Fprintf(&b, "diff %.3f%%, amount %s, expected profit %s", o.Diff*100, price(o.Amount), price(o.ExpectedProfit))
		}
	case domain.EventTradeStarted:
		title = "Trade started " + ev.Pair
		writeTrade(&b, ev.Trade)
	case domain.EventTradeCompleted:
		title = "Trade filled " + ev.Pair
		writeTrade(&b, ev.Trade)
		if t := ev.Trade; t != nil {
			fmt.Fprintf(&b, "\nrealized PnL %s", price(t.RealizedPnL))
		}
	case domain.EventTradeAborted:
		title = "Trade failed " + ev.Pair
		writeTrade(&b, ev.Trade)
		if t := ev.Trade; t != nil {
			fmt.Fprintf(&b, "\nfailed leg: %s\nreason: %s", legName(t.FailedLeg), t.AbortReason)
			if t.CompensationAttempted {
				fmt.Fprintf(&b, "\ncompensation succeeded: %t", t.CompensationSucceeded)
			}
		}
	case domain.EventCompensationFailed:
		title = "MANUAL RECONCILIATION REQUIRED " + ev.Pair
		writeTrade(&b, ev.Trade)
		if t := ev.Trade; t != nil && t.BuyOrder != nil {
			fmt.Fprintf(&b, "\nfilled buy %s on %s has no matching sell", t.BuyOrder.ID, t.BuyOrder.Venue)
		}
	case domain.EventStreamEscalated:
		title = "Price stream failing " + ev.Pair
		if s := ev.Stream; s != nil {
			fmt.Fprintf(&b, "%s %s: %d consecutive failures\nlast error: %s", s.Venue, s.Pair, s.Failures, s.LastErr)
		}
	default:
		title = string(ev.Kind)
	}
	if ev.Message != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(ev.Message)
	}
	return title, b.String()
}

func writeTrade(b *strings.Builder, t *domain.Trade) {
	if t == nil {
		return
	}
	o := t.Opportunity
	fmt.Fprintf(b, "trade %s: buy %s @ %s, sell %s @ %s, amount %s",
		t.ID, o.BuyVenue, price(o.BuyPrice), o.SellVenue, price(o.SellPrice), price(o.Amount))
}

func legName(side domain.OrderSide) string {
	if side == "" {
		return "none"
	}
	return string(side)
}

func price(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", f), "0"), ".")
}
