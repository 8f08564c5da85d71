package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

func TestPaperFillsAfterPolls(t *testing.T) {
	p := NewPaper("paper", PaperConfig{FillAfterPolls: 2})
	ctx := context.Background()

	h, err := p.PlaceOrder(ctx, domain.OrderRequest{Pair: "ETH/USDT", Side: domain.OrderSideBuy, Amount: 1, Price: 3000})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	for i := 0; i < 2; i++ {
		rep, err := p.GetOrderStatus(ctx, "ETH/USDT", h.ID)
		if err != nil {
			t.Fatalf("GetOrderStatus: %v", err)
		}
		if rep.Status != domain.OrderStatusPending {
			t.Fatalf("poll %d status = %s, want pending", i+1, rep.Status)
		}
	}
	rep, err := p.GetOrderStatus(ctx, "ETH/USDT", h.ID)
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if rep.Status != domain.OrderStatusFilled || rep.FilledPrice != 3000 || rep.FilledAmount != 1 {
		t.Errorf("report = %+v", rep)
	}

	ok, err := p.CancelOrder(ctx, "ETH/USDT", h.ID)
	if err != nil || ok {
		t.Errorf("cancel filled order = %v, %v; want false, nil", ok, err)
	}
}

func TestPaperCancelPending(t *testing.T) {
	p := NewPaper("paper", PaperConfig{FillAfterPolls: 10})
	ctx := context.Background()
	h, _ := p.PlaceOrder(ctx, domain.OrderRequest{Pair: "ETH/USDT", Side: domain.OrderSideSell, Amount: 1, Price: 3000})

	ok, err := p.CancelOrder(ctx, "ETH/USDT", h.ID)
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v; want true, nil", ok, err)
	}
	rep, _ := p.GetOrderStatus(ctx, "ETH/USDT", h.ID)
	if rep.Status != domain.OrderStatusCanceled {
		t.Errorf("status = %s, want canceled", rep.Status)
	}
}

func TestPaperClientIDIsIdempotent(t *testing.T) {
	p := NewPaper("paper", PaperConfig{})
	ctx := context.Background()
	req := domain.OrderRequest{Pair: "ETH/USDT", Side: domain.OrderSideBuy, Amount: 1, Price: 10, ClientID: "same"}
	a, _ := p.PlaceOrder(ctx, req)
	b, _ := p.PlaceOrder(ctx, req)
	if a.ID != b.ID {
		t.Errorf("resubmission created a second order: %s vs %s", a.ID, b.ID)
	}
}

func TestPaperUnknownOrder(t *testing.T) {
	p := NewPaper("paper", PaperConfig{})
	_, err := p.GetOrderStatus(context.Background(), "ETH/USDT", "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPaperStream(t *testing.T) {
	p := NewPaper("paper", PaperConfig{
		StartPrices:  map[string]float64{"eth/usdt": 3000},
		TickInterval: 5 * time.Millisecond,
	})
	s, err := p.OpenPriceStream(context.Background(), "ETH/USDT")
	if err != nil {
		t.Fatalf("OpenPriceStream: %v", err)
	}
	q := <-s.Quotes()
	if q.Price != 3000 || q.Venue != "paper" {
		t.Errorf("quote = %+v", q)
	}
	s.Close()
	for range s.Quotes() {
	}
}
