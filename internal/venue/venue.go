// Package venue implements domain.ExchangeClient for the supported trading
// venues and wraps any client with the shared retry policy.
package venue

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/arbcore/internal/crypto"
	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Kinds of venue implementation.
const (
	KindBinance  = "binance"
	KindCoinbase = "coinbase"
	KindPaper    = "paper"
)

// Config describes one venue connection.
type Config struct {
	Name    string
	Kind    string
	BaseURL string
	WSURL   string
	Auth    crypto.HMACAuth
	Timeout time.Duration
	Paper   PaperConfig
}

// New builds the ExchangeClient for cfg.Kind.
func New(cfg Config, logger *slog.Logger) (domain.ExchangeClient, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Kind
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	switch strings.ToLower(cfg.Kind) {
	case KindBinance:
		return NewBinance(cfg, httpClient, logger), nil
	case KindCoinbase:
		return NewCoinbase(cfg, httpClient, logger), nil
	case KindPaper:
		return NewPaper(cfg.Name, cfg.Paper), nil
	default:
		return nil, fmt.Errorf("venue: %w: kind %q", domain.ErrUnknownVenue, cfg.Kind)
	}
}

// binanceSymbol converts "ETH/USDT" to "ETHUSDT".
func binanceSymbol(pair string) string {
	return strings.ReplaceAll(domain.NormalizePair(pair), "/", "")
}

// coinbaseProduct converts "ETH/USD" to "ETH-USD".
func coinbaseProduct(pair string) string {
	return strings.ReplaceAll(domain.NormalizePair(pair), "/", "-")
}
