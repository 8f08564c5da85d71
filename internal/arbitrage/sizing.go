package arbitrage

import "github.com/alanyoungcy/arbcore/internal/domain"

// Sizer picks the trade amount for a candidate before the detector clamps it
// to the configured volume bounds. No fee or slippage adjustment is applied
// by any built-in sizer.
type Sizer interface {
	Size(pair string, buy, sell domain.Quote) float64
}

// SizerFunc adapts a function to Sizer.
type SizerFunc func(pair string, buy, sell domain.Quote) float64

func (f SizerFunc) Size(pair string, buy, sell domain.Quote) float64 { return f(pair, buy, sell) }

// MinAmountSizer trades the configured minimum amount for each pair. Pairs
// without an entry size to zero and are lifted to the global minimum volume
// by the clamp.
type MinAmountSizer struct {
	MinAmounts map[string]float64
}

func (s MinAmountSizer) Size(pair string, _, _ domain.Quote) float64 {
	return s.MinAmounts[domain.NormalizePair(pair)]
}
