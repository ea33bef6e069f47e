package oracle

import (
	"github.com/shopspring/decimal"
)

// Status classifies a single source reading.
type Status string

const (
	StatusOK    Status = "ok"
	StatusStale Status = "stale"
	StatusError Status = "error"
)

// Sample is one reading from one price source. Bid/Ask are optional and left
// zero when the source does not observe a book.
type Sample struct {
	Mid           decimal.Decimal
	Bid           decimal.Decimal
	Ask           decimal.Decimal
	ConfidenceBps decimal.Decimal
	AgeSec        int64
	Status        Status
}

// Usable reports whether the sample carries a positive mid within maxAgeSec.
func (s Sample) Usable(maxAgeSec int64) bool {
	return s.Status == StatusOK && s.Mid.Sign() > 0 && s.AgeSec <= maxAgeSec
}

// SpreadBps derives the bid/ask spread in basis points, zero when no book is
// observable.
func (s Sample) SpreadBps() decimal.Decimal {
	if s.Bid.Sign() <= 0 || s.Ask.Sign() <= 0 || s.Ask.LessThanOrEqual(s.Bid) {
		return decimal.Zero
	}
	mid := s.Bid.Add(s.Ask).Div(decimal.NewFromInt(2))
	return s.Ask.Sub(s.Bid).Div(mid).Mul(decimal.NewFromInt(10_000))
}

// SourceReason records which source produced the fused mid.
type SourceReason string

const (
	ReasonPrimary           SourceReason = "primary"
	ReasonEmaFallback       SourceReason = "ema_fallback"
	ReasonSecondaryFallback SourceReason = "secondary_fallback"
)

// FusedQuote is the per-request fusion result. It is never persisted.
type FusedQuote struct {
	MidUsed        decimal.Decimal
	UsedFallback   bool
	SourceReason   SourceReason
	DeltaBps       decimal.Decimal
	ConfidenceBps  decimal.Decimal
	SpreadBps      decimal.Decimal
	SigmaBps       decimal.Decimal
	SecondaryFresh bool
}
