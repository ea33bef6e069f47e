package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/oracle"
)

// Mode selects how gate failures are routed.
type Mode string

const (
	// ModeStandard allows the AOMQ fallback to substitute an emergency
	// quote where the primary path would reject.
	ModeStandard Mode = "standard"
	// ModeStrict propagates gate failures as errors.
	ModeStrict Mode = "strict"
)

// ClampFlags records which caps fired while producing a quote.
type ClampFlags uint8

const (
	ClampPartialFill ClampFlags = 1 << iota
	ClampFeeCapped
	ClampAomq
)

// Has reports whether flag is set.
func (f ClampFlags) Has(flag ClampFlags) bool {
	return f&flag != 0
}

// QuoteReason classifies a successful quote.
type QuoteReason string

const (
	QuoteReasonOK    QuoteReason = "ok"
	QuoteReasonFloor QuoteReason = "floor"
	QuoteReasonAomq  QuoteReason = "aomq"
)

// OracleData carries the per-request source readings plus the caller's tick
// (block height or monotonic counter) used for fee decay.
type OracleData struct {
	Primary   oracle.Sample
	Secondary oracle.Sample
	Tick      int64
}

// QuoteRequest is one swap/quote invocation.
type QuoteRequest struct {
	AmountIn  decimal.Decimal
	IsBaseIn  bool
	Mode      Mode
	RebateBps decimal.Decimal
	Data      OracleData
}

// QuoteResult is the ephemeral per-call outcome.
type QuoteResult struct {
	AmountOut           decimal.Decimal
	MidUsed             decimal.Decimal
	FeeBpsUsed          decimal.Decimal
	PartialFillAmountIn decimal.Decimal
	UsedFallback        bool
	Reason              QuoteReason
	ClampFlags          ClampFlags
}

// Snapshot is the cached preview state. Created on refresh, read many
// times, never mutated in place.
type Snapshot struct {
	Timestamp     time.Time
	MidUsed       decimal.Decimal
	SigmaBps      decimal.Decimal
	ConfBps       decimal.Decimal
	DivergenceBps decimal.Decimal
	SpreadBps     decimal.Decimal
	SourceReason  oracle.SourceReason
}

// LadderRung is one preview ladder level.
type LadderRung struct {
	SizeNotional decimal.Decimal
	AskFeeBps    decimal.Decimal
	BidFeeBps    decimal.Decimal
}

// RecenterResult reports a committed retarget.
type RecenterResult struct {
	Mid          decimal.Decimal
	NewTarget    decimal.Decimal
	DeviationBps decimal.Decimal
	Manual       bool
	At           time.Time
}

// Events is the typed observer surface the engine publishes to. The engine
// has no dependency on how events are transported; implementations must not
// block.
type Events interface {
	DivergenceHaircut(deltaBps, haircutBps decimal.Decimal)
	DivergenceRejected(deltaBps decimal.Decimal)
	AomqActivated(reason string, notional decimal.Decimal)
	RecenterCommitted(res RecenterResult)
	SnapshotRefreshed(snap Snapshot)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) DivergenceHaircut(_, _ decimal.Decimal)    {}
func (NopEvents) DivergenceRejected(_ decimal.Decimal)      {}
func (NopEvents) AomqActivated(_ string, _ decimal.Decimal) {}
func (NopEvents) RecenterCommitted(_ RecenterResult)        {}
func (NopEvents) SnapshotRefreshed(_ Snapshot)              {}

var _ Events = NopEvents{}
