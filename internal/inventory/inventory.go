// Package inventory converts swap amounts between the base and quote legs at
// a fee-adjusted oracle mid, protects both legs with a reserve floor, and
// derives the deviation signal consumed by the fee curve and the recenter
// state machine.
package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/numutil"
)

var (
	// ErrInvalidConfig rejects an inventory parameter set at construction.
	ErrInvalidConfig = errors.New("inventory: invalid config")

	// ErrZeroAmount rejects a swap request with a non-positive input.
	ErrZeroAmount = errors.New("inventory: amount must be positive")
)

// Config holds validated inventory parameters.
type Config struct {
	FloorBps decimal.Decimal
}

// ConfigParams is the raw form of Config.
type ConfigParams struct {
	FloorBps float64
}

// NewConfig validates raw parameters.
func NewConfig(p ConfigParams) (Config, error) {
	if p.FloorBps < 0 || p.FloorBps >= 10_000 {
		return Config{}, fmt.Errorf("%w: floor_bps must be in [0,10000)", ErrInvalidConfig)
	}
	return Config{FloorBps: decimal.NewFromFloat(p.FloorBps)}, nil
}

// State is the persisted inventory position. Reserves are mutated by
// successful swaps; the target and rebalance bookkeeping by the recenter
// state machine.
type State struct {
	BaseReserves       decimal.Decimal
	QuoteReserves      decimal.Decimal
	TargetBaseStar     decimal.Decimal
	LastRebalancePrice decimal.Decimal
	LastRebalanceAt    time.Time
}

// FillReason classifies how a conversion terminated.
type FillReason string

const (
	ReasonFull  FillReason = "full"
	ReasonFloor FillReason = "floor"
)

// Fill is the outcome of one conversion.
type Fill struct {
	AmountOut           decimal.Decimal
	PartialFillAmountIn decimal.Decimal
	Reason              FillReason
}

// Partial reports whether the fill was clamped at the reserve floor.
func (f Fill) Partial() bool {
	return f.Reason == ReasonFloor
}

// Book owns the inventory state and the floor-protected conversion rules.
type Book struct {
	cfg   Config
	state State
}

// NewBook constructs a Book around an initial state.
func NewBook(cfg Config, state State) *Book {
	return &Book{cfg: cfg, state: state}
}

// State returns a copy of the persisted inventory state.
func (b *Book) State() State {
	return b.state
}

// SetConfig swaps in a new validated config.
func (b *Book) SetConfig(cfg Config) {
	b.cfg = cfg
}

// FloorBase returns the protected minimum for the base leg at the current
// reserves.
func (b *Book) FloorBase() decimal.Decimal {
	return numutil.FloorAmount(b.state.BaseReserves, b.cfg.FloorBps)
}

// FloorQuote returns the protected minimum for the quote leg.
func (b *Book) FloorQuote() decimal.Decimal {
	return numutil.FloorAmount(b.state.QuoteReserves, b.cfg.FloorBps)
}

// Convert turns amountIn into the opposite leg at mid adjusted by feeBps.
// When the naive output would breach the opposite-side floor, the fill is
// clamped so the post-trade reserve lands exactly on the floor and the
// consumed input shrinks proportionally.
func (b *Book) Convert(amountIn, mid, feeBps decimal.Decimal, isBaseIn bool) (Fill, error) {
	if amountIn.Sign() <= 0 {
		return Fill{}, ErrZeroAmount
	}
	if mid.Sign() <= 0 {
		return Fill{}, fmt.Errorf("inventory: mid must be positive, got %s", mid)
	}

	feeFactor := numutil.One.Sub(numutil.BpsToRatio(feeBps))

	var naiveOut, reserveOut, floor decimal.Decimal
	if isBaseIn {
		naiveOut = amountIn.Mul(mid).Mul(feeFactor)
		reserveOut = b.state.QuoteReserves
		floor = b.FloorQuote()
	} else {
		naiveOut = amountIn.Div(mid).Mul(feeFactor)
		reserveOut = b.state.BaseReserves
		floor = b.FloorBase()
	}

	available := reserveOut.Sub(floor)
	if available.Sign() <= 0 {
		return Fill{AmountOut: decimal.Zero, PartialFillAmountIn: decimal.Zero, Reason: ReasonFloor}, nil
	}

	if naiveOut.LessThanOrEqual(available) {
		return Fill{AmountOut: naiveOut, PartialFillAmountIn: amountIn, Reason: ReasonFull}, nil
	}

	// Clamp to the floor exactly: out = reserve - floor, input scaled back
	// through the same fee-adjusted mid.
	out := available
	var partialIn decimal.Decimal
	if isBaseIn {
		partialIn = out.Div(mid.Mul(feeFactor))
	} else {
		partialIn = out.Mul(mid).Div(feeFactor)
	}
	return Fill{AmountOut: out, PartialFillAmountIn: partialIn, Reason: ReasonFloor}, nil
}

// ApplyFill mutates reserves for a completed swap.
func (b *Book) ApplyFill(fill Fill, isBaseIn bool) {
	if isBaseIn {
		b.state.BaseReserves = b.state.BaseReserves.Add(fill.PartialFillAmountIn)
		b.state.QuoteReserves = b.state.QuoteReserves.Sub(fill.AmountOut)
	} else {
		b.state.QuoteReserves = b.state.QuoteReserves.Add(fill.PartialFillAmountIn)
		b.state.BaseReserves = b.state.BaseReserves.Sub(fill.AmountOut)
	}
}

// DeviationBps measures |base notional - target notional| / total notional
// in basis points at the given mid. Symmetric in which side is heavy.
func (b *Book) DeviationBps(mid decimal.Decimal) decimal.Decimal {
	if mid.Sign() <= 0 {
		return decimal.Zero
	}
	baseNotional := b.state.BaseReserves.Mul(mid)
	targetNotional := b.state.TargetBaseStar.Mul(mid)
	total := baseNotional.Add(b.state.QuoteReserves)
	if total.Sign() <= 0 {
		return decimal.Zero
	}
	return numutil.RatioToBps(baseNotional.Sub(targetNotional).Abs().Div(total))
}

// TiltSign reports whether a trade direction worsens (+1) or restores (-1)
// the inventory balance at the given mid, zero when balanced.
func (b *Book) TiltSign(isBaseIn bool, mid decimal.Decimal) int {
	if mid.Sign() <= 0 {
		return 0
	}
	diff := b.state.BaseReserves.Sub(b.state.TargetBaseStar)
	switch {
	case diff.Sign() > 0: // base heavy
		if isBaseIn {
			return 1
		}
		return -1
	case diff.Sign() < 0: // base light
		if isBaseIn {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// NearFloor reports whether either leg has been drawn down to within
// epsilonBps of its floor, measured against the last retarget point. The
// per-trade floors in Convert are relative to the pre-trade reserve, so the
// proximity trigger needs a fixed anchor. False until the first retarget.
func (b *Book) NearFloor(epsilonBps decimal.Decimal) bool {
	if b.state.TargetBaseStar.Sign() <= 0 || b.state.LastRebalancePrice.Sign() <= 0 {
		return false
	}
	bound := b.cfg.FloorBps.Add(epsilonBps)
	baseFloor := numutil.FloorAmount(b.state.TargetBaseStar, bound)
	quoteFloor := numutil.FloorAmount(b.state.TargetBaseStar.Mul(b.state.LastRebalancePrice), bound)
	return b.state.BaseReserves.LessThanOrEqual(baseFloor) ||
		b.state.QuoteReserves.LessThanOrEqual(quoteFloor)
}

// Retarget moves the inventory midpoint to a 50/50 value split at mid and
// stamps the rebalance bookkeeping. Called only by the recenter machine.
func (b *Book) Retarget(mid decimal.Decimal, at time.Time) decimal.Decimal {
	totalValue := b.state.BaseReserves.Mul(mid).Add(b.state.QuoteReserves)
	b.state.TargetBaseStar = totalValue.Div(decimal.NewFromInt(2)).Div(mid)
	b.state.LastRebalancePrice = mid
	b.state.LastRebalanceAt = at
	return b.state.TargetBaseStar
}
