// Package fees composes the multi-signal fee curve: base, confidence,
// inventory-deviation, size, and LVR terms plus the divergence haircut and
// inventory tilt, lower-bounded by a BBO-derived floor and clamped to
// [base, cap]. Absent fresh signals the last fee decays geometrically toward
// the base.
//
// Hard contract: the computed fee is non-decreasing in confidence and in
// inventory deviation, all other inputs held fixed.
package fees

import (
	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/numutil"
)

// State is the persisted fee memory: the last charged fee and the tick it
// was charged at.
type State struct {
	LastFeeBps decimal.Decimal
	LastTick   int64
}

// Inputs are the per-request fee signals.
type Inputs struct {
	ConfidenceBps decimal.Decimal
	InvDevBps     decimal.Decimal
	SigmaBps      decimal.Decimal
	SpreadBps     decimal.Decimal
	HaircutBps    decimal.Decimal
	TradeNotional decimal.Decimal
	TiltSign      int // +1 worsens inventory balance, -1 restores, 0 neutral
	RebateBps     decimal.Decimal
	Tick          int64
}

// Breakdown exposes the individual terms for telemetry and previews.
type Breakdown struct {
	FeeBps       decimal.Decimal
	ConfTerm     decimal.Decimal
	InvDevTerm   decimal.Decimal
	SizeTerm     decimal.Decimal
	LvrTerm      decimal.Decimal
	TiltTerm     decimal.Decimal
	FloorBps     decimal.Decimal
	PreRebateBps decimal.Decimal
}

// Engine owns the fee state. Callers must serialise Compute invocations;
// Preview is pure and safe to call concurrently with reads.
type Engine struct {
	cfg   Config
	state State
}

// NewEngine constructs an Engine with the fee memory primed at base.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, state: State{LastFeeBps: cfg.BaseBps}}
}

// State returns a copy of the persisted fee state.
func (e *Engine) State() State {
	return e.state
}

// Config returns the active fee configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// SetConfig swaps in a new validated config. The fee memory is re-clamped
// into the new bounds so the invariant base <= lastFee <= cap holds.
func (e *Engine) SetConfig(cfg Config) {
	e.cfg = cfg
	e.state.LastFeeBps = numutil.Clamp(e.state.LastFeeBps, cfg.BaseBps, cfg.CapBps)
}

// Compute derives the fee for this request and advances the fee memory
// exactly once. The returned breakdown carries the post-rebate fee; the
// persisted memory holds the pre-rebate fee (rebates are per-caller).
func (e *Engine) Compute(in Inputs) Breakdown {
	bd := e.evaluate(in)
	e.state.LastFeeBps = bd.PreRebateBps
	e.state.LastTick = in.Tick
	return bd
}

// Preview derives the fee without touching state.
func (e *Engine) Preview(in Inputs) Breakdown {
	return e.evaluate(in)
}

// DecayedFee returns the fee memory decayed to the given tick, without a
// fresh signal computation. Pure.
func (e *Engine) DecayedFee(tick int64) decimal.Decimal {
	return e.decayToward(tick)
}

func (e *Engine) evaluate(in Inputs) Breakdown {
	cfg := e.cfg

	confTerm := in.ConfidenceBps.Mul(cfg.AlphaConf)
	invDevTerm := in.InvDevBps.Mul(cfg.BetaInvDev)

	sizeTerm := decimal.Zero
	if in.TradeNotional.Sign() > 0 {
		ratio := in.TradeNotional.Div(cfg.S0Notional)
		sizeTerm = numutil.Min(
			cfg.GammaSizeLin.Mul(ratio).Add(cfg.GammaSizeQuad.Mul(ratio.Mul(ratio))),
			cfg.SizeFeeCapBps)
	}

	lvrTerm := numutil.Min(cfg.LvrKappa.Mul(in.SigmaBps).Mul(cfg.TTLSqrt), cfg.LvrCapBps)

	tiltTerm := e.tiltTerm(in, invDevTerm)

	raw := cfg.BaseBps.
		Add(confTerm).
		Add(invDevTerm).
		Add(sizeTerm).
		Add(lvrTerm).
		Add(in.HaircutBps).
		Add(tiltTerm)

	// The floor is itself bounded by the cap so a wide BBO cannot push the
	// final fee past it.
	floor := numutil.Min(e.bboFloor(in.SpreadBps), cfg.CapBps)
	fee := numutil.Clamp(numutil.Max(raw, floor), cfg.BaseBps, cfg.CapBps)

	// Decay never lets a quiet tick undercut the memory of recent signals.
	decayed := e.decayToward(in.Tick)
	preRebate := numutil.Max(fee, decayed)

	rebate := numutil.Min(in.RebateBps, cfg.RebateMaxBps)
	final := numutil.Max(preRebate.Sub(rebate), numutil.Max(floor, cfg.BaseBps))

	return Breakdown{
		FeeBps:       final,
		ConfTerm:     confTerm,
		InvDevTerm:   invDevTerm,
		SizeTerm:     sizeTerm,
		LvrTerm:      lvrTerm,
		TiltTerm:     tiltTerm,
		FloorBps:     floor,
		PreRebateBps: preRebate,
	}
}

// tiltTerm biases the fee up for trades that worsen inventory balance and
// down for trades that restore it. The magnitude is linear in deviation and
// weighted by the observed spread; the downward direction is additionally
// capped at the deviation term so the net deviation contribution stays
// non-decreasing.
func (e *Engine) tiltTerm(in Inputs, invDevTerm decimal.Decimal) decimal.Decimal {
	if in.TiltSign == 0 {
		return decimal.Zero
	}
	weight := numutil.One.Add(numutil.BpsToRatio(in.SpreadBps))
	magnitude := numutil.Min(e.cfg.TiltGamma.Mul(in.InvDevBps).Mul(weight), e.cfg.TiltCapBps)
	if in.TiltSign > 0 {
		return magnitude
	}
	return numutil.Min(magnitude, invDevTerm).Neg()
}

func (e *Engine) bboFloor(spreadBps decimal.Decimal) decimal.Decimal {
	if spreadBps.Sign() > 0 {
		return e.cfg.AlphaBbo.Mul(spreadBps)
	}
	return e.cfg.FloorAbsBps
}

// decayToward folds the elapsed ticks into a geometric decay of the fee
// memory toward base: base + (last-base) * (1 - d/100)^elapsed.
func (e *Engine) decayToward(tick int64) decimal.Decimal {
	last := e.state.LastFeeBps
	if last.LessThanOrEqual(e.cfg.BaseBps) {
		return e.cfg.BaseBps
	}
	elapsed := tick - e.state.LastTick
	if elapsed <= 0 {
		return last
	}
	keep := numutil.One.Sub(e.cfg.DecayPctPerBlock.Div(numutil.Hundred))
	factor := keep.Pow(decimal.NewFromInt(elapsed))
	return e.cfg.BaseBps.Add(last.Sub(e.cfg.BaseBps).Mul(factor))
}
