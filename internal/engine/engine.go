// Package engine orchestrates the quoting pipeline: oracle fusion, the
// divergence gate, the fee curve, floor-protected inventory conversion, the
// AOMQ emergency fallback, auto-recentering, and the preview snapshot cache.
//
// The engine is single-writer: Quote, RefreshSnapshot, RebalanceTarget, and
// governance updates serialise on one lock and each applies its state
// mutations atomically. Preview-family calls are pure and run concurrently
// against the cached snapshot.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/divergence"
	"amm-quote-engine/internal/fees"
	"amm-quote-engine/internal/inventory"
	"amm-quote-engine/internal/oracle"
	"amm-quote-engine/internal/recenter"
)

var (
	// ErrNoSnapshot indicates a preview was requested before any refresh.
	ErrNoSnapshot = errors.New("engine: no preview snapshot")

	// ErrSnapshotStale indicates the cached snapshot exceeded its max age
	// with staleness rejection enabled.
	ErrSnapshotStale = errors.New("engine: preview snapshot stale")

	// ErrRefreshCooldown limits how often refresh may write a snapshot.
	ErrRefreshCooldown = errors.New("engine: snapshot refresh on cooldown")

	// ErrAomqBelowMin indicates the emergency path could not produce a
	// quote meeting the minimum notional.
	ErrAomqBelowMin = errors.New("engine: aomq quote below min notional")
)

// Params wires validated configs and collaborators into an Engine.
type Params struct {
	OracleConfig     oracle.Config
	DivergenceConfig divergence.Config
	FeeConfig        fees.Config
	InventoryConfig  inventory.Config
	RecenterConfig   recenter.Config
	MakerConfig      MakerConfig
	AomqConfig       AomqConfig

	InitialInventory inventory.State
	BaseLeg          TokenLegInfo
	QuoteLeg         TokenLegInfo

	Events Events
	Logger zerolog.Logger
	Clock  func() time.Time
}

// Engine is the pricing and risk-control core.
type Engine struct {
	mu sync.RWMutex

	fuser   *oracle.Fuser
	gate    *divergence.Gate
	fees    *fees.Engine
	book    *inventory.Book
	machine *recenter.Machine

	maker MakerConfig
	aomq  AomqConfig

	baseLeg  TokenLegInfo
	quoteLeg TokenLegInfo

	snap        *Snapshot
	lastRefresh time.Time

	events Events
	logger zerolog.Logger
	clock  func() time.Time
}

// New constructs an Engine from validated parameters.
func New(p Params) *Engine {
	events := p.Events
	if events == nil {
		events = NopEvents{}
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := p.Logger.With().Str("component", "engine").Logger()

	return &Engine{
		fuser:    oracle.NewFuser(p.OracleConfig, p.Logger),
		gate:     divergence.NewGate(p.DivergenceConfig),
		fees:     fees.NewEngine(p.FeeConfig),
		book:     inventory.NewBook(p.InventoryConfig, p.InitialInventory),
		machine:  recenter.NewMachine(p.RecenterConfig),
		maker:    p.MakerConfig,
		aomq:     p.AomqConfig,
		baseLeg:  p.BaseLeg,
		quoteLeg: p.QuoteLeg,
		events:   events,
		logger:   logger,
		clock:    clock,
	}
}

// States bundles the persisted state views for telemetry and auditing.
type States struct {
	Fee        fees.State
	Divergence divergence.State
	Inventory  inventory.State
}

// States returns a consistent copy of all persisted engine state.
func (e *Engine) States() States {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return States{
		Fee:        e.fees.State(),
		Divergence: e.gate.State(),
		Inventory:  e.book.State(),
	}
}

// Legs returns the cached token leg metadata.
func (e *Engine) Legs() (base, quote TokenLegInfo) {
	return e.baseLeg, e.quoteLeg
}

// Quote prices and executes one swap request. All persisted state advances
// exactly once; a typed error leaves everything untouched except the oracle
// and hysteresis memory that this call's sample legitimately advanced.
func (e *Engine) Quote(req QuoteRequest) (QuoteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Rejecting before fusion keeps oracle and fee memory untouched on a
	// malformed request.
	if req.AmountIn.Sign() <= 0 {
		return QuoteResult{}, inventory.ErrZeroAmount
	}

	fused, err := e.fuser.Fuse(req.Data.Primary, req.Data.Secondary)
	if err != nil {
		return QuoteResult{}, err
	}

	outcome, gateErr := e.gate.Check(fused.DeltaBps, fused.SecondaryFresh)
	if gateErr != nil {
		e.events.DivergenceRejected(fused.DeltaBps)
		if e.aomqEligible(req.Mode) {
			return e.aomqQuote(req, fused, "divergence")
		}
		return QuoteResult{}, gateErr
	}

	if outcome.HaircutBps.Sign() > 0 {
		e.events.DivergenceHaircut(outcome.DeltaBps, outcome.HaircutBps)
	}

	if e.aomqEligible(req.Mode) && e.book.NearFloor(e.aomq.FloorEpsilonBps) {
		return e.aomqQuote(req, fused, "floor_proximity")
	}

	bd := e.fees.Compute(fees.Inputs{
		ConfidenceBps: fused.ConfidenceBps,
		InvDevBps:     e.book.DeviationBps(fused.MidUsed),
		SigmaBps:      fused.SigmaBps,
		SpreadBps:     fused.SpreadBps,
		HaircutBps:    outcome.HaircutBps,
		TradeNotional: e.tradeNotional(req.AmountIn, req.IsBaseIn, fused.MidUsed),
		TiltSign:      e.book.TiltSign(req.IsBaseIn, fused.MidUsed),
		RebateBps:     req.RebateBps,
		Tick:          req.Data.Tick,
	})

	fill, err := e.book.Convert(req.AmountIn, fused.MidUsed, bd.FeeBps, req.IsBaseIn)
	if err != nil {
		return QuoteResult{}, err
	}
	e.book.ApplyFill(fill, req.IsBaseIn)

	e.maybeAutoRecenter(fused)

	result := QuoteResult{
		AmountOut:           fill.AmountOut,
		MidUsed:             fused.MidUsed,
		FeeBpsUsed:          bd.FeeBps,
		PartialFillAmountIn: fill.PartialFillAmountIn,
		UsedFallback:        fused.UsedFallback,
		Reason:              QuoteReasonOK,
	}
	if fill.Partial() {
		result.Reason = QuoteReasonFloor
		result.ClampFlags |= ClampPartialFill
	}
	if bd.FeeBps.Equal(e.fees.Config().CapBps) {
		result.ClampFlags |= ClampFeeCapped
	}

	e.logger.Debug().
		Str("amount_in", req.AmountIn.String()).
		Str("amount_out", result.AmountOut.String()).
		Str("fee_bps", result.FeeBpsUsed.String()).
		Str("reason", string(result.Reason)).
		Bool("fallback", result.UsedFallback).
		Msg("quote served")

	return result, nil
}

func (e *Engine) aomqEligible(mode Mode) bool {
	return e.aomq.Enabled && mode != ModeStrict
}

// aomqQuote substitutes the emergency spread and clamps size to the largest
// amount respecting both the floor and the minimum quote notional.
func (e *Engine) aomqQuote(req QuoteRequest, fused oracle.FusedQuote, trigger string) (QuoteResult, error) {
	fill, err := e.book.Convert(req.AmountIn, fused.MidUsed, e.aomq.EmergencySpreadBps, req.IsBaseIn)
	if err != nil {
		return QuoteResult{}, err
	}

	notional := fill.AmountOut
	if !req.IsBaseIn {
		notional = fill.PartialFillAmountIn
	}
	if notional.LessThan(e.aomq.MinQuoteNotional) {
		return QuoteResult{}, fmt.Errorf("%w: %s < %s", ErrAomqBelowMin, notional, e.aomq.MinQuoteNotional)
	}

	e.book.ApplyFill(fill, req.IsBaseIn)
	e.events.AomqActivated(trigger, notional)

	result := QuoteResult{
		AmountOut:           fill.AmountOut,
		MidUsed:             fused.MidUsed,
		FeeBpsUsed:          e.aomq.EmergencySpreadBps,
		PartialFillAmountIn: fill.PartialFillAmountIn,
		UsedFallback:        fused.UsedFallback,
		Reason:              QuoteReasonAomq,
		ClampFlags:          ClampAomq,
	}
	if fill.Partial() {
		result.ClampFlags |= ClampPartialFill
	}

	e.logger.Warn().
		Str("trigger", trigger).
		Str("notional", notional.String()).
		Msg("aomq emergency quote")

	return result, nil
}

func (e *Engine) maybeAutoRecenter(fused oracle.FusedQuote) {
	now := e.clock()
	state := e.book.State()
	dev := e.book.DeviationBps(fused.MidUsed)

	// A mid served off a fallback source must never retarget inventory.
	if !e.machine.Step(dev, !fused.UsedFallback, now, state.LastRebalanceAt) {
		return
	}

	target := e.book.Retarget(fused.MidUsed, now)
	e.machine.MarkCommitted()

	res := RecenterResult{
		Mid:          fused.MidUsed,
		NewTarget:    target,
		DeviationBps: dev,
		Manual:       false,
		At:           now,
	}
	e.events.RecenterCommitted(res)
	e.logger.Info().
		Str("mid", fused.MidUsed.String()).
		Str("new_target", target.String()).
		Str("deviation_bps", dev.String()).
		Msg("auto recenter committed")
}

// RebalanceTarget is the manual (permissionless) recenter trigger. It shares
// the automatic path's threshold, cooldown, and re-arm gates and fails with
// a typed error rather than no-op when ineligible.
func (e *Engine) RebalanceTarget(data OracleData) (RecenterResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fused, err := e.fuser.Fuse(data.Primary, data.Secondary)
	if err != nil {
		return RecenterResult{}, err
	}
	if fused.UsedFallback {
		return RecenterResult{}, fmt.Errorf("%w: retarget needs a fresh primary mid, got %s",
			oracle.ErrOracleStale, fused.SourceReason)
	}

	now := e.clock()
	state := e.book.State()
	dev := e.book.DeviationBps(fused.MidUsed)

	if err := e.machine.CheckManual(dev, now, state.LastRebalanceAt); err != nil {
		return RecenterResult{}, err
	}

	target := e.book.Retarget(fused.MidUsed, now)
	e.machine.MarkCommitted()

	res := RecenterResult{
		Mid:          fused.MidUsed,
		NewTarget:    target,
		DeviationBps: dev,
		Manual:       true,
		At:           now,
	}
	e.events.RecenterCommitted(res)
	e.logger.Info().
		Str("mid", fused.MidUsed.String()).
		Str("new_target", target.String()).
		Msg("manual recenter committed")

	return res, nil
}

// RefreshSnapshot fuses fresh oracle data into a new preview snapshot. It is
// the only mutator besides Quote and RebalanceTarget, and is rate-limited by
// the refresh cooldown.
func (e *Engine) RefreshSnapshot(data OracleData) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if !e.lastRefresh.IsZero() && now.Sub(e.lastRefresh) < e.maker.RefreshCooldown {
		return Snapshot{}, fmt.Errorf("%w: last refresh %s ago",
			ErrRefreshCooldown, now.Sub(e.lastRefresh))
	}

	fused, err := e.fuser.Fuse(data.Primary, data.Secondary)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Timestamp:     now,
		MidUsed:       fused.MidUsed,
		SigmaBps:      fused.SigmaBps,
		ConfBps:       fused.ConfidenceBps,
		DivergenceBps: fused.DeltaBps,
		SpreadBps:     fused.SpreadBps,
		SourceReason:  fused.SourceReason,
	}
	e.snap = &snap
	e.lastRefresh = now

	e.events.SnapshotRefreshed(snap)
	return snap, nil
}

// PreviewFees prices the ask and bid fee for each size, purely from the
// cached snapshot. Zero state writes.
func (e *Engine) PreviewFees(sizes []decimal.Decimal) (askFeeBps, bidFeeBps []decimal.Decimal, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap, err := e.snapshotLocked()
	if err != nil {
		return nil, nil, err
	}

	askFeeBps = make([]decimal.Decimal, len(sizes))
	bidFeeBps = make([]decimal.Decimal, len(sizes))
	for i, size := range sizes {
		askFeeBps[i] = e.previewFeeLocked(snap, size, false)
		bidFeeBps[i] = e.previewFeeLocked(snap, size, true)
	}
	return askFeeBps, bidFeeBps, nil
}

// PreviewLadder prices a doubling size ladder starting at s0. Pure.
func (e *Engine) PreviewLadder(s0 decimal.Decimal) ([]LadderRung, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap, err := e.snapshotLocked()
	if err != nil {
		return nil, err
	}
	if s0.Sign() <= 0 {
		return nil, fmt.Errorf("engine: ladder s0 must be positive, got %s", s0)
	}

	rungs := make([]LadderRung, 0, e.maker.LadderLevels)
	size := s0
	for i := 0; i < e.maker.LadderLevels; i++ {
		rungs = append(rungs, LadderRung{
			SizeNotional: size,
			AskFeeBps:    e.previewFeeLocked(snap, size, false),
			BidFeeBps:    e.previewFeeLocked(snap, size, true),
		})
		size = size.Mul(decimal.NewFromInt(2))
	}
	return rungs, nil
}

// PreviewSnapshot returns the cached snapshot, applying the staleness bound.
func (e *Engine) PreviewSnapshot() (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() (Snapshot, error) {
	if e.snap == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	age := e.clock().Sub(e.snap.Timestamp)
	if e.maker.StalenessReject && age > e.maker.SnapshotMaxAge {
		return Snapshot{}, fmt.Errorf("%w: age %s > %s", ErrSnapshotStale, age, e.maker.SnapshotMaxAge)
	}
	return *e.snap, nil
}

func (e *Engine) previewFeeLocked(snap Snapshot, sizeNotional decimal.Decimal, isBaseIn bool) decimal.Decimal {
	bd := e.fees.Preview(fees.Inputs{
		ConfidenceBps: snap.ConfBps,
		InvDevBps:     e.book.DeviationBps(snap.MidUsed),
		SigmaBps:      snap.SigmaBps,
		SpreadBps:     snap.SpreadBps,
		HaircutBps:    e.gate.Config().HaircutFor(snap.DivergenceBps),
		TradeNotional: sizeNotional,
		TiltSign:      e.book.TiltSign(isBaseIn, snap.MidUsed),
		Tick:          e.fees.State().LastTick,
	})
	return bd.FeeBps
}

func (e *Engine) tradeNotional(amountIn decimal.Decimal, isBaseIn bool, mid decimal.Decimal) decimal.Decimal {
	if isBaseIn {
		return amountIn.Mul(mid)
	}
	return amountIn
}

// ApplyFeeConfig atomically swaps the fee parameters.
func (e *Engine) ApplyFeeConfig(cfg fees.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees.SetConfig(cfg)
}

// ApplyInventoryConfig atomically swaps the inventory parameters.
func (e *Engine) ApplyInventoryConfig(cfg inventory.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book.SetConfig(cfg)
}

// ApplyOracleConfig atomically swaps the oracle fusion parameters.
func (e *Engine) ApplyOracleConfig(cfg oracle.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fuser.SetConfig(cfg)
}

// ApplyDivergenceConfig atomically swaps the divergence bands.
func (e *Engine) ApplyDivergenceConfig(cfg divergence.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate.SetConfig(cfg)
}

// ApplyRecenterConfig atomically swaps the recenter gates.
func (e *Engine) ApplyRecenterConfig(cfg recenter.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machine.SetConfig(cfg)
}

// ApplyMakerConfig atomically swaps the snapshot/ladder parameters.
func (e *Engine) ApplyMakerConfig(cfg MakerConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maker = cfg
}

// ApplyAomqConfig atomically swaps the emergency quoting parameters.
func (e *Engine) ApplyAomqConfig(cfg AomqConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aomq = cfg
}
