// Package divergence gates and penalises quotes based on the disagreement
// between the primary and secondary price sources. Three ordered bands over
// deltaBps (accept < soft < hard) decide whether a quote proceeds untouched,
// carries an additional fee haircut, or is rejected outright.
package divergence

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidConfig rejects a band parameter set at construction.
	ErrInvalidConfig = errors.New("divergence: invalid config")

	// ErrHardDivergence rejects the current request; delta reached the
	// hard band.
	ErrHardDivergence = errors.New("divergence: hard band reached")
)

// Config holds validated band and haircut parameters.
type Config struct {
	AcceptBps       decimal.Decimal
	SoftBps         decimal.Decimal
	HardBps         decimal.Decimal
	HaircutMinBps   decimal.Decimal
	HaircutSlopeBps decimal.Decimal
	HealthyStreak   uint8
}

// ConfigParams is the raw form of Config.
type ConfigParams struct {
	AcceptBps       float64
	SoftBps         float64
	HardBps         float64
	HaircutMinBps   float64
	HaircutSlopeBps float64
	HealthyStreak   uint8
}

// NewConfig validates band ordering and returns an immutable Config.
func NewConfig(p ConfigParams) (Config, error) {
	if p.AcceptBps < 0 {
		return Config{}, fmt.Errorf("%w: accept_bps cannot be negative", ErrInvalidConfig)
	}
	if !(p.AcceptBps < p.SoftBps && p.SoftBps < p.HardBps) {
		return Config{}, fmt.Errorf("%w: bands must satisfy accept < soft < hard", ErrInvalidConfig)
	}
	if p.HaircutMinBps < 0 || p.HaircutSlopeBps < 0 {
		return Config{}, fmt.Errorf("%w: haircut parameters cannot be negative", ErrInvalidConfig)
	}
	if p.HealthyStreak == 0 {
		return Config{}, fmt.Errorf("%w: healthy_streak must be at least 1", ErrInvalidConfig)
	}
	return Config{
		AcceptBps:       decimal.NewFromFloat(p.AcceptBps),
		SoftBps:         decimal.NewFromFloat(p.SoftBps),
		HardBps:         decimal.NewFromFloat(p.HardBps),
		HaircutMinBps:   decimal.NewFromFloat(p.HaircutMinBps),
		HaircutSlopeBps: decimal.NewFromFloat(p.HaircutSlopeBps),
		HealthyStreak:   p.HealthyStreak,
	}, nil
}

// HaircutFor computes the fee haircut a given delta would carry, without
// touching any state. Deltas under the soft band carry none.
func (c Config) HaircutFor(deltaBps decimal.Decimal) decimal.Decimal {
	if deltaBps.LessThan(c.SoftBps) {
		return decimal.Zero
	}
	return c.HaircutMinBps.Add(c.HaircutSlopeBps.Mul(deltaBps.Sub(c.AcceptBps)))
}

// State is the persisted hysteresis state. Active flips true on a single
// sample above the accept band but clears only after HealthyStreak
// consecutive samples back under it.
type State struct {
	Active        bool
	LastDeltaBps  decimal.Decimal
	HealthyStreak uint8
}

// Outcome reports the gate decision for one sample.
type Outcome struct {
	HaircutBps decimal.Decimal
	Active     bool
	DeltaBps   decimal.Decimal
	// Checked is false when the secondary source was stale: no comparison
	// was possible and the primary source is trusted outright.
	Checked bool
}

// Gate owns the hysteresis state machine.
type Gate struct {
	cfg   Config
	state State
}

// NewGate constructs a Gate with a cleared state.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// State returns a copy of the persisted hysteresis state.
func (g *Gate) State() State {
	return g.state
}

// Config returns the active band configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// SetConfig swaps in a new validated config. The hysteresis state carries
// over; streaks are not reset by governance updates.
func (g *Gate) SetConfig(cfg Config) {
	g.cfg = cfg
}

// Check advances the state machine exactly once for this sample and returns
// the gate outcome. secondaryFresh=false disables the entire check.
func (g *Gate) Check(deltaBps decimal.Decimal, secondaryFresh bool) (Outcome, error) {
	if !secondaryFresh {
		return Outcome{Active: g.state.Active, Checked: false}, nil
	}

	g.state.LastDeltaBps = deltaBps

	switch {
	case deltaBps.GreaterThanOrEqual(g.cfg.HardBps):
		g.state.Active = true
		g.state.HealthyStreak = 0
		return Outcome{}, fmt.Errorf("%w: delta %s bps >= hard %s bps",
			ErrHardDivergence, deltaBps, g.cfg.HardBps)

	case deltaBps.GreaterThanOrEqual(g.cfg.SoftBps):
		g.state.Active = true
		g.state.HealthyStreak = 0
		haircut := g.cfg.HaircutMinBps.Add(
			g.cfg.HaircutSlopeBps.Mul(deltaBps.Sub(g.cfg.AcceptBps)))
		return Outcome{HaircutBps: haircut, Active: true, DeltaBps: deltaBps, Checked: true}, nil

	case deltaBps.GreaterThan(g.cfg.AcceptBps):
		// Between accept and soft: no haircut, but not healthy either.
		g.state.Active = true
		g.state.HealthyStreak = 0
		return Outcome{Active: true, DeltaBps: deltaBps, Checked: true}, nil

	default:
		if g.state.Active {
			g.state.HealthyStreak++
			if g.state.HealthyStreak >= g.cfg.HealthyStreak {
				g.state.Active = false
				g.state.HealthyStreak = 0
			}
		}
		return Outcome{Active: g.state.Active, DeltaBps: deltaBps, Checked: true}, nil
	}
}
