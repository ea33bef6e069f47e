// Package recenter decides when the inventory midpoint is retargeted to the
// fused oracle mid. Commits are gated by a deviation threshold, a cooldown,
// and a post-commit re-arm streak of healthy observations so a single noisy
// tick cannot cause oscillation. Manual and automatic triggers share the
// same state and gates.
package recenter

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidConfig rejects a recenter parameter set at construction.
	ErrInvalidConfig = errors.New("recenter: invalid config")

	// ErrBelowThreshold fails a manual trigger whose deviation has not
	// reached the commit threshold.
	ErrBelowThreshold = errors.New("recenter: deviation below threshold")

	// ErrCooldown fails a manual trigger inside the cooldown window or
	// before the machine has re-armed after a commit.
	ErrCooldown = errors.New("recenter: cooldown not elapsed")
)

// Config holds validated recenter parameters.
type Config struct {
	ThresholdBps decimal.Decimal
	Cooldown     time.Duration
	RearmStreak  uint8
}

// ConfigParams is the raw form of Config.
type ConfigParams struct {
	ThresholdPct float64 // deviation threshold as a percentage
	Cooldown     time.Duration
	RearmStreak  uint8
}

// NewConfig validates raw parameters.
func NewConfig(p ConfigParams) (Config, error) {
	if p.ThresholdPct <= 0 {
		return Config{}, fmt.Errorf("%w: threshold_pct must be positive", ErrInvalidConfig)
	}
	if p.Cooldown < 0 {
		return Config{}, fmt.Errorf("%w: cooldown cannot be negative", ErrInvalidConfig)
	}
	if p.RearmStreak == 0 {
		return Config{}, fmt.Errorf("%w: rearm_streak must be at least 1", ErrInvalidConfig)
	}
	return Config{
		ThresholdBps: decimal.NewFromFloat(p.ThresholdPct).Mul(decimal.NewFromInt(100)),
		Cooldown:     p.Cooldown,
		RearmStreak:  p.RearmStreak,
	}, nil
}

// Machine is the recenter state machine. It starts armed; a commit disarms
// it until RearmStreak consecutive healthy observations.
type Machine struct {
	cfg     Config
	armed   bool
	healthy uint8
}

// NewMachine constructs an armed Machine.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg, armed: true}
}

// Armed reports whether a commit is currently possible at all.
func (m *Machine) Armed() bool {
	return m.armed
}

// SetConfig swaps in a new validated config without resetting arming state.
func (m *Machine) SetConfig(cfg Config) {
	m.cfg = cfg
}

// Step advances the machine exactly once for a post-swap observation and
// reports whether the caller should commit a retarget now. An unusable
// oracle makes the observation ineligible and does not advance the re-arm
// streak.
func (m *Machine) Step(deviationBps decimal.Decimal, oracleUsable bool, now, lastRebalanceAt time.Time) bool {
	if !oracleUsable {
		return false
	}

	if deviationBps.LessThan(m.cfg.ThresholdBps) {
		if !m.armed {
			m.healthy++
			if m.healthy >= m.cfg.RearmStreak {
				m.armed = true
				m.healthy = 0
			}
		}
		return false
	}

	// Deviation at or above threshold.
	if !m.armed {
		m.healthy = 0
		return false
	}
	if !m.cooldownElapsed(now, lastRebalanceAt) {
		return false
	}
	return true
}

// CheckManual validates a manual (permissionless) trigger against the same
// gates the automatic path uses. It performs no state mutation; a nil return
// means the caller may retarget and must then call MarkCommitted.
func (m *Machine) CheckManual(deviationBps decimal.Decimal, now, lastRebalanceAt time.Time) error {
	if deviationBps.LessThan(m.cfg.ThresholdBps) {
		return fmt.Errorf("%w: deviation %s bps < threshold %s bps",
			ErrBelowThreshold, deviationBps, m.cfg.ThresholdBps)
	}
	if !m.armed {
		return fmt.Errorf("%w: awaiting re-arm streak", ErrCooldown)
	}
	if !m.cooldownElapsed(now, lastRebalanceAt) {
		return fmt.Errorf("%w: %s since last rebalance", ErrCooldown, now.Sub(lastRebalanceAt))
	}
	return nil
}

// MarkCommitted records a completed retarget and disarms the machine until
// the re-arm streak is satisfied.
func (m *Machine) MarkCommitted() {
	m.armed = false
	m.healthy = 0
}

func (m *Machine) cooldownElapsed(now, lastRebalanceAt time.Time) bool {
	if lastRebalanceAt.IsZero() {
		return true
	}
	return now.Sub(lastRebalanceAt) >= m.cfg.Cooldown
}
