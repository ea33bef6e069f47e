package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig rejects a maker or AOMQ parameter set at construction.
var ErrInvalidConfig = errors.New("engine: invalid config")

// TokenLegInfo describes one asset leg. Read once at construction and
// cached; the engine never re-reads token metadata.
type TokenLegInfo struct {
	Symbol   string
	Decimals int32
}

// Scale returns the multiplier from atomic units to decimal amounts.
func (l TokenLegInfo) Scale() decimal.Decimal {
	return decimal.New(1, -l.Decimals)
}

// MakerConfig governs the preview snapshot cache and ladder shape.
type MakerConfig struct {
	SnapshotMaxAge  time.Duration
	RefreshCooldown time.Duration
	StalenessReject bool
	LadderLevels    int
}

// MakerParams is the raw form of MakerConfig.
type MakerParams struct {
	SnapshotMaxAge  time.Duration
	RefreshCooldown time.Duration
	StalenessReject bool
	LadderLevels    int
}

// NewMakerConfig validates raw maker parameters.
func NewMakerConfig(p MakerParams) (MakerConfig, error) {
	if p.SnapshotMaxAge <= 0 {
		return MakerConfig{}, fmt.Errorf("%w: snapshot_max_age must be positive", ErrInvalidConfig)
	}
	if p.RefreshCooldown < 0 {
		return MakerConfig{}, fmt.Errorf("%w: refresh_cooldown cannot be negative", ErrInvalidConfig)
	}
	if p.LadderLevels <= 0 {
		return MakerConfig{}, fmt.Errorf("%w: ladder_levels must be positive", ErrInvalidConfig)
	}
	return MakerConfig(p), nil
}

// AomqConfig governs emergency quoting.
type AomqConfig struct {
	Enabled            bool
	EmergencySpreadBps decimal.Decimal
	MinQuoteNotional   decimal.Decimal
	FloorEpsilonBps    decimal.Decimal
}

// AomqParams is the raw form of AomqConfig.
type AomqParams struct {
	Enabled            bool
	EmergencySpreadBps float64
	MinQuoteNotional   float64
	FloorEpsilonBps    float64
}

// NewAomqConfig validates raw AOMQ parameters.
func NewAomqConfig(p AomqParams) (AomqConfig, error) {
	if p.EmergencySpreadBps < 0 || p.EmergencySpreadBps >= 10_000 {
		return AomqConfig{}, fmt.Errorf("%w: emergency_spread_bps must be in [0,10000)", ErrInvalidConfig)
	}
	if p.MinQuoteNotional < 0 {
		return AomqConfig{}, fmt.Errorf("%w: min_quote_notional cannot be negative", ErrInvalidConfig)
	}
	if p.FloorEpsilonBps < 0 {
		return AomqConfig{}, fmt.Errorf("%w: floor_epsilon_bps cannot be negative", ErrInvalidConfig)
	}
	return AomqConfig{
		Enabled:            p.Enabled,
		EmergencySpreadBps: decimal.NewFromFloat(p.EmergencySpreadBps),
		MinQuoteNotional:   decimal.NewFromFloat(p.MinQuoteNotional),
		FloorEpsilonBps:    decimal.NewFromFloat(p.FloorEpsilonBps),
	}, nil
}
