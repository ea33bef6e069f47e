package fees

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidConfig rejects a fee parameter set at construction.
	ErrInvalidConfig = errors.New("fees: invalid config")

	// ErrFeeCapTooHigh rejects a cap at or above 100%.
	ErrFeeCapTooHigh = errors.New("fees: cap too high")

	// ErrFeeBaseAboveCap rejects a base fee above the cap.
	ErrFeeBaseAboveCap = errors.New("fees: base above cap")
)

// Config holds validated fee curve parameters.
type Config struct {
	BaseBps decimal.Decimal
	CapBps  decimal.Decimal

	AlphaConf  decimal.Decimal
	BetaInvDev decimal.Decimal

	GammaSizeLin  decimal.Decimal
	GammaSizeQuad decimal.Decimal
	SizeFeeCapBps decimal.Decimal
	S0Notional    decimal.Decimal

	LvrKappa  decimal.Decimal
	LvrCapBps decimal.Decimal
	TTLSqrt   decimal.Decimal

	TiltGamma  decimal.Decimal
	TiltCapBps decimal.Decimal

	AlphaBbo    decimal.Decimal
	FloorAbsBps decimal.Decimal

	RebateMaxBps decimal.Decimal

	DecayPctPerBlock decimal.Decimal
}

// ConfigParams is the raw form of Config.
type ConfigParams struct {
	BaseBps float64
	CapBps  float64

	AlphaConfNum int64
	AlphaConfDen int64
	BetaInvNum   int64
	BetaInvDen   int64

	GammaSizeLinBps  float64
	GammaSizeQuadBps float64
	SizeFeeCapBps    float64
	S0Notional       float64

	LvrKappa  float64
	LvrCapBps float64
	QuoteTTL  int64 // seconds

	TiltGamma  float64
	TiltCapBps float64

	AlphaBbo    float64
	FloorAbsBps float64

	RebateMaxBps float64

	DecayPctPerBlock float64
}

// NewConfig validates raw parameters and returns an immutable Config.
func NewConfig(p ConfigParams) (Config, error) {
	if p.BaseBps < 0 {
		return Config{}, fmt.Errorf("%w: base_bps cannot be negative", ErrInvalidConfig)
	}
	if p.CapBps >= 10_000 {
		return Config{}, fmt.Errorf("%w: cap_bps %v >= 10000", ErrFeeCapTooHigh, p.CapBps)
	}
	if p.BaseBps > p.CapBps {
		return Config{}, fmt.Errorf("%w: base %v > cap %v", ErrFeeBaseAboveCap, p.BaseBps, p.CapBps)
	}
	if p.AlphaConfDen <= 0 || p.BetaInvDen <= 0 {
		return Config{}, fmt.Errorf("%w: term denominators must be positive", ErrInvalidConfig)
	}
	if p.AlphaConfNum < 0 || p.BetaInvNum < 0 {
		return Config{}, fmt.Errorf("%w: term numerators cannot be negative", ErrInvalidConfig)
	}
	if p.S0Notional <= 0 {
		return Config{}, fmt.Errorf("%w: s0_notional must be positive", ErrInvalidConfig)
	}
	if p.GammaSizeLinBps < 0 || p.GammaSizeQuadBps < 0 || p.SizeFeeCapBps < 0 {
		return Config{}, fmt.Errorf("%w: size term parameters cannot be negative", ErrInvalidConfig)
	}
	if p.LvrKappa < 0 || p.LvrCapBps < 0 || p.QuoteTTL < 0 {
		return Config{}, fmt.Errorf("%w: lvr parameters cannot be negative", ErrInvalidConfig)
	}
	if p.TiltGamma < 0 || p.TiltCapBps < 0 {
		return Config{}, fmt.Errorf("%w: tilt parameters cannot be negative", ErrInvalidConfig)
	}
	if p.AlphaBbo < 0 || p.FloorAbsBps < 0 {
		return Config{}, fmt.Errorf("%w: floor parameters cannot be negative", ErrInvalidConfig)
	}
	if p.RebateMaxBps < 0 {
		return Config{}, fmt.Errorf("%w: rebate_max_bps cannot be negative", ErrInvalidConfig)
	}
	if p.DecayPctPerBlock < 0 || p.DecayPctPerBlock > 100 {
		return Config{}, fmt.Errorf("%w: decay_pct_per_block must be in [0,100]", ErrInvalidConfig)
	}

	return Config{
		BaseBps:          decimal.NewFromFloat(p.BaseBps),
		CapBps:           decimal.NewFromFloat(p.CapBps),
		AlphaConf:        decimal.NewFromInt(p.AlphaConfNum).Div(decimal.NewFromInt(p.AlphaConfDen)),
		BetaInvDev:       decimal.NewFromInt(p.BetaInvNum).Div(decimal.NewFromInt(p.BetaInvDen)),
		GammaSizeLin:     decimal.NewFromFloat(p.GammaSizeLinBps),
		GammaSizeQuad:    decimal.NewFromFloat(p.GammaSizeQuadBps),
		SizeFeeCapBps:    decimal.NewFromFloat(p.SizeFeeCapBps),
		S0Notional:       decimal.NewFromFloat(p.S0Notional),
		LvrKappa:         decimal.NewFromFloat(p.LvrKappa),
		LvrCapBps:        decimal.NewFromFloat(p.LvrCapBps),
		TTLSqrt:          decimal.NewFromFloat(math.Sqrt(float64(p.QuoteTTL))),
		TiltGamma:        decimal.NewFromFloat(p.TiltGamma),
		TiltCapBps:       decimal.NewFromFloat(p.TiltCapBps),
		AlphaBbo:         decimal.NewFromFloat(p.AlphaBbo),
		FloorAbsBps:      decimal.NewFromFloat(p.FloorAbsBps),
		RebateMaxBps:     decimal.NewFromFloat(p.RebateMaxBps),
		DecayPctPerBlock: decimal.NewFromFloat(p.DecayPctPerBlock),
	}, nil
}
