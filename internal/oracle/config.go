package oracle

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig rejects an oracle parameter set at construction.
var ErrInvalidConfig = errors.New("oracle: invalid config")

// Config holds validated oracle fusion parameters. Construct via NewConfig;
// a zero Config is not usable.
type Config struct {
	MaxAgeSec          int64
	SecondaryMaxAgeSec int64
	EMAFallbackEnabled bool
	EMALambda          decimal.Decimal
	SigmaLambda        decimal.Decimal

	ConfWeightSpreadBps decimal.Decimal
	ConfWeightSigmaBps  decimal.Decimal
	ConfWeightSecondary decimal.Decimal
	ConfCapSpreadBps    decimal.Decimal
	ConfCapSigmaBps     decimal.Decimal
	ConfCapSecondaryBps decimal.Decimal
	ConfStrictCapBps    decimal.Decimal
}

// ConfigParams is the raw (config-file shaped) form of Config.
type ConfigParams struct {
	MaxAgeSec          int64
	SecondaryMaxAgeSec int64
	EMAFallbackEnabled bool
	EMALambda          float64
	SigmaLambda        float64

	ConfWeightSpread    float64
	ConfWeightSigma     float64
	ConfWeightSecondary float64
	ConfCapSpreadBps    float64
	ConfCapSigmaBps     float64
	ConfCapSecondaryBps float64
	ConfStrictCapBps    float64
}

// NewConfig validates raw parameters and returns an immutable Config.
// Invalid combinations are rejected in full; nothing is partially applied.
func NewConfig(p ConfigParams) (Config, error) {
	if p.MaxAgeSec <= 0 {
		return Config{}, fmt.Errorf("%w: max_age_sec must be positive", ErrInvalidConfig)
	}
	if p.SecondaryMaxAgeSec <= 0 {
		return Config{}, fmt.Errorf("%w: secondary_max_age_sec must be positive", ErrInvalidConfig)
	}
	if p.EMALambda < 0 || p.EMALambda >= 1 {
		return Config{}, fmt.Errorf("%w: ema_lambda must be in [0,1)", ErrInvalidConfig)
	}
	if p.SigmaLambda < 0 || p.SigmaLambda >= 1 {
		return Config{}, fmt.Errorf("%w: sigma_lambda must be in [0,1)", ErrInvalidConfig)
	}
	if p.ConfWeightSpread < 0 || p.ConfWeightSigma < 0 || p.ConfWeightSecondary < 0 {
		return Config{}, fmt.Errorf("%w: confidence weights cannot be negative", ErrInvalidConfig)
	}
	if p.ConfCapSpreadBps < 0 || p.ConfCapSigmaBps < 0 || p.ConfCapSecondaryBps < 0 {
		return Config{}, fmt.Errorf("%w: confidence caps cannot be negative", ErrInvalidConfig)
	}
	if p.ConfStrictCapBps <= 0 {
		return Config{}, fmt.Errorf("%w: conf_strict_cap_bps must be positive", ErrInvalidConfig)
	}

	return Config{
		MaxAgeSec:           p.MaxAgeSec,
		SecondaryMaxAgeSec:  p.SecondaryMaxAgeSec,
		EMAFallbackEnabled:  p.EMAFallbackEnabled,
		EMALambda:           decimal.NewFromFloat(p.EMALambda),
		SigmaLambda:         decimal.NewFromFloat(p.SigmaLambda),
		ConfWeightSpreadBps: decimal.NewFromFloat(p.ConfWeightSpread),
		ConfWeightSigmaBps:  decimal.NewFromFloat(p.ConfWeightSigma),
		ConfWeightSecondary: decimal.NewFromFloat(p.ConfWeightSecondary),
		ConfCapSpreadBps:    decimal.NewFromFloat(p.ConfCapSpreadBps),
		ConfCapSigmaBps:     decimal.NewFromFloat(p.ConfCapSigmaBps),
		ConfCapSecondaryBps: decimal.NewFromFloat(p.ConfCapSecondaryBps),
		ConfStrictCapBps:    decimal.NewFromFloat(p.ConfStrictCapBps),
	}, nil
}
