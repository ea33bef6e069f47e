package oracle

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/numutil"
)

var (
	// ErrSourceFailed indicates a per-read failure of a source. The engine
	// fails closed rather than substituting a default value.
	ErrSourceFailed = errors.New("oracle: source read failed")

	// ErrOracleStale indicates no usable mid within the age bound with all
	// fallbacks disabled.
	ErrOracleStale = errors.New("oracle: stale")

	// ErrMidUnset indicates no source at all produced a usable mid.
	ErrMidUnset = errors.New("oracle: mid unset")

	// ErrConfCapExceeded indicates the blended confidence breached the
	// strict cap.
	ErrConfCapExceeded = errors.New("oracle: confidence cap exceeded")
)

// Fuser folds a primary and a secondary source into one usable mid plus a
// blended confidence. It carries two pieces of memory across calls: the EMA
// of the primary mid (the EmaFallback source) and the volatility EWMA.
// Callers must serialise Fuse invocations.
type Fuser struct {
	cfg    Config
	logger zerolog.Logger

	sigma  *SigmaTracker
	emaMid decimal.Decimal
	hasEMA bool
}

// NewFuser constructs a Fuser from a validated config.
func NewFuser(cfg Config, logger zerolog.Logger) *Fuser {
	return &Fuser{
		cfg:    cfg,
		logger: logger.With().Str("component", "oracle_fuser").Logger(),
		sigma:  NewSigmaTracker(cfg.SigmaLambda),
	}
}

// SetConfig swaps in a new validated config. The EMA and volatility memory
// carry over; only the smoothing factors are retuned.
func (f *Fuser) SetConfig(cfg Config) {
	f.cfg = cfg
	f.sigma.SetLambda(cfg.SigmaLambda)
}

// Fuse selects the mid via the primary -> EMA -> secondary ladder and blends
// confidence as the maximum of three independently capped components.
func (f *Fuser) Fuse(primary, secondary Sample) (FusedQuote, error) {
	if primary.Status == StatusError {
		return FusedQuote{}, fmt.Errorf("%w: primary", ErrSourceFailed)
	}
	if secondary.Status == StatusError {
		return FusedQuote{}, fmt.Errorf("%w: secondary", ErrSourceFailed)
	}

	secondaryFresh := secondary.Usable(f.cfg.SecondaryMaxAgeSec)

	quote := FusedQuote{SecondaryFresh: secondaryFresh}

	switch {
	case primary.Usable(f.cfg.MaxAgeSec):
		quote.MidUsed = primary.Mid
		quote.SourceReason = ReasonPrimary
		f.updateEMA(primary.Mid)
		quote.SigmaBps = f.sigma.Observe(primary.Mid)
	case f.cfg.EMAFallbackEnabled && f.hasEMA:
		quote.MidUsed = f.emaMid
		quote.SourceReason = ReasonEmaFallback
		quote.UsedFallback = true
		quote.SigmaBps = f.sigma.SigmaBps()
	case secondaryFresh:
		quote.MidUsed = secondary.Mid
		quote.SourceReason = ReasonSecondaryFallback
		quote.UsedFallback = true
		quote.SigmaBps = f.sigma.SigmaBps()
	default:
		if !f.cfg.EMAFallbackEnabled {
			return FusedQuote{}, ErrOracleStale
		}
		return FusedQuote{}, ErrMidUnset
	}

	if secondaryFresh && primary.Mid.Sign() > 0 {
		quote.DeltaBps = numutil.DeltaBps(primary.Mid, secondary.Mid)
	}

	quote.SpreadBps = primary.SpreadBps()

	conf, err := f.blendConfidence(quote, secondary)
	if err != nil {
		return FusedQuote{}, err
	}
	quote.ConfidenceBps = conf

	f.logger.Debug().
		Str("mid", quote.MidUsed.String()).
		Str("reason", string(quote.SourceReason)).
		Str("conf_bps", conf.String()).
		Str("delta_bps", quote.DeltaBps.String()).
		Msg("fused oracle quote")

	return quote, nil
}

// blendConfidence takes the maximum of the spread-, volatility-, and
// secondary-derived components. Max, not sum: the signals are correlated and
// summing would double-count them.
func (f *Fuser) blendConfidence(quote FusedQuote, secondary Sample) (decimal.Decimal, error) {
	spreadConf := numutil.Min(quote.SpreadBps.Mul(f.cfg.ConfWeightSpreadBps), f.cfg.ConfCapSpreadBps)
	sigmaConf := numutil.Min(quote.SigmaBps.Mul(f.cfg.ConfWeightSigmaBps), f.cfg.ConfCapSigmaBps)

	secConf := decimal.Zero
	if quote.SecondaryFresh {
		secConf = numutil.Min(secondary.ConfidenceBps.Mul(f.cfg.ConfWeightSecondary), f.cfg.ConfCapSecondaryBps)
	}

	blended := numutil.Max(spreadConf, numutil.Max(sigmaConf, secConf))
	if blended.GreaterThan(f.cfg.ConfStrictCapBps) {
		return decimal.Zero, fmt.Errorf("%w: blended %s > cap %s",
			ErrConfCapExceeded, blended, f.cfg.ConfStrictCapBps)
	}
	return blended, nil
}

func (f *Fuser) updateEMA(mid decimal.Decimal) {
	if !f.hasEMA {
		f.emaMid = mid
		f.hasEMA = true
		return
	}
	weight := numutil.One.Sub(f.cfg.EMALambda)
	f.emaMid = f.emaMid.Mul(f.cfg.EMALambda).Add(mid.Mul(weight))
}
