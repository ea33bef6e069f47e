package oracle

import (
	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/numutil"
)

// SigmaTracker maintains an EWMA of absolute mid-to-mid returns in basis
// points. It is the volatility input for the confidence blend and the LVR
// fee term.
type SigmaTracker struct {
	lambda   decimal.Decimal
	lastMid  decimal.Decimal
	sigmaBps decimal.Decimal
	primed   bool
}

// NewSigmaTracker constructs a tracker with decay factor lambda in [0,1).
func NewSigmaTracker(lambda decimal.Decimal) *SigmaTracker {
	return &SigmaTracker{lambda: lambda}
}

// Observe folds a fresh mid into the EWMA and returns the updated sigma.
func (t *SigmaTracker) Observe(mid decimal.Decimal) decimal.Decimal {
	if mid.Sign() <= 0 {
		return t.sigmaBps
	}
	if !t.primed {
		t.lastMid = mid
		t.primed = true
		return t.sigmaBps
	}

	retBps := numutil.RatioToBps(mid.Sub(t.lastMid).Abs().Div(t.lastMid))
	t.lastMid = mid

	weight := numutil.One.Sub(t.lambda)
	t.sigmaBps = t.sigmaBps.Mul(t.lambda).Add(retBps.Mul(weight))
	return t.sigmaBps
}

// SetLambda retunes the decay factor without discarding the estimate.
func (t *SigmaTracker) SetLambda(lambda decimal.Decimal) {
	t.lambda = lambda
}

// SigmaBps returns the current volatility estimate without observing.
func (t *SigmaTracker) SigmaBps() decimal.Decimal {
	return t.sigmaBps
}
