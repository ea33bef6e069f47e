package fees

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func baseParams() ConfigParams {
	return ConfigParams{
		BaseBps:          15,
		CapBps:           150,
		AlphaConfNum:     6,
		AlphaConfDen:     10,
		BetaInvNum:       1,
		BetaInvDen:       50,
		GammaSizeLinBps:  10,
		GammaSizeQuadBps: 5,
		SizeFeeCapBps:    40,
		S0Notional:       100_000,
		LvrKappa:         0.02,
		LvrCapBps:        30,
		QuoteTTL:         4,
		TiltGamma:        0.01,
		TiltCapBps:       10,
		AlphaBbo:         0.25,
		FloorAbsBps:      0,
		RebateMaxBps:     5,
		DecayPctPerBlock: 20,
	}
}

func newEngine(t *testing.T, p ConfigParams) *Engine {
	t.Helper()
	cfg, err := NewConfig(p)
	if err != nil {
		t.Fatalf("构造配置失败: %v", err)
	}
	return NewEngine(cfg)
}

func TestFeeBounds(t *testing.T) {
	e := newEngine(t, baseParams())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		bd := e.Compute(Inputs{
			ConfidenceBps: d(rng.Float64() * 1000),
			InvDevBps:     d(rng.Float64() * 8000),
			SigmaBps:      d(rng.Float64() * 500),
			SpreadBps:     d(rng.Float64() * 1000),
			HaircutBps:    d(rng.Float64() * 60),
			TradeNotional: d(rng.Float64() * 1_000_000),
			TiltSign:      rng.Intn(3) - 1,
			RebateBps:     d(rng.Float64() * 10),
			Tick:          int64(i),
		})
		if bd.FeeBps.LessThan(d(15)) || bd.FeeBps.GreaterThan(d(150)) {
			t.Fatalf("样本 %d: fee %s 超出 [15,150]", i, bd.FeeBps)
		}
	}
}

func TestFeeMonotoneInConfidence(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 200; i++ {
		in := Inputs{
			InvDevBps:     d(rng.Float64() * 5000),
			SigmaBps:      d(rng.Float64() * 300),
			SpreadBps:     d(rng.Float64() * 80),
			TradeNotional: d(rng.Float64() * 500_000),
			TiltSign:      rng.Intn(3) - 1,
		}
		lo, hi := rng.Float64()*400, rng.Float64()*400
		if lo > hi {
			lo, hi = hi, lo
		}

		e := newEngine(t, baseParams())
		inLo := in
		inLo.ConfidenceBps = d(lo)
		feeLo := e.Preview(inLo).FeeBps

		inHi := in
		inHi.ConfidenceBps = d(hi)
		feeHi := e.Preview(inHi).FeeBps

		if feeHi.LessThan(feeLo) {
			t.Fatalf("样本 %d: 置信度升高费率反而下降 (%s -> %s)", i, feeLo, feeHi)
		}
	}
}

func TestFeeMonotoneInInventoryDeviation(t *testing.T) {
	rng := rand.New(rand.NewSource(13))

	for i := 0; i < 200; i++ {
		in := Inputs{
			ConfidenceBps: d(rng.Float64() * 400),
			SigmaBps:      d(rng.Float64() * 300),
			SpreadBps:     d(rng.Float64() * 80),
			TradeNotional: d(rng.Float64() * 500_000),
			TiltSign:      rng.Intn(3) - 1,
		}
		lo, hi := rng.Float64()*8000, rng.Float64()*8000
		if lo > hi {
			lo, hi = hi, lo
		}

		e := newEngine(t, baseParams())
		inLo := in
		inLo.InvDevBps = d(lo)
		feeLo := e.Preview(inLo).FeeBps

		inHi := in
		inHi.InvDevBps = d(hi)
		feeHi := e.Preview(inHi).FeeBps

		if feeHi.LessThan(feeLo) {
			t.Fatalf("样本 %d: 库存偏离升高费率反而下降 (%s -> %s)", i, feeLo, feeHi)
		}
	}
}

func TestCapAndDecayScenario(t *testing.T) {
	// base=15, cap=150, decay=20%/tick;一次 conf=500/invDev=5000 打满上限,
	// 之后零信号每 tick 严格下降且不低于 base。
	e := newEngine(t, baseParams())

	bd := e.Compute(Inputs{ConfidenceBps: d(500), InvDevBps: d(5000), Tick: 1})
	if !bd.FeeBps.Equal(d(150)) {
		t.Fatalf("强信号应打满上限 150, 实际 %s", bd.FeeBps)
	}

	prev := bd.FeeBps
	for tick := int64(2); tick <= 4; tick++ {
		bd = e.Compute(Inputs{Tick: tick})
		if !bd.FeeBps.LessThan(prev) {
			t.Fatalf("tick %d: 零信号下费率应严格下降 (%s -> %s)", tick, prev, bd.FeeBps)
		}
		if bd.FeeBps.LessThan(d(15)) {
			t.Fatalf("tick %d: 衰减不得低于 base", tick)
		}
		prev = bd.FeeBps
	}

	// 20% 衰减一个 tick: 15 + 135*0.8 = 123。
	e2 := newEngine(t, baseParams())
	e2.Compute(Inputs{ConfidenceBps: d(500), InvDevBps: d(5000), Tick: 1})
	bd = e2.Compute(Inputs{Tick: 2})
	if !bd.FeeBps.Equal(d(123)) {
		t.Fatalf("一个 tick 后应为 123, 实际 %s", bd.FeeBps)
	}
}

func TestDecayConvergesToBase(t *testing.T) {
	e := newEngine(t, baseParams())
	e.Compute(Inputs{ConfidenceBps: d(500), InvDevBps: d(5000), Tick: 0})

	fee := e.DecayedFee(200)
	if fee.Sub(d(15)).Abs().GreaterThan(d(0.0001)) {
		t.Fatalf("长时间衰减应收敛到 base, 实际 %s", fee)
	}
	if fee.LessThan(d(15)) {
		t.Fatal("衰减不得低于 base")
	}
}

func TestSizeTermCapped(t *testing.T) {
	e := newEngine(t, baseParams())

	bd := e.Preview(Inputs{TradeNotional: d(100_000_000)})
	if !bd.SizeTerm.Equal(d(40)) {
		t.Fatalf("巨额交易 size 项应被截断在 40, 实际 %s", bd.SizeTerm)
	}
}

func TestLvrTermCapped(t *testing.T) {
	e := newEngine(t, baseParams())

	bd := e.Preview(Inputs{SigmaBps: d(100_000)})
	if !bd.LvrTerm.Equal(d(30)) {
		t.Fatalf("高波动 LVR 项应被截断在 30, 实际 %s", bd.LvrTerm)
	}
}

func TestBboFloorAndRebate(t *testing.T) {
	p := baseParams()
	p.AlphaBbo = 1.0
	e := newEngine(t, p)

	// spread 40 bps -> floor 40;零信号 raw=base=15 会被 floor 顶到 40。
	bd := e.Preview(Inputs{SpreadBps: d(40)})
	if !bd.FeeBps.Equal(d(40)) {
		t.Fatalf("BBO 下限应抬到 40, 实际 %s", bd.FeeBps)
	}

	// 返佣不得击穿下限。
	bd = e.Preview(Inputs{SpreadBps: d(40), RebateBps: d(5)})
	if bd.FeeBps.LessThan(d(40)) {
		t.Fatalf("返佣后费率 %s 不得低于下限 40", bd.FeeBps)
	}
}

func TestBboFloorBoundedByCap(t *testing.T) {
	p := baseParams()
	p.AlphaBbo = 1.0
	e := newEngine(t, p)

	// spread 200 bps -> 原始下限 200 超过 cap=150, 结果仍须落在 cap 内。
	bd := e.Preview(Inputs{SpreadBps: d(200)})
	if !bd.FeeBps.Equal(d(150)) {
		t.Fatalf("下限超过 cap 时费率应为 150, 实际 %s", bd.FeeBps)
	}

	bd = e.Preview(Inputs{SpreadBps: d(200), RebateBps: d(5)})
	if bd.FeeBps.GreaterThan(d(150)) {
		t.Fatalf("返佣路径费率 %s 不得超出 cap 150", bd.FeeBps)
	}
}

func TestRebateBounded(t *testing.T) {
	e := newEngine(t, baseParams())

	// 请求 100 bps 返佣但上限是 5。
	withCap := e.Preview(Inputs{ConfidenceBps: d(100), RebateBps: d(100)})
	exact := e.Preview(Inputs{ConfidenceBps: d(100), RebateBps: d(5)})
	if !withCap.FeeBps.Equal(exact.FeeBps) {
		t.Fatalf("超额返佣应被截断到 5 bps: %s vs %s", withCap.FeeBps, exact.FeeBps)
	}
}

func TestAbsoluteFloorFallback(t *testing.T) {
	p := baseParams()
	p.FloorAbsBps = 25
	e := newEngine(t, p)

	bd := e.Preview(Inputs{})
	if !bd.FeeBps.Equal(d(25)) {
		t.Fatalf("无可观测 spread 时应使用绝对下限 25, 实际 %s", bd.FeeBps)
	}
}

func TestPreviewIsPure(t *testing.T) {
	e := newEngine(t, baseParams())
	before := e.State()
	e.Preview(Inputs{ConfidenceBps: d(500), InvDevBps: d(5000), Tick: 9})
	after := e.State()
	if !before.LastFeeBps.Equal(after.LastFeeBps) || before.LastTick != after.LastTick {
		t.Fatal("Preview 不得修改费率状态")
	}
}

func TestConfigValidation(t *testing.T) {
	p := baseParams()
	p.CapBps = 10_000
	if _, err := NewConfig(p); !errors.Is(err, ErrFeeCapTooHigh) {
		t.Fatalf("cap>=10000 应返回 ErrFeeCapTooHigh, 实际 %v", err)
	}

	p = baseParams()
	p.BaseBps = 200
	if _, err := NewConfig(p); !errors.Is(err, ErrFeeBaseAboveCap) {
		t.Fatalf("base>cap 应返回 ErrFeeBaseAboveCap, 实际 %v", err)
	}

	p = baseParams()
	p.DecayPctPerBlock = 120
	if _, err := NewConfig(p); !errors.Is(err, ErrInvalidConfig) {
		t.Fatal("衰减比例超界应被拒绝")
	}

	p = baseParams()
	p.S0Notional = 0
	if _, err := NewConfig(p); !errors.Is(err, ErrInvalidConfig) {
		t.Fatal("S0 必须为正")
	}
}
