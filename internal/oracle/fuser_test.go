package oracle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := NewConfig(ConfigParams{
		MaxAgeSec:           30,
		SecondaryMaxAgeSec:  60,
		EMAFallbackEnabled:  true,
		EMALambda:           0.9,
		SigmaLambda:         0.94,
		ConfWeightSpread:    0.5,
		ConfWeightSigma:     1.0,
		ConfWeightSecondary: 1.0,
		ConfCapSpreadBps:    200,
		ConfCapSigmaBps:     300,
		ConfCapSecondaryBps: 400,
		ConfStrictCapBps:    500,
	})
	if err != nil {
		t.Fatalf("构造配置失败: %v", err)
	}
	return cfg
}

func okSample(mid string, age int64) Sample {
	return Sample{Mid: decimal.RequireFromString(mid), AgeSec: age, Status: StatusOK}
}

func TestFusePrimaryFresh(t *testing.T) {
	f := NewFuser(testConfig(t), zerolog.Nop())

	quote, err := f.Fuse(okSample("100", 5), okSample("101", 5))
	if err != nil {
		t.Fatalf("新鲜的主源不应报错: %v", err)
	}
	if quote.SourceReason != ReasonPrimary || quote.UsedFallback {
		t.Fatalf("应使用主源: %+v", quote)
	}
	if !quote.MidUsed.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("midUsed 应为 100, 实际 %s", quote.MidUsed)
	}
	if quote.DeltaBps.IsZero() {
		t.Fatal("双源都新鲜时应给出 deltaBps")
	}
	if !quote.SecondaryFresh {
		t.Fatal("次源应被判定为新鲜")
	}
}

func TestFuseEMAFallback(t *testing.T) {
	f := NewFuser(testConfig(t), zerolog.Nop())

	if _, err := f.Fuse(okSample("100", 5), okSample("100", 5)); err != nil {
		t.Fatalf("预热失败: %v", err)
	}

	stale := okSample("120", 999)
	quote, err := f.Fuse(stale, Sample{Status: StatusStale})
	if err != nil {
		t.Fatalf("EMA 回退不应报错: %v", err)
	}
	if quote.SourceReason != ReasonEmaFallback || !quote.UsedFallback {
		t.Fatalf("应回退到 EMA: %+v", quote)
	}
	if !quote.MidUsed.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("EMA 回退应返回上次均值 100, 实际 %s", quote.MidUsed)
	}
}

func TestFuseSecondaryFallback(t *testing.T) {
	f := NewFuser(testConfig(t), zerolog.Nop())

	quote, err := f.Fuse(okSample("100", 999), okSample("101", 5))
	if err != nil {
		t.Fatalf("次源回退不应报错: %v", err)
	}
	if quote.SourceReason != ReasonSecondaryFallback || !quote.UsedFallback {
		t.Fatalf("应回退到次源: %+v", quote)
	}
}

func TestFuseMidUnset(t *testing.T) {
	f := NewFuser(testConfig(t), zerolog.Nop())

	_, err := f.Fuse(okSample("100", 999), okSample("101", 999))
	if !errors.Is(err, ErrMidUnset) {
		t.Fatalf("无任何可用来源应返回 ErrMidUnset, 实际 %v", err)
	}
}

func TestFuseStaleWhenFallbackDisabled(t *testing.T) {
	params := ConfigParams{
		MaxAgeSec: 30, SecondaryMaxAgeSec: 60,
		EMAFallbackEnabled: false,
		ConfStrictCapBps:   500,
	}
	cfg, err := NewConfig(params)
	if err != nil {
		t.Fatalf("构造配置失败: %v", err)
	}
	f := NewFuser(cfg, zerolog.Nop())

	_, err = f.Fuse(okSample("100", 999), okSample("101", 999))
	if !errors.Is(err, ErrOracleStale) {
		t.Fatalf("禁用回退时应返回 ErrOracleStale, 实际 %v", err)
	}
}

func TestFuseFailsClosedOnSourceError(t *testing.T) {
	f := NewFuser(testConfig(t), zerolog.Nop())

	_, err := f.Fuse(Sample{Status: StatusError}, okSample("101", 5))
	if !errors.Is(err, ErrSourceFailed) {
		t.Fatalf("主源读取失败应显式报错, 实际 %v", err)
	}

	_, err = f.Fuse(okSample("100", 5), Sample{Status: StatusError})
	if !errors.Is(err, ErrSourceFailed) {
		t.Fatalf("次源读取失败应显式报错, 实际 %v", err)
	}
}

func TestConfidenceMaxNotSum(t *testing.T) {
	f := NewFuser(testConfig(t), zerolog.Nop())

	primary := okSample("100", 5)
	primary.Bid = decimal.RequireFromString("99.9")
	primary.Ask = decimal.RequireFromString("100.1")

	secondary := okSample("100", 5)
	secondary.ConfidenceBps = decimal.RequireFromString("50")

	quote, err := f.Fuse(primary, secondary)
	if err != nil {
		t.Fatalf("融合失败: %v", err)
	}

	// spread = 20 bps, 权重 0.5 -> 10;次源 50 * 1.0 -> 50;max = 50。
	if !quote.ConfidenceBps.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("置信度应取分量最大值 50, 实际 %s", quote.ConfidenceBps)
	}
}

func TestConfidenceStrictCap(t *testing.T) {
	f := NewFuser(testConfig(t), zerolog.Nop())

	secondary := okSample("100", 5)
	secondary.ConfidenceBps = decimal.RequireFromString("450")

	// 450 超过分量上限 400, 不超严格上限 500:应通过。
	if _, err := f.Fuse(okSample("100", 5), secondary); err != nil {
		t.Fatalf("分量截断后不应触发严格上限: %v", err)
	}
}

func TestSigmaTrackerConverges(t *testing.T) {
	tr := NewSigmaTracker(decimal.RequireFromString("0.5"))
	tr.Observe(decimal.RequireFromString("100"))
	s1 := tr.Observe(decimal.RequireFromString("101"))
	if s1.Sign() <= 0 {
		t.Fatal("有变动时 sigma 应为正")
	}
	prev := s1
	for i := 0; i < 20; i++ {
		cur := tr.Observe(decimal.RequireFromString("101"))
		if cur.GreaterThan(prev) {
			t.Fatal("无新变动时 sigma 应单调衰减")
		}
		prev = cur
	}
}

func TestNewConfigRejectsInvalid(t *testing.T) {
	cases := []ConfigParams{
		{MaxAgeSec: 0, SecondaryMaxAgeSec: 1, ConfStrictCapBps: 1},
		{MaxAgeSec: 1, SecondaryMaxAgeSec: 0, ConfStrictCapBps: 1},
		{MaxAgeSec: 1, SecondaryMaxAgeSec: 1, EMALambda: 1.5, ConfStrictCapBps: 1},
		{MaxAgeSec: 1, SecondaryMaxAgeSec: 1, ConfStrictCapBps: 0},
		{MaxAgeSec: 1, SecondaryMaxAgeSec: 1, ConfWeightSpread: -1, ConfStrictCapBps: 1},
	}
	for i, p := range cases {
		if _, err := NewConfig(p); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("用例 %d 应被拒绝, 实际 %v", i, err)
		}
	}
}
