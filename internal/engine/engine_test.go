package engine

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/divergence"
	"amm-quote-engine/internal/fees"
	"amm-quote-engine/internal/inventory"
	"amm-quote-engine/internal/oracle"
	"amm-quote-engine/internal/recenter"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time             { return c.t }
func (c *fakeClock) Advance(step time.Duration) { c.t = c.t.Add(step) }

type recordingEvents struct {
	haircuts  []decimal.Decimal
	rejected  int
	aomq      []string
	recenters []RecenterResult
	snapshots int
}

func (r *recordingEvents) DivergenceHaircut(_, haircutBps decimal.Decimal) {
	r.haircuts = append(r.haircuts, haircutBps)
}
func (r *recordingEvents) DivergenceRejected(_ decimal.Decimal) { r.rejected++ }
func (r *recordingEvents) AomqActivated(reason string, _ decimal.Decimal) {
	r.aomq = append(r.aomq, reason)
}
func (r *recordingEvents) RecenterCommitted(res RecenterResult) {
	r.recenters = append(r.recenters, res)
}
func (r *recordingEvents) SnapshotRefreshed(_ Snapshot) { r.snapshots++ }

func okSample(mid float64) oracle.Sample {
	return oracle.Sample{Mid: d(mid), Status: oracle.StatusOK}
}

func oracleData(primaryMid, secondaryMid float64) OracleData {
	return OracleData{Primary: okSample(primaryMid), Secondary: okSample(secondaryMid)}
}

func testParams(t *testing.T, clk *fakeClock, rec Events) Params {
	t.Helper()

	oracleCfg, err := oracle.NewConfig(oracle.ConfigParams{
		MaxAgeSec:          60,
		SecondaryMaxAgeSec: 60,
		EMAFallbackEnabled: true,
		EMALambda:          0.9,
		SigmaLambda:        0.9,
		ConfStrictCapBps:   1000,
	})
	if err != nil {
		t.Fatalf("oracle 配置失败: %v", err)
	}

	divCfg, err := divergence.NewConfig(divergence.ConfigParams{
		AcceptBps:       30,
		SoftBps:         50,
		HardBps:         75,
		HaircutMinBps:   5,
		HaircutSlopeBps: 2,
		HealthyStreak:   3,
	})
	if err != nil {
		t.Fatalf("divergence 配置失败: %v", err)
	}

	feeCfg, err := fees.NewConfig(fees.ConfigParams{
		BaseBps:          15,
		CapBps:           150,
		AlphaConfNum:     0,
		AlphaConfDen:     1,
		BetaInvNum:       0,
		BetaInvDen:       1,
		S0Notional:       10_000,
		RebateMaxBps:     5,
		DecayPctPerBlock: 100,
	})
	if err != nil {
		t.Fatalf("fees 配置失败: %v", err)
	}

	invCfg, err := inventory.NewConfig(inventory.ConfigParams{FloorBps: 100})
	if err != nil {
		t.Fatalf("inventory 配置失败: %v", err)
	}

	recCfg, err := recenter.NewConfig(recenter.ConfigParams{
		ThresholdPct: 10, // 1000 bps
		Cooldown:     10 * time.Minute,
		RearmStreak:  1,
	})
	if err != nil {
		t.Fatalf("recenter 配置失败: %v", err)
	}

	makerCfg, err := NewMakerConfig(MakerParams{
		SnapshotMaxAge:  time.Minute,
		RefreshCooldown: 5 * time.Second,
		StalenessReject: true,
		LadderLevels:    3,
	})
	if err != nil {
		t.Fatalf("maker 配置失败: %v", err)
	}

	aomqCfg, err := NewAomqConfig(AomqParams{
		Enabled:            true,
		EmergencySpreadBps: 80,
		MinQuoteNotional:   10,
		FloorEpsilonBps:    50,
	})
	if err != nil {
		t.Fatalf("aomq 配置失败: %v", err)
	}

	return Params{
		OracleConfig:     oracleCfg,
		DivergenceConfig: divCfg,
		FeeConfig:        feeCfg,
		InventoryConfig:  invCfg,
		RecenterConfig:   recCfg,
		MakerConfig:      makerCfg,
		AomqConfig:       aomqCfg,
		InitialInventory: inventory.State{
			BaseReserves:       d(1000),
			QuoteReserves:      d(100_000),
			TargetBaseStar:     d(1000),
			LastRebalancePrice: d(100),
		},
		BaseLeg:  TokenLegInfo{Symbol: "SOL", Decimals: 9},
		QuoteLeg: TokenLegInfo{Symbol: "USDC", Decimals: 6},
		Events:   rec,
		Logger:   zerolog.Nop(),
		Clock:    clk.Now,
	}
}

func newTestEngine(t *testing.T, clk *fakeClock, rec Events) *Engine {
	t.Helper()
	return New(testParams(t, clk, rec))
}

func TestQuoteHappyPath(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	res, err := e.Quote(QuoteRequest{
		AmountIn: d(10),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     oracleData(100, 100),
	})
	if err != nil {
		t.Fatalf("报价不应失败: %v", err)
	}
	if !res.FeeBpsUsed.Equal(d(15)) {
		t.Fatalf("无信号时费用应为 base 15, 实际 %s", res.FeeBpsUsed)
	}
	// 10 * 100 * (1 - 0.0015)
	if !res.AmountOut.Equal(d(998.5)) {
		t.Fatalf("输出应为 998.5, 实际 %s", res.AmountOut)
	}
	if res.Reason != QuoteReasonOK || res.ClampFlags != 0 || res.UsedFallback {
		t.Fatalf("正常成交不应带标记: %+v", res)
	}

	inv := e.States().Inventory
	if !inv.BaseReserves.Equal(d(1010)) || !inv.QuoteReserves.Equal(d(99_001.5)) {
		t.Fatalf("成交后储备错误: base=%s quote=%s", inv.BaseReserves, inv.QuoteReserves)
	}
}

func TestQuoteSoftDivergenceAppliesHaircut(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rec := &recordingEvents{}
	e := newTestEngine(t, clk, rec)

	// delta(100, 99.4) ≈ 60.2 bps: 软带内,带 haircut 放行。
	res, err := e.Quote(QuoteRequest{
		AmountIn: d(1),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     oracleData(100, 99.4),
	})
	if err != nil {
		t.Fatalf("软带分歧应放行: %v", err)
	}
	if !res.FeeBpsUsed.GreaterThan(d(15)) {
		t.Fatalf("haircut 应抬高费用, 实际 %s", res.FeeBpsUsed)
	}
	if len(rec.haircuts) != 1 || rec.haircuts[0].Sign() <= 0 {
		t.Fatalf("应发布一次 haircut 事件: %+v", rec.haircuts)
	}
}

func TestQuoteHardDivergenceStrictRejects(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rec := &recordingEvents{}
	e := newTestEngine(t, clk, rec)
	before := e.States().Inventory

	_, err := e.Quote(QuoteRequest{
		AmountIn: d(10),
		IsBaseIn: true,
		Mode:     ModeStrict,
		Data:     oracleData(100, 101), // ≈ 99.5 bps,硬带
	})
	if !errors.Is(err, divergence.ErrHardDivergence) {
		t.Fatalf("strict 模式应返回 ErrHardDivergence, 实际 %v", err)
	}
	if rec.rejected != 1 {
		t.Fatalf("应发布一次拒绝事件, 实际 %d", rec.rejected)
	}
	if !reflect.DeepEqual(before, e.States().Inventory) {
		t.Fatal("被拒绝的报价不应改变库存")
	}
}

func TestQuoteHardDivergenceRoutesAomq(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rec := &recordingEvents{}
	e := newTestEngine(t, clk, rec)

	res, err := e.Quote(QuoteRequest{
		AmountIn: d(10),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     oracleData(100, 101),
	})
	if err != nil {
		t.Fatalf("standard 模式下硬分歧应走 AOMQ: %v", err)
	}
	if res.Reason != QuoteReasonAomq || !res.ClampFlags.Has(ClampAomq) {
		t.Fatalf("应标记为 AOMQ 报价: %+v", res)
	}
	if !res.FeeBpsUsed.Equal(d(80)) {
		t.Fatalf("AOMQ 应使用应急点差 80 bps, 实际 %s", res.FeeBpsUsed)
	}
	// 10 * 100 * (1 - 0.008)
	if !res.AmountOut.Equal(d(992)) {
		t.Fatalf("AOMQ 输出应为 992, 实际 %s", res.AmountOut)
	}
	if len(rec.aomq) != 1 || rec.aomq[0] != "divergence" {
		t.Fatalf("AOMQ 事件应标记 divergence 触发: %+v", rec.aomq)
	}
}

func TestAomqBelowMinNotionalRejects(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)
	before := e.States().Inventory

	_, err := e.Quote(QuoteRequest{
		AmountIn: d(5), // quote 腿名义 5 < 最小 10
		IsBaseIn: false,
		Mode:     ModeStandard,
		Data:     oracleData(100, 101),
	})
	if !errors.Is(err, ErrAomqBelowMin) {
		t.Fatalf("低于最小名义应返回 ErrAomqBelowMin, 实际 %v", err)
	}
	if !reflect.DeepEqual(before, e.States().Inventory) {
		t.Fatal("被拒绝的 AOMQ 不应改变库存")
	}
}

func TestQuoteNearFloorRoutesAomq(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rec := &recordingEvents{}
	p := testParams(t, clk, rec)
	// quote 腿已被抽到锚定下限附近: 下限窗口 = (100+50) bps × 100000 = 1500。
	p.InitialInventory.QuoteReserves = d(1400)
	e := New(p)

	res, err := e.Quote(QuoteRequest{
		AmountIn: d(0.5),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     oracleData(100, 100),
	})
	if err != nil {
		t.Fatalf("下限附近应走 AOMQ: %v", err)
	}
	if res.Reason != QuoteReasonAomq {
		t.Fatalf("应为 AOMQ 报价, 实际 %s", res.Reason)
	}
	if len(rec.aomq) != 1 || rec.aomq[0] != "floor_proximity" {
		t.Fatalf("AOMQ 事件应标记下限触发: %+v", rec.aomq)
	}
}

func TestQuotePartialFillLandsOnFloor(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	res, err := e.Quote(QuoteRequest{
		AmountIn: d(2000),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     oracleData(100, 100),
	})
	if err != nil {
		t.Fatalf("部分成交应返回结果而非错误: %v", err)
	}
	if res.Reason != QuoteReasonFloor || !res.ClampFlags.Has(ClampPartialFill) {
		t.Fatalf("应标记部分成交: %+v", res)
	}
	if !res.PartialFillAmountIn.LessThan(d(2000)) {
		t.Fatalf("部分成交消耗的输入应小于请求: %s", res.PartialFillAmountIn)
	}
	// 下限 = 100000 的 1%,对侧储备应恰好落在 1000。
	if !e.States().Inventory.QuoteReserves.Equal(d(1000)) {
		t.Fatalf("quote 储备应恰好等于下限 1000, 实际 %s", e.States().Inventory.QuoteReserves)
	}
}

func TestQuoteAutoRecenters(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rec := &recordingEvents{}
	e := newTestEngine(t, clk, rec)

	// 300 base 买入后偏差 ≈ 1500 bps ≥ 阈值 1000 bps。
	if _, err := e.Quote(QuoteRequest{
		AmountIn: d(300),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     oracleData(100, 100),
	}); err != nil {
		t.Fatalf("报价失败: %v", err)
	}

	if len(rec.recenters) != 1 {
		t.Fatalf("应提交一次自动重定心, 实际 %d", len(rec.recenters))
	}
	if rec.recenters[0].Manual {
		t.Fatal("自动路径不应标记为手动")
	}
	inv := e.States().Inventory
	if !inv.LastRebalanceAt.Equal(clk.Now()) {
		t.Fatalf("重定心时间戳错误: %s", inv.LastRebalanceAt)
	}
	if !inv.LastRebalancePrice.Equal(d(100)) {
		t.Fatalf("重定心价格应为成交 mid: %s", inv.LastRebalancePrice)
	}
}

func TestRebalanceTargetManual(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rec := &recordingEvents{}
	p := testParams(t, clk, rec)
	// base 偏重: 偏差 = 30000/200000 = 1500 bps。
	p.InitialInventory.BaseReserves = d(1300)
	p.InitialInventory.QuoteReserves = d(70_000)
	e := New(p)

	res, err := e.RebalanceTarget(oracleData(100, 100))
	if err != nil {
		t.Fatalf("手动重定心应成功: %v", err)
	}
	if !res.Manual {
		t.Fatal("手动路径应标记 Manual")
	}
	// (1300*100 + 70000) / 2 / 100 = 1000
	if !res.NewTarget.Equal(d(1000)) {
		t.Fatalf("新目标应为 1000, 实际 %s", res.NewTarget)
	}

	// 提交后未重新武装,立即再触发应返回 ErrCooldown。
	if _, err := e.RebalanceTarget(oracleData(100, 100)); !errors.Is(err, recenter.ErrCooldown) {
		t.Fatalf("未重新武装应返回 ErrCooldown, 实际 %v", err)
	}
}

func TestRebalanceTargetBelowThreshold(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	if _, err := e.RebalanceTarget(oracleData(100, 100)); !errors.Is(err, recenter.ErrBelowThreshold) {
		t.Fatalf("偏差为零应返回 ErrBelowThreshold, 实际 %v", err)
	}
}

func TestRefreshSnapshotCooldown(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rec := &recordingEvents{}
	e := newTestEngine(t, clk, rec)

	if _, err := e.RefreshSnapshot(oracleData(100, 100)); err != nil {
		t.Fatalf("首次刷新应成功: %v", err)
	}
	if _, err := e.RefreshSnapshot(oracleData(100, 100)); !errors.Is(err, ErrRefreshCooldown) {
		t.Fatalf("冷却期内刷新应返回 ErrRefreshCooldown, 实际 %v", err)
	}

	clk.Advance(6 * time.Second)
	if _, err := e.RefreshSnapshot(oracleData(100, 100)); err != nil {
		t.Fatalf("冷却期满刷新应成功: %v", err)
	}
	if rec.snapshots != 2 {
		t.Fatalf("应发布两次快照事件, 实际 %d", rec.snapshots)
	}
}

func TestPreviewRequiresSnapshot(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	if _, _, err := e.PreviewFees([]decimal.Decimal{d(100)}); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("无快照应返回 ErrNoSnapshot, 实际 %v", err)
	}
}

func TestPreviewStaleSnapshot(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	if _, err := e.RefreshSnapshot(oracleData(100, 100)); err != nil {
		t.Fatal(err)
	}
	clk.Advance(2 * time.Minute)
	if _, _, err := e.PreviewFees([]decimal.Decimal{d(100)}); !errors.Is(err, ErrSnapshotStale) {
		t.Fatalf("过期快照应返回 ErrSnapshotStale, 实际 %v", err)
	}
}

func TestPreviewLadderDoublesSizes(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	if _, err := e.RefreshSnapshot(oracleData(100, 100)); err != nil {
		t.Fatal(err)
	}
	rungs, err := e.PreviewLadder(d(500))
	if err != nil {
		t.Fatalf("梯子预览失败: %v", err)
	}
	if len(rungs) != 3 {
		t.Fatalf("应有 3 档, 实际 %d", len(rungs))
	}
	want := []decimal.Decimal{d(500), d(1000), d(2000)}
	for i, rung := range rungs {
		if !rung.SizeNotional.Equal(want[i]) {
			t.Fatalf("第 %d 档规模应为 %s, 实际 %s", i, want[i], rung.SizeNotional)
		}
		if rung.AskFeeBps.LessThan(d(15)) || rung.BidFeeBps.LessThan(d(15)) {
			t.Fatalf("费用不应低于 base: %+v", rung)
		}
	}
}

func TestPreviewIsPure(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	if _, err := e.RefreshSnapshot(oracleData(100, 100)); err != nil {
		t.Fatal(err)
	}
	before := e.States()

	if _, _, err := e.PreviewFees([]decimal.Decimal{d(100), d(5000)}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PreviewLadder(d(500)); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(before, e.States()) {
		t.Fatal("预览不应改变任何持久状态")
	}
}

func TestQuoteUsesSecondaryFallback(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	data := OracleData{
		Primary:   oracle.Sample{Mid: d(100), AgeSec: 120, Status: oracle.StatusOK}, // 超龄
		Secondary: okSample(100),
	}
	res, err := e.Quote(QuoteRequest{
		AmountIn: d(1),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     data,
	})
	if err != nil {
		t.Fatalf("次源回退应成功: %v", err)
	}
	if !res.UsedFallback {
		t.Fatal("应标记使用了回退源")
	}
	if !res.MidUsed.Equal(d(100)) {
		t.Fatalf("回退 mid 应为次源价格: %s", res.MidUsed)
	}
}

func TestGovernanceFeeConfigSwap(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	cfg, err := fees.NewConfig(fees.ConfigParams{
		BaseBps:          25,
		CapBps:           150,
		AlphaConfNum:     0,
		AlphaConfDen:     1,
		BetaInvNum:       0,
		BetaInvDen:       1,
		S0Notional:       10_000,
		DecayPctPerBlock: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	e.ApplyFeeConfig(cfg)

	res, err := e.Quote(QuoteRequest{
		AmountIn: d(1),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     oracleData(100, 100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.FeeBpsUsed.Equal(d(25)) {
		t.Fatalf("治理更新后费用应为新 base 25, 实际 %s", res.FeeBpsUsed)
	}
}

func TestQuoteNoAutoRecenterOnFallbackMid(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rec := &recordingEvents{}
	e := newTestEngine(t, clk, rec)

	// 先用新鲜主源喂一次,给 EMA 建立记忆。
	if _, err := e.Quote(QuoteRequest{
		AmountIn: d(1),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     oracleData(100, 100),
	}); err != nil {
		t.Fatalf("预热报价失败: %v", err)
	}

	// 两源都超龄: mid 来自 EMA 回退。偏差 ≈ 1500 bps 本应触发重定心。
	stale := OracleData{
		Primary:   oracle.Sample{Mid: d(100), AgeSec: 120, Status: oracle.StatusOK},
		Secondary: oracle.Sample{Mid: d(100), AgeSec: 120, Status: oracle.StatusOK},
	}
	res, err := e.Quote(QuoteRequest{
		AmountIn: d(300),
		IsBaseIn: true,
		Mode:     ModeStandard,
		Data:     stale,
	})
	if err != nil {
		t.Fatalf("EMA 回退报价应成功: %v", err)
	}
	if !res.UsedFallback {
		t.Fatal("应标记使用了回退源")
	}

	if len(rec.recenters) != 0 {
		t.Fatalf("回退 mid 不应触发自动重定心: %+v", rec.recenters)
	}
	inv := e.States().Inventory
	if !inv.LastRebalanceAt.IsZero() {
		t.Fatalf("不应记录重定心时间戳: %s", inv.LastRebalanceAt)
	}
	if !inv.TargetBaseStar.Equal(d(1000)) {
		t.Fatalf("目标不应改变, 实际 %s", inv.TargetBaseStar)
	}
}

func TestRebalanceTargetRejectsFallbackMid(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	p := testParams(t, clk, nil)
	p.InitialInventory.BaseReserves = d(1300)
	p.InitialInventory.QuoteReserves = d(70_000)
	e := New(p)

	// 给 EMA 建立记忆后把两源都置为超龄。
	if _, err := e.RefreshSnapshot(oracleData(100, 100)); err != nil {
		t.Fatal(err)
	}
	stale := OracleData{
		Primary:   oracle.Sample{Mid: d(100), AgeSec: 120, Status: oracle.StatusOK},
		Secondary: oracle.Sample{Mid: d(100), AgeSec: 120, Status: oracle.StatusOK},
	}

	if _, err := e.RebalanceTarget(stale); !errors.Is(err, oracle.ErrOracleStale) {
		t.Fatalf("回退 mid 应返回 ErrOracleStale, 实际 %v", err)
	}

	// 被拒绝的触发不应消耗任何门控状态: 换上新鲜数据立即成功。
	res, err := e.RebalanceTarget(oracleData(100, 100))
	if err != nil {
		t.Fatalf("新鲜数据下手动重定心应成功: %v", err)
	}
	if !res.NewTarget.Equal(d(1000)) {
		t.Fatalf("新目标应为 1000, 实际 %s", res.NewTarget)
	}
}

func TestQuoteRejectsNonPositiveAmount(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)
	before := e.States()

	for _, amount := range []decimal.Decimal{decimal.Zero, d(-5)} {
		_, err := e.Quote(QuoteRequest{
			AmountIn: amount,
			IsBaseIn: true,
			Mode:     ModeStandard,
			Data:     oracleData(100, 100),
		})
		if !errors.Is(err, inventory.ErrZeroAmount) {
			t.Fatalf("amount %s 应返回 ErrZeroAmount, 实际 %v", amount, err)
		}
	}

	if !reflect.DeepEqual(before, e.States()) {
		t.Fatal("非法输入被拒绝后不应留下任何状态变化")
	}
}

func TestQuoteOracleErrorPropagates(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newTestEngine(t, clk, nil)

	data := OracleData{
		Primary:   oracle.Sample{Status: oracle.StatusError},
		Secondary: okSample(100),
	}
	if _, err := e.Quote(QuoteRequest{AmountIn: d(1), IsBaseIn: true, Mode: ModeStandard, Data: data}); !errors.Is(err, oracle.ErrSourceFailed) {
		t.Fatalf("源失败应向上传播, 实际 %v", err)
	}
}
