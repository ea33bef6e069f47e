package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/engine"
	"amm-quote-engine/internal/oracle"
	"amm-quote-engine/internal/service"
)

// SimulateQuote 用给定的主/次价格离线执行一次完整报价流程。
// 不读数据库；若启用了告警，风险事件会真实下发。
func (a *App) SimulateQuote(ctx context.Context, opts SimulateOptions) error {
	if opts.Mid <= 0 {
		return errors.New("--mid must be positive")
	}
	if opts.AmountIn <= 0 {
		return errors.New("--amount-in must be positive")
	}

	var isBaseIn bool
	switch opts.Side {
	case "base":
		isBaseIn = true
	case "quote":
		isBaseIn = false
	default:
		return fmt.Errorf("unknown --side %q (expected base or quote)", opts.Side)
	}

	sink := service.NewEventSink(a.newNotifier(), nil, a.Config.Alerting.Channels, a.Logger)
	eng, err := a.buildEngine(sink)
	if err != nil {
		return err
	}

	secondary := oracle.Sample{Status: oracle.StatusStale}
	if opts.SecondaryMid > 0 {
		secondary = oracle.Sample{Mid: decimal.NewFromFloat(opts.SecondaryMid), Status: oracle.StatusOK}
	}

	mode := engine.ModeStandard
	if opts.Strict {
		mode = engine.ModeStrict
	}

	req := engine.QuoteRequest{
		AmountIn:  decimal.NewFromFloat(opts.AmountIn),
		IsBaseIn:  isBaseIn,
		Mode:      mode,
		RebateBps: decimal.NewFromFloat(opts.RebateBps),
		Data: engine.OracleData{
			Primary:   oracle.Sample{Mid: decimal.NewFromFloat(opts.Mid), Status: oracle.StatusOK},
			Secondary: secondary,
		},
	}

	res, err := eng.Quote(req)
	if err != nil {
		return fmt.Errorf("quote rejected: %w", err)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Field\tValue")
	fmt.Fprintf(writer, "amount_out\t%s\n", res.AmountOut.String())
	fmt.Fprintf(writer, "mid_used\t%s\n", formatDecimal(res.MidUsed, 6))
	fmt.Fprintf(writer, "fee_bps\t%s\n", formatDecimal(res.FeeBpsUsed, 2))
	fmt.Fprintf(writer, "partial_fill_in\t%s\n", res.PartialFillAmountIn.String())
	fmt.Fprintf(writer, "used_fallback\t%t\n", res.UsedFallback)
	fmt.Fprintf(writer, "reason\t%s\n", res.Reason)
	fmt.Fprintf(writer, "clamps\t%s\n", describeClamps(res.ClampFlags))
	writer.Flush()

	return nil
}

func describeClamps(flags engine.ClampFlags) string {
	if flags == 0 {
		return "none"
	}
	out := ""
	if flags.Has(engine.ClampPartialFill) {
		out += "partial_fill "
	}
	if flags.Has(engine.ClampFeeCapped) {
		out += "fee_capped "
	}
	if flags.Has(engine.ClampAomq) {
		out += "aomq "
	}
	return out[:len(out)-1]
}
