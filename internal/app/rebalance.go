package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"amm-quote-engine/internal/engine"
	"amm-quote-engine/internal/oracle"
	"amm-quote-engine/internal/service"
	"amm-quote-engine/internal/storage"
)

// Rebalance performs an operator-initiated retarget against live feeds.
// The committed event is persisted and alerted like an automatic one.
func (a *App) Rebalance(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var recenterStore storage.RecenterEventStore
	if store != nil {
		recenterStore = store
	}

	sink := service.NewEventSink(a.newNotifier(), recenterStore, a.Config.Alerting.Channels, a.Logger)
	eng, err := a.buildEngine(sink)
	if err != nil {
		return err
	}

	primary, secondary := a.newFeeds()

	primarySample, blockNumber, err := primary.FetchPrimary(ctx)
	if err != nil {
		return fmt.Errorf("fetch primary sample: %w", err)
	}

	secondarySample, _, secErr := secondary.FetchSecondary(ctx)
	if secErr != nil {
		a.Logger.Warn().Err(secErr).Msg("secondary feed unavailable; retargeting without divergence check")
		secondarySample = oracle.Sample{Status: oracle.StatusStale}
	}

	res, err := eng.RebalanceTarget(engine.OracleData{
		Primary:   primarySample,
		Secondary: secondarySample,
		Tick:      int64(blockNumber),
	})
	if err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Field\tValue")
	fmt.Fprintf(writer, "at\t%s\n", res.At.UTC().Format(time.RFC3339))
	fmt.Fprintf(writer, "mid\t%s\n", formatDecimal(res.Mid, 6))
	fmt.Fprintf(writer, "new_target\t%s\n", formatDecimal(res.NewTarget, 6))
	fmt.Fprintf(writer, "deviation_bps\t%s\n", formatDecimal(res.DeviationBps, 2))
	writer.Flush()

	return nil
}
