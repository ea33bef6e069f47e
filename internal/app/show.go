package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent snapshots and recenter events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapshots, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tMid\tSigma bps\tConf bps\tDiv bps\tSpread bps\tSource\tStatus\tError")

		for _, snap := range snapshots {
			errMsg := ""
			if snap.Error != nil {
				errMsg = sanitizeInline(*snap.Error)
			}
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				snap.Bucket.UTC().Format(time.RFC3339),
				formatDecimal(snap.MidUsed, 4),
				formatDecimal(snap.SigmaBps, 2),
				formatDecimal(snap.ConfBps, 2),
				formatDecimal(snap.DivergenceBps, 2),
				formatDecimal(snap.SpreadBps, 2),
				snap.SourceReason,
				snap.Status,
				errMsg,
			)
		}
		writer.Flush()
	}

	events, err := store.ListRecentRecenterEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Recenter (UTC)\tMid\tNew target\tDeviation bps\tManual")
	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%t\n",
			event.At.UTC().Format(time.RFC3339),
			formatDecimal(event.Mid, 4),
			formatDecimal(event.NewTarget, 4),
			formatDecimal(event.DeviationBps, 2),
			event.Manual,
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
