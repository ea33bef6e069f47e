package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"amm-quote-engine/internal/storage"
)

// Export renders historical snapshot data as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.ListSnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snapshots []storage.SnapshotRecord, max int) []storage.SnapshotRecord {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}

	result := make([]storage.SnapshotRecord, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "mid_used", "sigma_bps", "conf_bps", "divergence_bps", "spread_bps", "source_reason", "block_number", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		errMsg := ""
		if snap.Error != nil {
			errMsg = *snap.Error
		}
		block := ""
		if snap.BlockNumber != nil {
			block = decimal.NewFromInt(*snap.BlockNumber).String()
		}
		record := []string{
			snap.Bucket.Format(time.RFC3339),
			snap.MidUsed.String(),
			snap.SigmaBps.String(),
			snap.ConfBps.String(),
			snap.DivergenceBps.String(),
			snap.SpreadBps.String(),
			snap.SourceReason,
			block,
			snap.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path string, snapshots []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snapshots))
	mid := make([]float64, len(snapshots))
	divergence := make([]float64, len(snapshots))
	conf := make([]float64, len(snapshots))

	for i, snap := range snapshots {
		x[i] = snap.Bucket
		mid[i] = snap.MidUsed.InexactFloat64()
		divergence[i] = snap.DivergenceBps.InexactFloat64()
		conf[i] = snap.ConfBps.InexactFloat64()
	}

	midFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Mid price",
			ValueFormatter: midFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Bps",
			ValueFormatter: midFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Mid",
				XValues: x,
				YValues: mid,
			},
			chart.TimeSeries{
				Name:    "Divergence bps",
				XValues: x,
				YValues: divergence,
				YAxis:   chart.YAxisSecondary,
			},
			chart.TimeSeries{
				Name:    "Confidence bps",
				XValues: x,
				YValues: conf,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
