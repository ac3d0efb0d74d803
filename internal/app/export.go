package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"floor-price-bot/internal/storage"
)

// Export renders one collection's floor history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Collection == "" {
		return errors.New("--collection must be provided")
	}
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

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Watchlist.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, opts.Collection, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("collection", opts.Collection).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().
		Str("collection", opts.Collection).
		Int("total", len(samples)).
		Int("exported", len(downsampled)).
		Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, opts.Collection, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.FloorSample, max int) []storage.FloorSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.FloorSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.FloorSample) error {
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

	header := []string{"bucket_ts", "collection", "floor", "floor_usd", "currency", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		usd := ""
		if sample.FloorUSD != nil {
			usd = sample.FloorUSD.String()
		}
		record := []string{
			sample.Bucket.Format(time.RFC3339),
			sample.CollectionSlug,
			sample.Floor.String(),
			usd,
			sample.Currency,
			sample.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path, collection string, samples []storage.FloorSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	floor := make([]float64, len(samples))
	usd := make([]float64, 0, len(samples))
	usdX := make([]time.Time, 0, len(samples))

	for i, sample := range samples {
		x[i] = sample.Bucket
		floor[i] = sample.Floor.InexactFloat64()
		if sample.FloorUSD != nil {
			usdX = append(usdX, sample.Bucket)
			usd = append(usd, sample.FloorUSD.InexactFloat64())
		}
	}

	floorFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  collection,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Floor (ETH)",
			ValueFormatter: floorFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Floor",
				XValues: x,
				YValues: floor,
			},
		},
	}

	// USD series only when the tracker stored enriched samples. go-chart
	// rejects empty series.
	if len(usd) >= 2 {
		graph.YAxisSecondary = chart.YAxis{
			Name:           "Floor (USD)",
			ValueFormatter: floorFormatter,
		}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Floor USD",
			XValues: usdX,
			YValues: usd,
			YAxis:   chart.YAxisSecondary,
		})
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
