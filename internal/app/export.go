package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"fundingwatch/internal/storage"
)

const defaultExportWindow = 7 * 24 * time.Hour

// Export renders the recorded changes of one symbol as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.Symbol = strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	from, to, err := opts.window(time.Now())
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	changes, err := store.ListChanges(ctx, opts.Symbol, from, to)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no rate changes found for export window")
		return nil
	}

	downsampled := downsampleChanges(changes, opts.MaxPoints)
	a.Logger.Info().Int("total", len(changes)).Int("exported", len(downsampled)).Msg("exporting rate changes")

	if opts.CSVPath != "" {
		if err := writeChangesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeChangesPNG(opts.PNGPath, opts.Symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleChanges(changes []storage.ChangeRecord, max int) []storage.ChangeRecord {
	if max <= 0 || len(changes) <= max {
		return changes
	}
	if max == 1 {
		return changes[len(changes)-1:]
	}

	result := make([]storage.ChangeRecord, 0, max)
	step := float64(len(changes)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(changes) {
			idx = len(changes) - 1
		}
		result = append(result, changes[idx])
	}
	return result
}

func writeChangesCSV(path string, changes []storage.ChangeRecord) error {
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

	header := []string{"created_at", "symbol", "previous_rate", "current_rate", "delta", "direction", "threshold", "next_funding_time"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, c := range changes {
		next := ""
		if c.NextEventTime != nil {
			next = c.NextEventTime.UTC().Format(time.RFC3339)
		}
		record := []string{
			c.CreatedAt.UTC().Format(time.RFC3339),
			c.Symbol,
			c.PreviousRate.String(),
			c.CurrentRate.String(),
			c.Delta.String(),
			c.Direction,
			c.Threshold.String(),
			next,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeChangesPNG(path, symbol string, changes []storage.ChangeRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	if len(changes) < 2 {
		return errors.New("at least two rate changes are needed to render a chart")
	}

	x := make([]time.Time, len(changes))
	previous := make([]float64, len(changes))
	current := make([]float64, len(changes))
	delta := make([]float64, len(changes))

	hundred := decimal.NewFromInt(100)
	for i, c := range changes {
		x[i] = c.CreatedAt
		previous[i] = c.PreviousRate.Mul(hundred).InexactFloat64()
		current[i] = c.CurrentRate.Mul(hundred).InexactFloat64()
		delta[i] = c.Delta.Mul(hundred).InexactFloat64()
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Title:  symbol + " funding rate changes",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Funding rate (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Previous",
				XValues: x,
				YValues: previous,
			},
			chart.TimeSeries{
				Name:    "Current",
				XValues: x,
				YValues: current,
			},
			chart.TimeSeries{
				Name:    "Change",
				XValues: x,
				YValues: delta,
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
