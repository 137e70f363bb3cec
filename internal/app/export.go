package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/publish"
	"fed-liquidity/internal/service"
)

// Export renders stored observations as CSV and/or PNG, optionally
// publishing the written files to S3.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	r := liquidity.Range{Start: opts.From, End: opts.To}
	if r.Inverted() {
		return errors.New("from must not be after to")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	var uploader *publish.Uploader
	if opts.Upload {
		var err error
		uploader, err = publish.NewUploader(ctx, a.Config.Export.S3, a.Logger)
		if err != nil {
			return err
		}
	}

	store, closeStore, err := a.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer closeStore()

	query := service.NewQueryService(store, a.Config.Server.QueryTimeout, a.Logger)
	points, err := query.Points(ctx, r)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Str("range", r.String()).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	if uploader != nil {
		keys, err := uploader.UploadFiles(ctx, opts.CSVPath, opts.PNGPath)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprintf(a.Out, "uploaded s3://%s/%s\n", a.Config.Export.S3.Bucket, key)
		}
	}

	return nil
}

// downsamplePoints keeps max evenly spaced points, always including both ends.
func downsamplePoints(points []liquidity.Point, max int) []liquidity.Point {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]liquidity.Point, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path string, points []liquidity.Point) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"date", "total_assets", "tga", "reverse_repo", "reserve_balances", "discount_window", "net_liquidity", "net_liquidity_change_pct", "total_assets_change", "reserve_balances_change"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Date.String(),
			p.TotalAssets.String(),
			p.TGA.String(),
			p.ReverseRepo.String(),
			nullString(p.ReserveBalances),
			nullString(p.DiscountWindow),
			p.NetLiquidity.String(),
			formatNullChange(p),
			nullString(p.TotalAssetsChange),
			nullString(p.ReserveBalancesChange),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func formatNullChange(p liquidity.Point) string {
	if !p.NetLiquidityChangePct.Valid {
		return ""
	}
	return p.NetLiquidityChangePct.Decimal.StringFixed(4)
}

func writePointsPNG(path string, points []liquidity.Point) error {
	if len(points) < 2 {
		return errors.New("chart needs at least two observations")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	total := make([]float64, len(points))
	net := make([]float64, len(points))
	tga := make([]float64, len(points))
	rrp := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.Date.Time()
		total[i] = p.TotalAssets.InexactFloat64()
		net[i] = p.NetLiquidity.InexactFloat64()
		tga[i] = p.TGA.InexactFloat64()
		rrp[i] = p.ReverseRepo.InexactFloat64()
	}

	billions := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Balance sheet ($B)",
			ValueFormatter: billions,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "TGA / RRP ($B)",
			ValueFormatter: billions,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total Assets",
				XValues: x,
				YValues: total,
			},
			chart.TimeSeries{
				Name:    "Net Liquidity",
				XValues: x,
				YValues: net,
			},
			chart.TimeSeries{
				Name:    "TGA",
				XValues: x,
				YValues: tga,
				YAxis:   chart.YAxisSecondary,
			},
			chart.TimeSeries{
				Name:    "Reverse Repo",
				XValues: x,
				YValues: rrp,
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

	if err := graph.Render(chart.PNG, file); err != nil {
		return err
	}
	return file.Close()
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
