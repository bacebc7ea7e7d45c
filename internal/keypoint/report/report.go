// Package report renders per-category evaluation scores as text, PNG bar
// charts and interactive HTML.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/keypoint.report/internal/keypoint/metrics"
)

// ErrNoScores is returned when there is nothing to chart.
var ErrNoScores = errors.New("report: no category scores")

// Entry is one category row.
type Entry struct {
	Category string
	Score    float64
	metrics.CategoryStat
}

// Entries joins scores with their stats, sorted by category.
func Entries(scores map[string]float64, stats map[string]metrics.CategoryStat) []Entry {
	out := make([]Entry, 0, len(scores))
	for c, s := range scores {
		out = append(out, Entry{Category: c, Score: s, CategoryStat: stats[c]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// WriteText prints one line per category and the category mean.
func WriteText(w io.Writer, entries []Entry) error {
	mean := 0.0
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "Class_%-12s Result: iou %.4f (shapes=%d kp=%d fp=%d fn=%d)\n",
			e.Category, e.Score, e.Shapes, e.NumKeypoints, e.FP, e.FN); err != nil {
			return err
		}
		mean += e.Score
	}
	if len(entries) > 0 {
		mean /= float64(len(entries))
	}
	_, err := fmt.Fprintf(w, "Val result: mIoU %.4f over %d categories\n", mean, len(entries))
	return err
}

// RenderPNG draws a bar chart of the scores.
func RenderPNG(w io.Writer, title string, entries []Entry) error {
	if len(entries) == 0 {
		return ErrNoScores
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "score"
	p.Y.Min = 0
	p.Y.Max = 1

	values := make(plotter.Values, len(entries))
	names := make([]string, len(entries))
	for i, e := range entries {
		values[i] = e.Score
		names[i] = e.Category
	}
	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return fmt.Errorf("bar chart: %w", err)
	}
	bars.Color = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars, plotter.NewGrid())
	p.NominalX(names...)

	width := vg.Length(max(len(entries), 4)) * vg.Inch * 0.6
	wt, err := p.WriterTo(width, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// RenderHTML writes an interactive bar chart page.
func RenderHTML(w io.Writer, title, subtitle string, entries []Entry) error {
	if len(entries) == 0 {
		return ErrNoScores
	}

	x := make([]string, len(entries))
	y := make([]opts.BarData, len(entries))
	for i, e := range entries {
		x[i] = e.Category
		y[i] = opts.BarData{Value: fmt.Sprintf("%.4f", e.Score)}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "score"}),
	)
	bar.SetXAxis(x).
		AddSeries("score", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(bar)
	return page.Render(w)
}
