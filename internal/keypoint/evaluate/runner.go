// Package evaluate scores keypoint predictions against a prepared dataset.
package evaluate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/keypoint.report/internal/keypoint/dataset"
	"github.com/banshee-data/keypoint.report/internal/keypoint/geodesic"
	"github.com/banshee-data/keypoint.report/internal/keypoint/metrics"
	"github.com/banshee-data/keypoint.report/internal/keypoint/transform"
	"github.com/banshee-data/keypoint.report/internal/monitoring"
	"github.com/banshee-data/keypoint.report/internal/timeutil"
)

// RecordSource returns prepared records. *dataset.RecordCache is one.
type RecordSource interface {
	Get(id dataset.ShapeID) (*dataset.Record, error)
}

// Options configures a Runner.
type Options struct {
	Matcher geodesic.Options
	// Workers bounds concurrent shape evaluations; values below 1 mean 1.
	Workers int
	// Transform is applied to a private copy of each record before it is
	// handed to the predictor. Matching always uses the untouched record.
	Transform transform.Func
	// Clock times the matcher; nil uses the wall clock.
	Clock timeutil.Clock
}

// ShapeOutcome is the evaluation of one shape.
type ShapeOutcome struct {
	ID        dataset.ShapeID
	Category  string
	NumPoints int
	geodesic.Result
	Score    float64
	Duration time.Duration
}

// Report is the result of one pass.
type Report struct {
	// Shapes is in input order.
	Shapes        []ShapeOutcome
	Categories    map[string]metrics.CategoryStat
	Scores        map[string]float64
	Meter         metrics.AverageMeter
	CategoryMeter *metrics.CategoryAverageMeter
}

// MeanScore is the category-averaged score, the headline number of a pass.
func (r *Report) MeanScore() float64 {
	if len(r.Scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range r.Scores {
		sum += s
	}
	return sum / float64(len(r.Scores))
}

// Runner evaluates a predictor over records.
type Runner struct {
	source     RecordSource
	predictor  Predictor
	categories *dataset.Categories
	opts       Options
	metrics    *Metrics
}

// NewRunner creates a Runner. categories maps record category codes to
// display names; m may be nil.
func NewRunner(source RecordSource, predictor Predictor, categories *dataset.Categories, opts Options, m *Metrics) *Runner {
	if m == nil {
		m = NewMetrics(nil)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Runner{
		source:     source,
		predictor:  predictor,
		categories: categories,
		opts:       opts,
		metrics:    m,
	}
}

func (r *Runner) categoryName(code string) string {
	if r.categories != nil {
		if name, ok := r.categories.Name(code); ok {
			return name
		}
	}
	return code
}

// Run evaluates every id. Shapes are processed concurrently; the first
// error cancels the pass and is returned.
func (r *Runner) Run(ctx context.Context, ids []dataset.ShapeID) (*Report, error) {
	workers := max(r.opts.Workers, 1)
	outcomes := make([]ShapeOutcome, len(ids))
	agg := metrics.NewCategoryAggregator()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := r.evaluateShape(gctx, id)
			if err != nil {
				r.metrics.Shapes.WithLabelValues(out.Category, "error").Inc()
				return fmt.Errorf("evaluate %s: %w", id, err)
			}
			outcomes[i] = out
			agg.Add(out.Category, out.FP, out.FN, out.NumKeypoints)
			monitoring.Debugf("Test: [%d/%d] %s fp=%d fn=%d kp=%d score=%.4f",
				i+1, len(ids), id, out.FP, out.FN, out.NumKeypoints, out.Score)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{
		Shapes:        outcomes,
		Categories:    agg.Stats(),
		Scores:        agg.Scores(),
		CategoryMeter: metrics.NewCategoryAverageMeter(),
	}
	for _, o := range outcomes {
		rep.Meter.Update(o.Score, 1)
		rep.CategoryMeter.Update(o.Score, o.Category, 1)
	}
	for c, s := range rep.Scores {
		r.metrics.CategoryScore.WithLabelValues(c).Set(s)
	}
	return rep, nil
}

func (r *Runner) evaluateShape(ctx context.Context, id dataset.ShapeID) (ShapeOutcome, error) {
	out := ShapeOutcome{ID: id, Category: r.categoryName(id.Code())}

	rec, err := r.source.Get(id)
	if err != nil {
		return out, err
	}
	out.Category = r.categoryName(rec.Category)
	out.NumPoints = rec.Len()

	input := rec
	if r.opts.Transform != nil {
		if input, err = r.opts.Transform(rec.Clone()); err != nil {
			return out, err
		}
	}
	scores, err := r.predictor.Predict(ctx, id, input)
	if err != nil {
		return out, err
	}

	start := r.opts.Clock.Now()
	res, err := geodesic.FPFNGeodist(rec.Segment, scores, rec.Coord, r.opts.Matcher)
	out.Duration = r.opts.Clock.Since(start)
	if err != nil {
		return out, err
	}
	r.metrics.GeodesicDuration.Observe(out.Duration.Seconds())

	out.Result = res
	out.Score = metrics.Score(res.FP, res.FN, res.NumKeypoints)

	r.metrics.Shapes.WithLabelValues(out.Category, "ok").Inc()
	r.metrics.Keypoints.WithLabelValues(out.Category, "truth").Add(float64(res.NumKeypoints))
	r.metrics.Keypoints.WithLabelValues(out.Category, "predicted").Add(float64(res.NumPredicted))
	r.metrics.Keypoints.WithLabelValues(out.Category, "fp").Add(float64(res.FP))
	r.metrics.Keypoints.WithLabelValues(out.Category, "fn").Add(float64(res.FN))
	return out, nil
}
