// Package metrics aggregates keypoint evaluation results per category and
// keeps running averages for progress reporting.
package metrics

import (
	"math"
	"sort"
	"sync"
)

// CategoryStat is the accumulated outcome of every evaluated shape in one
// category.
type CategoryStat struct {
	FP           int `json:"fp"`
	FN           int `json:"fn"`
	NumKeypoints int `json:"num_keypoints"`
	Shapes       int `json:"shapes"`
}

// Score is (keypoints - fn) / (keypoints + fp). The denominator is floored
// at the smallest positive float64 so an empty category scores 0.
func (s CategoryStat) Score() float64 {
	return Score(s.FP, s.FN, s.NumKeypoints)
}

// Score computes the keypoint score of a single (fp, fn, keypoints) triple.
func Score(fp, fn, numKeypoints int) float64 {
	den := math.Max(float64(numKeypoints+fp), math.SmallestNonzeroFloat64)
	return float64(numKeypoints-fn) / den
}

// ShapeResult is one evaluated shape.
type ShapeResult struct {
	Category     string
	FP           int
	FN           int
	NumKeypoints int
}

// IoUPerCategory folds shape results into per-category scores.
func IoUPerCategory(results []ShapeResult) map[string]float64 {
	agg := NewCategoryAggregator()
	for _, r := range results {
		agg.Add(r.Category, r.FP, r.FN, r.NumKeypoints)
	}
	return agg.Scores()
}

// CategoryAggregator accumulates per-shape results by category. It is safe
// for concurrent use.
type CategoryAggregator struct {
	mu    sync.Mutex
	stats map[string]*CategoryStat
}

// NewCategoryAggregator returns an empty aggregator.
func NewCategoryAggregator() *CategoryAggregator {
	return &CategoryAggregator{stats: make(map[string]*CategoryStat)}
}

// Add records one shape.
func (a *CategoryAggregator) Add(category string, fp, fn, numKeypoints int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.stats[category]
	if !ok {
		s = &CategoryStat{}
		a.stats[category] = s
	}
	s.FP += fp
	s.FN += fn
	s.NumKeypoints += numKeypoints
	s.Shapes++
}

// Stats returns a snapshot of the accumulated counts.
func (a *CategoryAggregator) Stats() map[string]CategoryStat {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]CategoryStat, len(a.stats))
	for c, s := range a.stats {
		out[c] = *s
	}
	return out
}

// Scores returns the per-category keypoint score.
func (a *CategoryAggregator) Scores() map[string]float64 {
	stats := a.Stats()
	out := make(map[string]float64, len(stats))
	for c, s := range stats {
		out[c] = s.Score()
	}
	return out
}

// Categories lists the categories seen so far, sorted.
func (a *CategoryAggregator) Categories() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.stats))
	for c := range a.stats {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Total sums every category into one stat.
func (a *CategoryAggregator) Total() CategoryStat {
	var t CategoryStat
	for _, s := range a.Stats() {
		t.FP += s.FP
		t.FN += s.FN
		t.NumKeypoints += s.NumKeypoints
		t.Shapes += s.Shapes
	}
	return t
}
