package evaluate

import (
	"sort"

	"github.com/banshee-data/keypoint.report/internal/keypoint/storage/sqlite"
)

// ResultStore persists evaluation runs. *sqlite.EvaluationStore is one.
type ResultStore interface {
	SaveRun(run *sqlite.Run, shapes []sqlite.ShapeResult, categories []sqlite.CategoryScore) error
}

// Save writes the report as a run. The caller fills in the run's
// configuration fields; Save sets the shape count and mean score.
func (r *Report) Save(store ResultStore, run *sqlite.Run) error {
	run.Shapes = len(r.Shapes)
	run.MeanScore = r.MeanScore()

	shapes := make([]sqlite.ShapeResult, 0, len(r.Shapes))
	seen := make(map[string]bool, len(r.Shapes))
	for _, o := range r.Shapes {
		if seen[string(o.ID)] {
			continue
		}
		seen[string(o.ID)] = true
		shapes = append(shapes, sqlite.ShapeResult{
			ShapeID:      string(o.ID),
			Category:     o.Category,
			NumPoints:    o.NumPoints,
			FP:           o.FP,
			FN:           o.FN,
			NumKeypoints: o.NumKeypoints,
			NumPredicted: o.NumPredicted,
			Score:        o.Score,
			Duration:     o.Duration,
		})
	}

	names := make([]string, 0, len(r.Categories))
	for c := range r.Categories {
		names = append(names, c)
	}
	sort.Strings(names)
	cats := make([]sqlite.CategoryScore, 0, len(names))
	for _, c := range names {
		st := r.Categories[c]
		cats = append(cats, sqlite.CategoryScore{
			Category:     c,
			Shapes:       st.Shapes,
			FP:           st.FP,
			FN:           st.FN,
			NumKeypoints: st.NumKeypoints,
			Score:        r.Scores[c],
		})
	}
	return store.SaveRun(run, shapes, cats)
}
