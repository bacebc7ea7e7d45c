package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/keypoint.report/internal/fsutil"
	"github.com/banshee-data/keypoint.report/internal/keypoint/dataset"
)

// ErrNoPrediction is returned for a shape the predictor has no scores for.
var ErrNoPrediction = errors.New("no prediction for shape")

// maxScoreFileSize bounds a predictions file read into memory.
const maxScoreFileSize = 512 << 20

// Predictor produces one keypoint score per point of a record. The model
// behind it is opaque to the evaluator.
type Predictor interface {
	Predict(ctx context.Context, id dataset.ShapeID, rec *dataset.Record) ([]float32, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, id dataset.ShapeID, rec *dataset.Record) ([]float32, error)

// Predict calls f.
func (f PredictorFunc) Predict(ctx context.Context, id dataset.ShapeID, rec *dataset.Record) ([]float32, error) {
	return f(ctx, id, rec)
}

// ScoreFile serves precomputed per-point scores loaded from a JSON object
// mapping shape identifier to score array.
type ScoreFile struct {
	scores map[dataset.ShapeID][]float32
}

// LoadScoreFile reads a predictions file.
func LoadScoreFile(fs fsutil.FileSystem, path string) (*ScoreFile, error) {
	if filepath.Ext(path) != ".json" {
		return nil, fmt.Errorf("predictions file must have .json extension: %s", path)
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read predictions file: %w", err)
	}
	if len(data) > maxScoreFileSize {
		return nil, fmt.Errorf("predictions file too large: %d bytes (max %d)", len(data), maxScoreFileSize)
	}

	raw := make(map[string][]float32)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse predictions JSON: %w", err)
	}
	sf := &ScoreFile{scores: make(map[dataset.ShapeID][]float32, len(raw))}
	for id, s := range raw {
		sf.scores[dataset.ShapeID(id)] = s
	}
	return sf, nil
}

// Len returns the number of shapes with scores.
func (f *ScoreFile) Len() int { return len(f.scores) }

// Predict returns the stored scores for id. The record is used only to
// check that the scores cover every point.
func (f *ScoreFile) Predict(_ context.Context, id dataset.ShapeID, rec *dataset.Record) ([]float32, error) {
	s, ok := f.scores[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrediction, id)
	}
	if len(s) != rec.Len() {
		return nil, fmt.Errorf("shape %s: %d scores for %d points", id, len(s), rec.Len())
	}
	return s, nil
}
