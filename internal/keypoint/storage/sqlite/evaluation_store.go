package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/keypoint.report/internal/timeutil"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("evaluation run not found")

// Run is one evaluation pass over a split.
type Run struct {
	RunID             string          `json:"run_id"`
	Split             string          `json:"split"`
	Category          string          `json:"category"`
	NumPoints         int             `json:"num_points"`
	UniformSampling   bool            `json:"uniform_sampling"`
	DistanceThreshold float64         `json:"distance_threshold"`
	ScoreThreshold    float64         `json:"score_threshold"`
	Neighbors         int             `json:"neighbors"`
	MatchMode         string          `json:"match_mode"`
	CacheDigest       string          `json:"cache_digest"`
	Shapes            int             `json:"shapes"`
	MeanScore         float64         `json:"mean_score"`
	Notes             string          `json:"notes,omitempty"`
	ParamsJSON        json.RawMessage `json:"params_json,omitempty"`
	CreatedAt         int64           `json:"created_at"`
}

// ShapeResult is the stored outcome for one shape of a run.
type ShapeResult struct {
	ShapeID      string        `json:"shape_id"`
	Category     string        `json:"category"`
	NumPoints    int           `json:"num_points"`
	FP           int           `json:"fp"`
	FN           int           `json:"fn"`
	NumKeypoints int           `json:"num_keypoints"`
	NumPredicted int           `json:"num_predicted"`
	Score        float64       `json:"score"`
	Duration     time.Duration `json:"duration_ns"`
}

// CategoryScore is the aggregated outcome for one category of a run.
type CategoryScore struct {
	Category     string  `json:"category"`
	Shapes       int     `json:"shapes"`
	FP           int     `json:"fp"`
	FN           int     `json:"fn"`
	NumKeypoints int     `json:"num_keypoints"`
	Score        float64 `json:"score"`
}

// EvaluationStore persists evaluation runs with their shape and category
// results.
type EvaluationStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewEvaluationStore creates a new EvaluationStore.
func NewEvaluationStore(db *sql.DB) *EvaluationStore {
	return &EvaluationStore{db: db, clock: timeutil.RealClock{}}
}

// SaveRun writes a run with all of its results in one transaction. If
// RunID is empty, a UUID is generated.
func (s *EvaluationStore) SaveRun(run *Run, shapes []ShapeResult, categories []CategoryScore) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}

	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}

	return retryOnBusy(s.clock, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO keypoint_runs (
				run_id, split, category, num_points, uniform_sampling,
				distance_threshold, score_threshold, neighbors, match_mode,
				cache_digest, shapes, mean_score, notes, params_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Split, run.Category, run.NumPoints, run.UniformSampling,
			run.DistanceThreshold, run.ScoreThreshold, run.Neighbors, run.MatchMode,
			run.CacheDigest, run.Shapes, run.MeanScore, run.Notes, params, run.CreatedAt,
		)
		if err != nil {
			return err
		}

		shapeStmt, err := tx.Prepare(`
			INSERT INTO keypoint_shape_results (
				run_id, shape_id, category, num_points, fp, fn,
				num_keypoints, num_predicted, score, duration_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer shapeStmt.Close()
		for _, r := range shapes {
			if _, err := shapeStmt.Exec(run.RunID, r.ShapeID, r.Category, r.NumPoints, r.FP, r.FN,
				r.NumKeypoints, r.NumPredicted, r.Score, int64(r.Duration)); err != nil {
				return fmt.Errorf("insert shape %s: %w", r.ShapeID, err)
			}
		}

		catStmt, err := tx.Prepare(`
			INSERT INTO keypoint_category_scores (
				run_id, category, shapes, fp, fn, num_keypoints, score
			) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer catStmt.Close()
		for _, c := range categories {
			if _, err := catStmt.Exec(run.RunID, c.Category, c.Shapes, c.FP, c.FN, c.NumKeypoints, c.Score); err != nil {
				return fmt.Errorf("insert category %s: %w", c.Category, err)
			}
		}

		return tx.Commit()
	})
}

const runColumns = `run_id, split, category, num_points, uniform_sampling,
		       distance_threshold, score_threshold, neighbors, match_mode,
		       cache_digest, shapes, mean_score, notes, params_json, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var params sql.NullString
	err := row.Scan(
		&r.RunID, &r.Split, &r.Category, &r.NumPoints, &r.UniformSampling,
		&r.DistanceThreshold, &r.ScoreThreshold, &r.Neighbors, &r.MatchMode,
		&r.CacheDigest, &r.Shapes, &r.MeanScore, &r.Notes, &params, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	return &r, nil
}

// GetRun returns a single run by ID.
func (s *EvaluationStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM keypoint_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A non-positive limit
// returns every run.
func (s *EvaluationStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM keypoint_runs
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ShapeResults returns a run's shape rows ordered by shape ID.
func (s *EvaluationStore) ShapeResults(runID string) ([]ShapeResult, error) {
	rows, err := s.db.Query(`
		SELECT shape_id, category, num_points, fp, fn, num_keypoints,
		       num_predicted, score, duration_ns
		FROM keypoint_shape_results
		WHERE run_id = ?
		ORDER BY shape_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query shape results: %w", err)
	}
	defer rows.Close()

	var out []ShapeResult
	for rows.Next() {
		var r ShapeResult
		var ns int64
		if err := rows.Scan(&r.ShapeID, &r.Category, &r.NumPoints, &r.FP, &r.FN,
			&r.NumKeypoints, &r.NumPredicted, &r.Score, &ns); err != nil {
			return nil, fmt.Errorf("scan shape result: %w", err)
		}
		r.Duration = time.Duration(ns)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CategoryScores returns a run's category rows ordered by category.
func (s *EvaluationStore) CategoryScores(runID string) ([]CategoryScore, error) {
	rows, err := s.db.Query(`
		SELECT category, shapes, fp, fn, num_keypoints, score
		FROM keypoint_category_scores
		WHERE run_id = ?
		ORDER BY category`, runID)
	if err != nil {
		return nil, fmt.Errorf("query category scores: %w", err)
	}
	defer rows.Close()

	var out []CategoryScore
	for rows.Next() {
		var c CategoryScore
		if err := rows.Scan(&c.Category, &c.Shapes, &c.FP, &c.FN, &c.NumKeypoints, &c.Score); err != nil {
			return nil, fmt.Errorf("scan category score: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, through the foreign keys, its results.
func (s *EvaluationStore) DeleteRun(runID string) error {
	return retryOnBusy(s.clock, func() error {
		result, err := s.db.Exec(`DELETE FROM keypoint_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}
