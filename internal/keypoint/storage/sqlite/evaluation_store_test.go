package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/keypoint.report/internal/db"
	"github.com/banshee-data/keypoint.report/internal/timeutil"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.OpenMigrated(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d.DB
}

func sampleRun() *Run {
	return &Run{
		Split:             "test",
		Category:          "airplane",
		NumPoints:         2048,
		UniformSampling:   true,
		DistanceThreshold: 0.1,
		ScoreThreshold:    0.1,
		Neighbors:         20,
		MatchMode:         "any",
		CacheDigest:       "0123456789ab",
		Shapes:            2,
		MeanScore:         0.75,
		ParamsJSON:        json.RawMessage(`{"workers":4}`),
	}
}

func TestEvaluationStore_SaveAndGet(t *testing.T) {
	store := NewEvaluationStore(setupTestDB(t))

	run := sampleRun()
	shapes := []ShapeResult{
		{ShapeID: "02691156-bbb", Category: "airplane", NumPoints: 2048, FP: 0, FN: 1, NumKeypoints: 3, NumPredicted: 2, Score: 2.0 / 3.0, Duration: 15 * time.Millisecond},
		{ShapeID: "02691156-aaa", Category: "airplane", NumPoints: 2048, FP: 1, FN: 0, NumKeypoints: 2, NumPredicted: 3, Score: 2.0 / 3.0, Duration: 12 * time.Millisecond},
	}
	cats := []CategoryScore{{Category: "airplane", Shapes: 2, FP: 1, FN: 1, NumKeypoints: 5, Score: 4.0 / 6.0}}

	require.NoError(t, store.SaveRun(run, shapes, cats))
	require.NotEmpty(t, run.RunID)
	require.NotZero(t, run.CreatedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	gotShapes, err := store.ShapeResults(run.RunID)
	require.NoError(t, err)
	require.Len(t, gotShapes, 2)
	assert.Equal(t, "02691156-aaa", gotShapes[0].ShapeID, "ordered by shape id")
	assert.Equal(t, shapes[1], gotShapes[0])

	gotCats, err := store.CategoryScores(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, cats, gotCats)
}

func TestEvaluationStore_CreatedAtFromClock(t *testing.T) {
	store := NewEvaluationStore(setupTestDB(t))
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	store.clock = timeutil.NewMockClock(at)

	run := sampleRun()
	require.NoError(t, store.SaveRun(run, nil, nil))
	assert.Equal(t, at.UnixNano(), run.CreatedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, at.UnixNano(), got.CreatedAt)
}

func TestEvaluationStore_ListRuns(t *testing.T) {
	store := NewEvaluationStore(setupTestDB(t))

	for i := 0; i < 3; i++ {
		run := sampleRun()
		run.CreatedAt = int64(1000 + i)
		run.Notes = "run"
		require.NoError(t, store.SaveRun(run, nil, nil))
	}

	all, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1002), all[0].CreatedAt, "newest first")

	latest, err := store.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

func TestEvaluationStore_DeleteCascades(t *testing.T) {
	store := NewEvaluationStore(setupTestDB(t))
	run := sampleRun()
	require.NoError(t, store.SaveRun(run,
		[]ShapeResult{{ShapeID: "02691156-aaa", Category: "airplane"}},
		[]CategoryScore{{Category: "airplane"}}))

	require.NoError(t, store.DeleteRun(run.RunID))

	_, err := store.GetRun(run.RunID)
	assert.True(t, errors.Is(err, ErrRunNotFound))
	shapes, err := store.ShapeResults(run.RunID)
	require.NoError(t, err)
	assert.Empty(t, shapes)

	err = store.DeleteRun(run.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestEvaluationStore_DuplicateShapeRollsBack(t *testing.T) {
	store := NewEvaluationStore(setupTestDB(t))
	run := sampleRun()
	dup := ShapeResult{ShapeID: "02691156-aaa", Category: "airplane"}

	err := store.SaveRun(run, []ShapeResult{dup, dup}, nil)
	require.Error(t, err)

	_, err = store.GetRun(run.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound, "failed save must not leave a run behind")
}
