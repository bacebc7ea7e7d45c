package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/keypoint.report/internal/db"
	"github.com/banshee-data/keypoint.report/internal/fsutil"
	"github.com/banshee-data/keypoint.report/internal/keypoint/dataset"
	"github.com/banshee-data/keypoint.report/internal/keypoint/evaluate"
	"github.com/banshee-data/keypoint.report/internal/keypoint/storage/sqlite"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// gridPCD is a 10x10 planar grid with packed colours.
func gridPCD() string {
	var b strings.Builder
	b.WriteString("VERSION 0.7\nFIELDS x y z rgb\nPOINTS 100\nDATA ascii\n")
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			fmt.Fprintf(&b, "%g %g 0 %d\n", float64(i)*0.1, float64(j)*0.1, 0x336699)
		}
	}
	return b.String()
}

// newFixture writes a one-shape dataset, its config and a predictions file
// that finds both keypoints.
func newFixture(t *testing.T) (cfgPath, predPath string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "keypointnet")

	writeTestFile(t, filepath.Join(root, "keypointnet_test.txt"), "02691156-aaa\n")
	writeTestFile(t, filepath.Join(root, "pcds", "02691156", "aaa.pcd"), gridPCD())
	writeTestFile(t, filepath.Join(root, "annotations", "airplane.json"),
		`[{"model_id":"aaa","keypoints":[{"pcd_info":{"point_index":0}},{"pcd_info":{"point_index":99}}]}]`)

	cfg := map[string]interface{}{
		"data_root":      root,
		"split":          "test",
		"category":       "airplane",
		"neighbors":      8,
		"workers":        2,
		"class_id2names": map[string]string{"02691156": "airplane"},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	cfgPath = filepath.Join(dir, "config.json")
	writeTestFile(t, cfgPath, string(data))

	scores := make([]float32, 100)
	scores[0], scores[99] = 1, 0.9
	data, err = json.Marshal(map[string][]float32{"02691156-aaa": scores})
	require.NoError(t, err)
	predPath = filepath.Join(dir, "predictions.json")
	writeTestFile(t, predPath, string(data))
	return cfgPath, predPath
}

func TestPrepare(t *testing.T) {
	cfgPath, _ := newFixture(t)

	var out bytes.Buffer
	require.NoError(t, runPrepare([]string{"-config", cfgPath}, &out))
	assert.Contains(t, out.String(), "1 records (1 samples)")
	assert.Contains(t, out.String(), "keypointnet_test_airplane_")

	// Second run loads the persisted table.
	out.Reset()
	require.NoError(t, runPrepare([]string{"-config", cfgPath}, &out))
	assert.Contains(t, out.String(), "1 records")
}

func TestPrepare_UnknownCategory(t *testing.T) {
	cfgPath, _ := newFixture(t)
	err := runPrepare([]string{"-config", cfgPath, "-category", "boat"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	cfgPath, predPath := newFixture(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	pngPath := filepath.Join(dir, "scores.png")
	htmlPath := filepath.Join(dir, "scores.html")

	var out bytes.Buffer
	err := runEvaluate([]string{
		"-config", cfgPath,
		"-predictions", predPath,
		"-db", dbPath,
		"-plot", pngPath,
		"-html", htmlPath,
		"-notes", "smoke",
	}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Class_airplane     Result: iou 1.0000")
	assert.Contains(t, out.String(), "Val result: mIoU 1.0000 over 1 categories")
	assert.FileExists(t, pngPath)
	assert.FileExists(t, htmlPath)

	store, err := db.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := sqlite.NewEvaluationStore(store.DB).ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "smoke", runs[0].Notes)
	assert.Equal(t, 1, runs[0].Shapes)
	assert.InDelta(t, 1.0, runs[0].MeanScore, 1e-9)
	assert.Equal(t, 8, runs[0].Neighbors)
	assert.Contains(t, out.String(), "Saved run "+runs[0].RunID)
}

func TestEvaluate_RequiresPredictions(t *testing.T) {
	cfgPath, predPath := newFixture(t)
	err := runEvaluate([]string{"-config", cfgPath}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "-predictions")

	err = runEvaluate([]string{"-config", cfgPath, "-predictions", predPath, "-predictor-addr", "127.0.0.1:1"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "exactly one")
}

// startPredictor serves p on a loopback port until the test ends.
func startPredictor(t *testing.T, p evaluate.Predictor) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- servePredictor(ctx, lis, p) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return lis.Addr().String()
}

// setTransform rewrites the fixture config with a transform pipeline.
func setTransform(t *testing.T, cfgPath string, steps []map[string]interface{}) {
	t.Helper()
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &cfg))
	cfg["transform"] = steps
	data, err = json.Marshal(cfg)
	require.NoError(t, err)
	writeTestFile(t, cfgPath, string(data))
}

func TestEvaluate_PredictorServiceWithTransform(t *testing.T) {
	cfgPath, predPath := newFixture(t)
	setTransform(t, cfgPath, []map[string]interface{}{
		{"type": "center_shift", "apply_z": true},
		{"type": "scale", "factor": 10},
	})
	scores, err := evaluate.LoadScoreFile(fsutil.OSFileSystem{}, predPath)
	require.NoError(t, err)

	var mu sync.Mutex
	var maxX float32
	addr := startPredictor(t, evaluate.PredictorFunc(func(ctx context.Context, id dataset.ShapeID, rec *dataset.Record) ([]float32, error) {
		mu.Lock()
		for _, p := range rec.Coord {
			maxX = max(maxX, p[0])
		}
		mu.Unlock()
		return scores.Predict(ctx, id, rec)
	}))

	var out bytes.Buffer
	require.NoError(t, runEvaluate([]string{"-config", cfgPath, "-predictor-addr", addr}, &out))
	assert.Contains(t, out.String(), "Class_airplane     Result: iou 1.0000")

	mu.Lock()
	defer mu.Unlock()
	assert.InDelta(t, 4.5, maxX, 1e-4, "predictor should see the centred and scaled cloud")
}

func TestEvaluate_InvalidTransform(t *testing.T) {
	cfgPath, predPath := newFixture(t)
	setTransform(t, cfgPath, []map[string]interface{}{{"type": "rotate"}})
	err := runEvaluate([]string{"-config", cfgPath, "-predictions", predPath}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown type")
}

func TestServe_RequiresPredictions(t *testing.T) {
	assert.ErrorContains(t, runServe(nil, &bytes.Buffer{}), "-predictions")
	assert.Error(t, runServe([]string{"-predictions", filepath.Join(t.TempDir(), "missing.json")}, &bytes.Buffer{}))
}

func TestRuns(t *testing.T) {
	cfgPath, predPath := newFixture(t)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	var out bytes.Buffer
	require.NoError(t, runRuns([]string{"-db", dbPath, "list"}, &out))
	assert.Equal(t, "No runs stored\n", out.String())

	require.NoError(t, runEvaluate([]string{
		"-config", cfgPath, "-predictions", predPath, "-db", dbPath, "-notes", "nightly",
	}, &bytes.Buffer{}))

	out.Reset()
	require.NoError(t, runRuns([]string{"-db", dbPath, "list"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[1])
	runID := fields[0]
	assert.Equal(t, []string{"test", "airplane", "1", "1.0000"}, fields[1:5])

	out.Reset()
	require.NoError(t, runRuns([]string{"-db", dbPath, "show", runID}, &out))
	assert.Contains(t, out.String(), "Run "+runID)
	assert.Contains(t, out.String(), "notes: nightly")
	assert.Contains(t, out.String(), "Class_airplane     Result: iou 1.0000")
	assert.Contains(t, out.String(), "02691156-aaa")

	out.Reset()
	require.NoError(t, runRuns([]string{"-db", dbPath, "delete", runID}, &out))
	assert.Equal(t, "Deleted run "+runID+"\n", out.String())

	assert.ErrorIs(t, runRuns([]string{"-db", dbPath, "show", runID}, &out), sqlite.ErrRunNotFound)
	assert.ErrorIs(t, runRuns([]string{"-db", dbPath, "delete", runID}, &out), sqlite.ErrRunNotFound)
	assert.Error(t, runRuns([]string{"-db", dbPath, "show"}, &out))
	assert.Error(t, runRuns([]string{"-db", dbPath, "rename"}, &out))
	assert.Error(t, runRuns([]string{"-db", dbPath}, &out))
}

func TestRuns_AdminRoutes(t *testing.T) {
	store, err := db.OpenMigrated(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	mux, err := adminMux(store, "runs.db")
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/tailsql/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	var out bytes.Buffer
	require.NoError(t, runMigrate([]string{"-db", dbPath, "up"}, &out))
	assert.Equal(t, "schema version 2 (dirty: false)\n", out.String())

	out.Reset()
	require.NoError(t, runMigrate([]string{"-db", dbPath, "down"}, &out))
	assert.Equal(t, "schema version 1 (dirty: false)\n", out.String())

	out.Reset()
	require.NoError(t, runMigrate([]string{"-db", dbPath, "version"}, &out))
	assert.Equal(t, "schema version 1 (dirty: false)\n", out.String())

	assert.Error(t, runMigrate([]string{"-db", dbPath, "sideways"}, &out))
	assert.Error(t, runMigrate([]string{"-db", dbPath}, &out))
}
