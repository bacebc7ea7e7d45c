package dataset

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/keypoint.report/internal/fsutil"
)

const testRoot = "/data/keypointnet"

var testClasses = map[string]string{
	"02691156": "airplane",
	"03001627": "chair",
}

func testCategories(t *testing.T) *Categories {
	t.Helper()
	c, err := NewCategories(testClasses)
	if err != nil {
		t.Fatalf("NewCategories: %v", err)
	}
	return c
}

// pcdText renders n points on a line with packed colours.
func pcdText(n int) string {
	var b strings.Builder
	b.WriteString("VERSION 0.7\nFIELDS x y z rgb\n")
	fmt.Fprintf(&b, "POINTS %d\nDATA ascii\n", n)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d %d 0 %d\n", i, i%3, (i*7919)&0xFFFFFF)
	}
	return b.String()
}

func writeFile(t *testing.T, fs *fsutil.MemoryFileSystem, path, content string) {
	t.Helper()
	if err := fs.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeShape(t *testing.T, fs *fsutil.MemoryFileSystem, id ShapeID, n int) {
	t.Helper()
	writeFile(t, fs, Layout{Root: testRoot}.PointPath(id), pcdText(n))
}

func writeAnnotations(t *testing.T, fs *fsutil.MemoryFileSystem, category string, set map[string][]int) {
	t.Helper()
	type pcdInfo struct {
		PointIndex int `json:"point_index"`
	}
	type kp struct {
		PCDInfo pcdInfo `json:"pcd_info"`
	}
	type entry struct {
		ModelID   string `json:"model_id"`
		Keypoints []kp   `json:"keypoints"`
	}
	var entries []entry
	for model, idx := range set {
		e := entry{ModelID: model}
		for _, i := range idx {
			e.Keypoints = append(e.Keypoints, kp{PCDInfo: pcdInfo{PointIndex: i}})
		}
		entries = append(entries, e)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, fs, filepath.Join(testRoot, "annotations", category+".json"), string(data))
}

// newTestTree lays out two airplanes and one chair in the test split.
func newTestTree(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	writeFile(t, fs, filepath.Join(testRoot, "keypointnet_test.txt"),
		"02691156-aaa\n03001627-ccc\n02691156-bbb\n")
	writeShape(t, fs, "02691156-aaa", 20)
	writeShape(t, fs, "02691156-bbb", 30)
	writeShape(t, fs, "03001627-ccc", 25)
	writeAnnotations(t, fs, "airplane", map[string][]int{"aaa": {0, 5, 19}, "bbb": {1, 2}})
	writeAnnotations(t, fs, "chair", map[string][]int{"ccc": {24}})
	return fs
}

// countingBuilder records Build calls and can be told to fail.
type countingBuilder struct {
	inner Builder
	calls map[ShapeID]int
	fail  error
}

func (b *countingBuilder) Build(id ShapeID) (*Record, error) {
	if b.calls == nil {
		b.calls = make(map[ShapeID]int)
	}
	b.calls[id]++
	if b.fail != nil {
		return nil, b.fail
	}
	return b.inner.Build(id)
}
