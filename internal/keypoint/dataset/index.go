package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/keypoint.report/internal/fsutil"
)

// AnnotationSet maps a shape name to its ground-truth keypoint point indices.
type AnnotationSet map[string][]int

type annotationEntry struct {
	ModelID   string `json:"model_id"`
	ClassID   string `json:"class_id,omitempty"`
	Keypoints []struct {
		SemanticID int `json:"semantic_id,omitempty"`
		PCDInfo    struct {
			PointIndex int `json:"point_index"`
		} `json:"pcd_info"`
	} `json:"keypoints"`
}

// Layout locates the files below a KeypointNet data root.
type Layout struct {
	Root string
}

// ManifestPath returns the split manifest path.
func (l Layout) ManifestPath(split string) string {
	return filepath.Join(l.Root, fmt.Sprintf("keypointnet_%s.txt", split))
}

// AnnotationPath returns the annotation file for a category name.
func (l Layout) AnnotationPath(category string) string {
	return filepath.Join(l.Root, "annotations", category+".json")
}

// PointPath returns the raw point file for a shape.
func (l Layout) PointPath(id ShapeID) string {
	code, name := id.Split()
	return filepath.Join(l.Root, "pcds", code, name+".pcd")
}

// Index resolves splits and categories to shape identifiers and keypoint
// annotations.
type Index struct {
	fs         fsutil.FileSystem
	layout     Layout
	categories *Categories
}

// NewIndex creates an Index over root.
func NewIndex(fs fsutil.FileSystem, root string, categories *Categories) *Index {
	return &Index{fs: fs, layout: Layout{Root: root}, categories: categories}
}

// Layout returns the file layout used by the index.
func (x *Index) Layout() Layout { return x.layout }

// Categories returns the category mapping.
func (x *Index) Categories() *Categories { return x.categories }

// ListShapes reads the split manifest and keeps the identifiers belonging
// to category. "all" keeps every identifier. Manifest order is preserved.
func (x *Index) ListShapes(split, category string) ([]ShapeID, error) {
	var code string
	if category != AllCategories {
		c, err := x.categories.Code(category)
		if err != nil {
			return nil, err
		}
		code = c
	}

	if split == "" || strings.ContainsAny(split, `/\`) {
		return nil, fmt.Errorf("%w: invalid split name %q", ErrManifest, split)
	}
	path := x.layout.ManifestPath(split)
	data, err := x.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	var ids []ShapeID
	for _, line := range strings.Split(string(data), "\n") {
		for _, field := range strings.Fields(line) {
			id := ShapeID(field)
			if code != "" && id.Code() != code {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ResolveAnnotations loads the keypoint annotations for category. For
// "all" it reads annotations/all.json when present and otherwise merges
// every configured category's file.
func (x *Index) ResolveAnnotations(category string) (AnnotationSet, error) {
	if category != AllCategories {
		if _, err := x.categories.Code(category); err != nil {
			return nil, err
		}
		return x.loadAnnotations(x.layout.AnnotationPath(category))
	}

	allPath := x.layout.AnnotationPath(AllCategories)
	if x.fs.Exists(allPath) {
		return x.loadAnnotations(allPath)
	}

	merged := make(AnnotationSet)
	owner := make(map[string]string)
	for _, name := range x.categories.Names() {
		set, err := x.loadAnnotations(x.layout.AnnotationPath(name))
		if err != nil {
			if errors.Is(err, errAnnotationsMissing) {
				continue
			}
			return nil, err
		}
		for model, kps := range set {
			if prev, dup := owner[model]; dup {
				return nil, fmt.Errorf("%w: model %s annotated in both %s and %s", ErrAnnotations, model, prev, name)
			}
			owner[model] = name
			merged[model] = kps
		}
	}
	return merged, nil
}

var errAnnotationsMissing = errors.New("annotation file missing")

func (x *Index) loadAnnotations(path string) (AnnotationSet, error) {
	if !x.fs.Exists(path) {
		return nil, fmt.Errorf("%w: %w: %s", ErrAnnotations, errAnnotationsMissing, path)
	}
	data, err := x.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnnotations, err)
	}

	var entries []annotationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAnnotations, path, err)
	}

	set := make(AnnotationSet, len(entries))
	for _, e := range entries {
		kps := make([]int, 0, len(e.Keypoints))
		for _, kp := range e.Keypoints {
			kps = append(kps, kp.PCDInfo.PointIndex)
		}
		set[e.ModelID] = kps
	}
	return set, nil
}

// Selection is an ordered list of shapes repeated Loop times, the view a
// data loader iterates over.
type Selection struct {
	IDs  []ShapeID
	Loop int
}

// Len returns len(IDs) * Loop.
func (s Selection) Len() int {
	loop := s.Loop
	if loop < 1 {
		loop = 1
	}
	return len(s.IDs) * loop
}

// At returns the shape for a loader index, wrapping modulo the shape count.
func (s Selection) At(i int) ShapeID {
	return s.IDs[i%len(s.IDs)]
}
