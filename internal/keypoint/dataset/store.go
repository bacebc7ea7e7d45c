package dataset

import (
	"fmt"

	"github.com/banshee-data/keypoint.report/internal/fsutil"
	"github.com/banshee-data/keypoint.report/internal/keypoint/pcd"
	"github.com/banshee-data/keypoint.report/internal/keypoint/sampling"
)

// SamplingOptions controls point-count normalisation at record creation.
type SamplingOptions struct {
	// NumPoints is the target point count; 0 keeps every point.
	NumPoints int
	// Uniform selects farthest-point sampling; otherwise the first
	// NumPoints points are kept.
	Uniform bool
}

// RecordStore turns a raw point file plus its annotations into a Record.
type RecordStore struct {
	fs          fsutil.FileSystem
	layout      Layout
	annotations AnnotationSet
	sampling    SamplingOptions
}

// NewRecordStore creates a RecordStore reading from layout.
func NewRecordStore(fs fsutil.FileSystem, layout Layout, annotations AnnotationSet, opts SamplingOptions) *RecordStore {
	return &RecordStore{fs: fs, layout: layout, annotations: annotations, sampling: opts}
}

// Build parses one shape, resamples it and lays the keypoint mask over the
// resampled cloud. Annotation indices address the final point order; an
// index outside [0, N) of the resampled cloud is ErrKeypointOutOfRange.
func (s *RecordStore) Build(id ShapeID) (*Record, error) {
	code, name := id.Split()

	data, err := s.fs.ReadFile(s.layout.PointPath(id))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	cloud, err := pcd.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", id, err)
	}

	keypoints, ok := s.annotations[name]
	if !ok {
		return nil, fmt.Errorf("%w: no keypoints for %s", ErrAnnotations, id)
	}

	if s.sampling.NumPoints > 0 {
		var idx []int
		if s.sampling.Uniform {
			idx, err = sampling.FarthestPoint(cloud.Coord, s.sampling.NumPoints)
		} else {
			idx, err = sampling.Truncate(cloud.Len(), s.sampling.NumPoints)
		}
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", id, err)
		}
		cloud = cloud.Select(idx)
	}

	segment, err := buildSegment(cloud.Len(), keypoints)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	return &Record{
		Coord:    cloud.Coord,
		Color:    cloud.Color,
		Category: code,
		Segment:  segment,
		Name:     name,
	}, nil
}

// buildSegment returns a zero mask of length n with keypoints set to 1.
func buildSegment(n int, keypoints []int) ([]int32, error) {
	segment := make([]int32, n)
	for _, k := range keypoints {
		if k < 0 || k >= n {
			return nil, fmt.Errorf("%w: index %d for %d points", ErrKeypointOutOfRange, k, n)
		}
		segment[k] = SegmentKeypoint
	}
	return segment, nil
}
