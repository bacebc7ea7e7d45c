// Package transform is the boundary to the geometric augmentation pipeline.
// Transforms are plain functions over a record; Compose chains them.
package transform

import (
	"fmt"

	"github.com/banshee-data/keypoint.report/internal/keypoint/dataset"
)

// Func transforms a record. Implementations may modify the record they are
// given, so callers pass a copy when the input is shared.
type Func func(*dataset.Record) (*dataset.Record, error)

// Step types understood by Build.
const (
	StepCenterShift = "center_shift"
	StepScale       = "scale"
)

// Step describes one configured transform.
type Step struct {
	Type   string
	ApplyZ bool
	Factor float32
}

// Build composes steps into a single Func. No steps yields nil.
func Build(steps []Step) (Func, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	fns := make([]Func, 0, len(steps))
	for i, s := range steps {
		switch s.Type {
		case StepCenterShift:
			fns = append(fns, CenterShift(s.ApplyZ))
		case StepScale:
			if s.Factor <= 0 {
				return nil, fmt.Errorf("step %d: scale factor must be positive, got %v", i, s.Factor)
			}
			fns = append(fns, Scale(s.Factor))
		default:
			return nil, fmt.Errorf("step %d: unknown transform %q", i, s.Type)
		}
	}
	return Compose(fns...), nil
}

// Compose chains fns left to right. A nil Func is skipped.
func Compose(fns ...Func) Func {
	return func(rec *dataset.Record) (*dataset.Record, error) {
		var err error
		for i, fn := range fns {
			if fn == nil {
				continue
			}
			if rec, err = fn(rec); err != nil {
				return nil, fmt.Errorf("transform %d: %w", i, err)
			}
			if rec == nil {
				return nil, fmt.Errorf("transform %d returned no record", i)
			}
		}
		return rec, nil
	}
}

// CenterShift moves the bounding-box centre of the cloud to the origin.
// With applyZ unset the minimum z is moved to zero instead.
func CenterShift(applyZ bool) Func {
	return func(rec *dataset.Record) (*dataset.Record, error) {
		if rec.Len() == 0 {
			return rec, nil
		}
		lo, hi := rec.Coord[0], rec.Coord[0]
		for _, p := range rec.Coord[1:] {
			for d := 0; d < 3; d++ {
				lo[d] = min(lo[d], p[d])
				hi[d] = max(hi[d], p[d])
			}
		}
		shift := [3]float32{(lo[0] + hi[0]) / 2, (lo[1] + hi[1]) / 2, lo[2]}
		if applyZ {
			shift[2] = (lo[2] + hi[2]) / 2
		}
		for i := range rec.Coord {
			for d := 0; d < 3; d++ {
				rec.Coord[i][d] -= shift[d]
			}
		}
		return rec, nil
	}
}

// Scale multiplies every coordinate by factor.
func Scale(factor float32) Func {
	return func(rec *dataset.Record) (*dataset.Record, error) {
		if factor <= 0 {
			return nil, fmt.Errorf("scale factor must be positive, got %v", factor)
		}
		for i := range rec.Coord {
			for d := 0; d < 3; d++ {
				rec.Coord[i][d] *= factor
			}
		}
		return rec, nil
	}
}
