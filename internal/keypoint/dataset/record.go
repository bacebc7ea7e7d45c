// Package dataset prepares KeypointNet point-cloud records: it resolves a
// split and category to shape identifiers, parses the raw point files,
// attaches the keypoint mask and caches the resulting records on disk.
package dataset

import (
	"errors"
	"strings"
)

// Error taxonomy. Configuration errors surface immediately; parse errors
// abort a whole cache build.
var (
	ErrUnknownCategory    = errors.New("dataset: unknown category")
	ErrManifest           = errors.New("dataset: bad split manifest")
	ErrAnnotations        = errors.New("dataset: bad annotation file")
	ErrKeypointOutOfRange = errors.New("dataset: keypoint index out of range")
	ErrCacheTable         = errors.New("dataset: bad cache table")
)

// Segment labels.
const (
	SegmentBackground int32 = 0
	SegmentKeypoint   int32 = 1
	SegmentIgnore     int32 = -1
)

// Record is one prepared shape. Coord, Color and Segment are index-aligned.
type Record struct {
	Coord    [][3]float32
	Color    [][3]uint8
	Category string // category code
	Segment  []int32
	Name     string // shape name without the category prefix
}

// Len returns the number of points.
func (r *Record) Len() int { return len(r.Coord) }

// KeypointIndices returns the positions flagged as keypoints.
func (r *Record) KeypointIndices() []int {
	var idx []int
	for i, s := range r.Segment {
		if s == SegmentKeypoint {
			idx = append(idx, i)
		}
	}
	return idx
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	out := &Record{
		Coord:    make([][3]float32, len(r.Coord)),
		Color:    make([][3]uint8, len(r.Color)),
		Category: r.Category,
		Segment:  make([]int32, len(r.Segment)),
		Name:     r.Name,
	}
	copy(out.Coord, r.Coord)
	copy(out.Color, r.Color)
	copy(out.Segment, r.Segment)
	return out
}

// ShapeID identifies a shape as "<category-code>-<shape-name>".
type ShapeID string

// Split separates the category code from the shape name. The code is
// the text before the first "-" and the name the text after the last, so
// "02691156-a-b" has name "b".
func (id ShapeID) Split() (code, name string) {
	s := strings.TrimSpace(string(id))
	code, _, ok := strings.Cut(s, "-")
	if !ok {
		return "", s
	}
	return code, s[strings.LastIndex(s, "-")+1:]
}

// Code returns the category code prefix.
func (id ShapeID) Code() string {
	code, _ := id.Split()
	return code
}

// Name returns the shape name.
func (id ShapeID) Name() string {
	_, name := id.Split()
	return name
}
