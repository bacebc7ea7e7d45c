// Package sampling selects point subsets for fixed-size records.
package sampling

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrTooFewPoints is returned when more points are requested than exist.
var ErrTooFewPoints = errors.New("sampling: target exceeds point count")

// FarthestPoint greedily picks target indices from points, starting at
// index 0. Each step picks the point whose squared distance to the
// selected set is largest; ties go to the lowest index, so the result is
// deterministic for a given input order. Selected points are parked at
// -1 so duplicates of a selected point can still be picked.
func FarthestPoint(points [][3]float32, target int) ([]int, error) {
	n := len(points)
	if target < 0 {
		return nil, fmt.Errorf("sampling: negative target %d", target)
	}
	if target > n {
		return nil, fmt.Errorf("%w: want %d of %d", ErrTooFewPoints, target, n)
	}
	if target == 0 {
		return []int{}, nil
	}

	selected := make([]int, 0, target)
	minDist := make([]float64, n)
	for i := range minDist {
		minDist[i] = math.Inf(1)
	}

	last := 0
	selected = append(selected, last)
	minDist[last] = -1
	for len(selected) < target {
		p := points[last]
		for i, q := range points {
			if minDist[i] < 0 {
				continue
			}
			dx := float64(q[0] - p[0])
			dy := float64(q[1] - p[1])
			dz := float64(q[2] - p[2])
			if d := dx*dx + dy*dy + dz*dz; d < minDist[i] {
				minDist[i] = d
			}
		}
		last = floats.MaxIdx(minDist)
		selected = append(selected, last)
		minDist[last] = -1
	}
	return selected, nil
}

// Truncate keeps the first target indices.
func Truncate(n, target int) ([]int, error) {
	if target < 0 {
		return nil, fmt.Errorf("sampling: negative target %d", target)
	}
	if target > n {
		return nil, fmt.Errorf("%w: want %d of %d", ErrTooFewPoints, target, n)
	}
	idx := make([]int, target)
	for i := range idx {
		idx[i] = i
	}
	return idx, nil
}
