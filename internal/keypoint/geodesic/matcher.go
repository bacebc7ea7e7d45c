package geodesic

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrLengthMismatch reports evaluator inputs of different lengths.
	ErrLengthMismatch = errors.New("geodesic: input length mismatch")
	// ErrTooManyPoints reports a shape above the configured point ceiling.
	ErrTooManyPoints = errors.New("geodesic: too many points")
)

// MatchMode selects how predicted and ground-truth keypoints are paired.
type MatchMode string

const (
	// MatchAny counts a keypoint as matched when any keypoint on the other
	// side lies within the distance threshold. One keypoint may cover many.
	MatchAny MatchMode = "any"
	// MatchAssignment pairs keypoints one-to-one, maximizing the number of
	// pairs within the distance threshold.
	MatchAssignment MatchMode = "assignment"
)

// Options parameterizes FPFNGeodist.
type Options struct {
	// DistanceThreshold is the geodesic radius, in normalized units, within
	// which two keypoints match.
	DistanceThreshold float64
	// ScoreThreshold selects predicted keypoints: score > ScoreThreshold.
	ScoreThreshold float64
	// Neighbors is the k of the k-NN graph.
	Neighbors int
	// MaxPoints rejects larger shapes when positive.
	MaxPoints int
	Mode      MatchMode
}

// DefaultOptions returns the reference evaluation settings.
func DefaultOptions() Options {
	return Options{
		DistanceThreshold: 0.1,
		ScoreThreshold:    0.1,
		Neighbors:         DefaultNeighbors,
		Mode:              MatchAny,
	}
}

// Result is the per-shape outcome.
type Result struct {
	FP           int
	FN           int
	NumKeypoints int
	NumPredicted int
}

// FPFNGeodist counts false positives and false negatives for one shape.
//
// Ground-truth keypoints are the indices where target is positive; the -1
// ignore label never counts. Predicted keypoints are the indices whose
// score exceeds opts.ScoreThreshold. A prediction farther than
// opts.DistanceThreshold (geodesically, on the normalized cloud) from every
// ground-truth keypoint is a false positive; a ground-truth keypoint
// farther than the threshold from every prediction is a false negative.
//
// Empty keypoint sets are resolved without building the graph.
func FPFNGeodist(target []int32, scores []float32, coord [][3]float32, opts Options) (Result, error) {
	if len(target) != len(coord) || len(scores) != len(coord) {
		return Result{}, fmt.Errorf("%w: target=%d scores=%d coord=%d",
			ErrLengthMismatch, len(target), len(scores), len(coord))
	}

	var gt, pred []int
	for i, t := range target {
		if t > 0 {
			gt = append(gt, i)
		}
	}
	cutoff := float32(opts.ScoreThreshold)
	for i, s := range scores {
		if s > cutoff {
			pred = append(pred, i)
		}
	}

	res := Result{NumKeypoints: len(gt), NumPredicted: len(pred)}
	switch {
	case len(gt) == 0:
		res.FP = len(pred)
		return res, nil
	case len(pred) == 0:
		res.FN = len(gt)
		return res, nil
	}

	if opts.MaxPoints > 0 && len(coord) > opts.MaxPoints {
		return Result{}, fmt.Errorf("%w: %d > %d", ErrTooManyPoints, len(coord), opts.MaxPoints)
	}
	k := opts.Neighbors
	if k <= 0 {
		k = DefaultNeighbors
	}

	g := KNNGraph(NormalizePC(coord), k)
	rows := DistancesFrom(g, gt)

	if opts.Mode == MatchAssignment {
		matched := matchAssignment(rows, pred, opts.DistanceThreshold)
		res.FP = len(pred) - matched
		res.FN = len(gt) - matched
		return res, nil
	}

	res.FP, res.FN = matchAny(rows, pred, opts.DistanceThreshold)
	return res, nil
}

// matchAny applies the any-neighbour rule. rows[g][i] is the distance from
// ground-truth keypoint g to point i.
func matchAny(rows [][]float64, pred []int, thresh float64) (fp, fn int) {
	covered := make([]bool, len(pred))
	for _, row := range rows {
		hit := false
		for j, p := range pred {
			if row[p] <= thresh {
				covered[j] = true
				hit = true
			}
		}
		if !hit {
			fn++
		}
	}
	for _, c := range covered {
		if !c {
			fp++
		}
	}
	return fp, fn
}

func matchAssignment(rows [][]float64, pred []int, thresh float64) int {
	inf := math.Inf(1)
	cost := make([][]float64, len(rows))
	for g, row := range rows {
		cost[g] = make([]float64, len(pred))
		for j, p := range pred {
			if d := row[p]; d <= thresh {
				cost[g][j] = d
			} else {
				cost[g][j] = inf
			}
		}
	}

	matched := 0
	for _, col := range assign(cost) {
		if col >= 0 {
			matched++
		}
	}
	return matched
}
