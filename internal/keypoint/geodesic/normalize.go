package geodesic

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// NormalizePC translates points so their centroid sits at the origin and
// scales them uniformly so the farthest point has unit norm. Distance
// thresholds are expressed in these normalized units.
//
// A cloud whose points all coincide has no scale; it is returned centred
// at the origin.
func NormalizePC(points [][3]float32) [][3]float64 {
	n := len(points)
	if n == 0 {
		return nil
	}

	var axes [3][]float64
	for d := range axes {
		axes[d] = make([]float64, n)
		for i, p := range points {
			axes[d][i] = float64(p[d])
		}
		floats.AddConst(-floats.Sum(axes[d])/float64(n), axes[d])
	}

	norms := make([]float64, n)
	for i := range norms {
		norms[i] = math.Sqrt(axes[0][i]*axes[0][i] + axes[1][i]*axes[1][i] + axes[2][i]*axes[2][i])
	}
	if scale := floats.Max(norms); scale > 0 {
		for d := range axes {
			floats.Scale(1/scale, axes[d])
		}
	}

	out := make([][3]float64, n)
	for i := range out {
		out[i] = [3]float64{axes[0][i], axes[1][i], axes[2][i]}
	}
	return out
}
