package geodesic

import "math"

// assign solves the rectangular minimum-cost assignment problem with the
// Kuhn-Munkres algorithm. Entries of +Inf are forbidden pairs. It returns
// rows[i] = column matched to row i, or -1 when row i stays unmatched.
//
// Forbidden pairs are replaced by a penalty larger than the sum of every
// allowed cost, so the solver first maximizes the number of allowed pairs
// and then minimizes their total cost.
func assign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	rows := make([]int, n)
	for i := range rows {
		rows[i] = -1
	}
	if m == 0 {
		return rows
	}

	dim := max(n, m)
	maxAllowed := 0.0
	for _, r := range cost {
		for _, c := range r {
			if !math.IsInf(c, 1) && c > maxAllowed {
				maxAllowed = c
			}
		}
	}
	penalty := (maxAllowed + 1) * float64(dim+1)

	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			if i < n && j < m && !math.IsInf(cost[i][j], 1) {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = penalty
			}
		}
	}

	// Potentials formulation, 1-indexed with column 0 as the virtual start.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				if cur := c[i0-1][j-1] - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	for j := 1; j <= dim; j++ {
		i := p[j] - 1
		col := j - 1
		if i < 0 || i >= n || col >= m || math.IsInf(cost[i][col], 1) {
			continue
		}
		rows[i] = col
	}
	return rows
}
