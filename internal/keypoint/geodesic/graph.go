package geodesic

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// DefaultNeighbors is the k of the k-nearest-neighbour graph.
const DefaultNeighbors = 20

// vertex is a point tagged with its position in the caller's slice;
// kdtree.New reorders its input in place.
type vertex struct {
	p   [3]float64
	idx int
}

func (v vertex) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return v.p[d] - c.(vertex).p[d]
}

func (v vertex) Dims() int { return 3 }

// Distance is the squared Euclidean distance, as kdtree expects.
func (v vertex) Distance(c kdtree.Comparable) float64 {
	q := c.(vertex)
	dx, dy, dz := v.p[0]-q.p[0], v.p[1]-q.p[1], v.p[2]-q.p[2]
	return dx*dx + dy*dy + dz*dz
}

type vertices []vertex

func (s vertices) Index(i int) kdtree.Comparable         { return s[i] }
func (s vertices) Len() int                              { return len(s) }
func (s vertices) Slice(start, end int) kdtree.Interface { return s[start:end] }
func (s vertices) Pivot(d kdtree.Dim) int {
	return plane{Dim: d, vertices: s}.Pivot()
}

// plane sorts vertices along one dimension for median selection.
type plane struct {
	kdtree.Dim
	vertices
}

func (p plane) Less(i, j int) bool { return p.vertices[i].p[p.Dim] < p.vertices[j].p[p.Dim] }
func (p plane) Swap(i, j int)      { p.vertices[i], p.vertices[j] = p.vertices[j], p.vertices[i] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{Dim: p.Dim, vertices: p.vertices[start:end]}
}

// KNNGraph links every point to its k nearest neighbours with edges
// weighted by Euclidean distance. The directed neighbour relation is
// symmetrized: an edge exists if either endpoint lists the other. Node IDs
// are point indices and there are no self-loops.
func KNNGraph(points [][3]float64, k int) *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range points {
		g.AddNode(simple.Node(int64(i)))
	}
	if len(points) < 2 || k < 1 {
		return g
	}

	data := make(vertices, len(points))
	for i, p := range points {
		data[i] = vertex{p: p, idx: i}
	}
	tree := kdtree.New(data, false)

	for i, p := range points {
		// One extra slot for the query point itself.
		keep := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(keep, vertex{p: p, idx: i})
		sort.Slice(keep.Heap, func(a, b int) bool { return keep.Heap[a].Dist < keep.Heap[b].Dist })

		added := 0
		for _, cd := range keep.Heap {
			if cd.Comparable == nil {
				continue
			}
			nb := cd.Comparable.(vertex)
			if nb.idx == i || added == k {
				continue
			}
			added++
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(int64(i)), simple.Node(int64(nb.idx)), math.Sqrt(cd.Dist)))
		}
	}
	return g
}

// GeoDists returns the all-pairs geodesic distance matrix of points over
// their k-NN graph. Pairs in different graph components are +Inf.
func GeoDists(points [][3]float64, k int) *mat.SymDense {
	n := len(points)
	if n == 0 {
		return &mat.SymDense{}
	}
	g := KNNGraph(points, k)
	all := path.DijkstraAllPaths(g)

	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d.SetSym(i, j, all.Weight(int64(i), int64(j)))
		}
	}
	return d
}

// DistancesFrom runs single-source shortest paths from each source and
// returns one row of geodesic distances per source. Row i equals row
// sources[i] of GeoDists over the same graph.
func DistancesFrom(g *simple.WeightedUndirectedGraph, sources []int) [][]float64 {
	n := g.Nodes().Len()
	rows := make([][]float64, len(sources))
	for r, s := range sources {
		sp := path.DijkstraFrom(simple.Node(int64(s)), g)
		row := make([]float64, n)
		for j := range row {
			row[j] = sp.WeightTo(int64(j))
		}
		rows[r] = row
	}
	return rows
}
