package spatial

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDTree answers radius queries with a gonum k-d tree.
type KDTree struct {
	tree *kdtree.Tree
	n    int
}

// NewKDTree builds a tree over points. The coordinate slices are shared,
// not copied.
func NewKDTree(points [][]float64) *KDTree {
	t := &KDTree{n: len(points)}
	if len(points) == 0 || len(points[0]) == 0 {
		return t
	}
	pts := make(kdPoints, len(points))
	for i, p := range points {
		pts[i] = kdPoint{pos: p, idx: i}
	}
	t.tree = kdtree.New(pts, false)
	return t
}

func (t *KDTree) Within(p []float64, r float64) []int {
	if t.tree == nil {
		return nil
	}
	k := &radiusKeeper{r2: r * r}
	t.tree.NearestSet(k, kdPoint{pos: p, idx: -1})
	if len(k.hits) == 0 {
		return nil
	}
	out := make([]int, len(k.hits))
	for i, h := range k.hits {
		out[i] = h.Comparable.(kdPoint).idx
	}
	sort.Ints(out)
	return out
}

func (t *KDTree) Len() int {
	return t.n
}

// kdPoint is a point tagged with its position in the input slice.
type kdPoint struct {
	pos []float64
	idx int
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.pos[d] - c.(kdPoint).pos[d]
}

func (p kdPoint) Dims() int {
	return len(p.pos)
}

// Distance is squared, as kdtree expects.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	return SquaredL2(p.pos, c.(kdPoint).pos)
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p kdPoints) Len() int                              { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int                { return kdPlane{points: p, dim: d}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// kdPlane orders points along one dimension for median partitioning.
type kdPlane struct {
	points kdPoints
	dim    kdtree.Dim
}

func (p kdPlane) Len() int           { return len(p.points) }
func (p kdPlane) Less(i, j int) bool { return p.points[i].pos[p.dim] < p.points[j].pos[p.dim] }
func (p kdPlane) Swap(i, j int)      { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p kdPlane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

// radiusKeeper keeps every point within squared distance r2. Max stays at
// r2 so the search prunes on the radius alone; its point is non-nil so
// NearestSet does not treat it as a sentinel and pop a hit.
type radiusKeeper struct {
	r2   float64
	hits []kdtree.ComparableDist
}

func (k *radiusKeeper) Keep(c kdtree.ComparableDist) {
	if c.Dist <= k.r2 {
		k.hits = append(k.hits, c)
	}
}

func (k *radiusKeeper) Max() kdtree.ComparableDist {
	return kdtree.ComparableDist{Comparable: kdPoint{idx: -1}, Dist: k.r2}
}

func (k *radiusKeeper) Len() int           { return len(k.hits) }
func (k *radiusKeeper) Less(i, j int) bool { return k.hits[i].Dist < k.hits[j].Dist }
func (k *radiusKeeper) Swap(i, j int)      { k.hits[i], k.hits[j] = k.hits[j], k.hits[i] }
func (k *radiusKeeper) Push(x any)         { k.hits = append(k.hits, x.(kdtree.ComparableDist)) }

func (k *radiusKeeper) Pop() any {
	last := k.hits[len(k.hits)-1]
	k.hits = k.hits[:len(k.hits)-1]
	return last
}
