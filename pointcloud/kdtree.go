package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is a point returned by a KDTree query along with its index in the indexed points and
// its euclidean distance to the query.
type Neighbor struct {
	PointAndData
	Index    int
	Distance float64
}

// KDTree is a static k-d tree over an ordered set of points for nearest neighbor queries.
type KDTree struct {
	tree   *kdtree.Tree
	points []PointAndData
}

// NewKDTree creates a KDTree over the points of the cloud. Neighbor indices refer to the cloud's
// iteration order.
func NewKDTree(pc PointCloud) *KDTree {
	return NewKDTreeFromSlice(ToSlice(pc))
}

// NewKDTreeFromSlice creates a KDTree over the given points. Neighbor indices refer to the slice.
func NewKDTreeFromSlice(points []PointAndData) *KDTree {
	kps := make(kdPoints, len(points))
	for i, pd := range points {
		kps[i] = kdPoint{pos: [3]float64{pd.P.X, pd.P.Y, pd.P.Z}, idx: i}
	}
	kd := &KDTree{points: points}
	if len(kps) > 0 {
		kd.tree = kdtree.New(kps, false)
	}
	return kd
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return len(kd.points)
}

// NearestNeighbor returns the closest point to p.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (Neighbor, bool) {
	if kd.tree == nil {
		return Neighbor{}, false
	}
	c, dist := kd.tree.Nearest(toKDPoint(p))
	if c == nil {
		return Neighbor{}, false
	}
	return kd.neighbor(c, dist), true
}

// KNearestNeighbors returns the k nearest points to p sorted by distance. When includeSelf is
// false, points located exactly at p are skipped.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int, includeSelf bool) []Neighbor {
	if kd.tree == nil || k <= 0 {
		return nil
	}
	want := k
	if !includeSelf {
		want++
	}
	keeper := kdtree.NewNKeeper(want)
	kd.tree.NearestSet(keeper, toKDPoint(p))
	return kd.collect(keeper.Heap, p, k, includeSelf)
}

// RadiusNearestNeighbors returns the points within radius r of p sorted by distance. When
// includeSelf is false, points located exactly at p are skipped.
func (kd *KDTree) RadiusNearestNeighbors(p r3.Vector, r float64, includeSelf bool) []Neighbor {
	if kd.tree == nil {
		return nil
	}
	keeper := kdtree.NewDistKeeper(r * r)
	kd.tree.NearestSet(keeper, toKDPoint(p))
	return kd.collect(keeper.Heap, p, len(keeper.Heap), includeSelf)
}

func (kd *KDTree) collect(heap kdtree.Heap, p r3.Vector, limit int, includeSelf bool) []Neighbor {
	neighbors := make([]Neighbor, 0, len(heap))
	for _, cd := range heap {
		if cd.Comparable == nil {
			continue
		}
		nb := kd.neighbor(cd.Comparable, cd.Dist)
		if !includeSelf && nb.P == p {
			continue
		}
		neighbors = append(neighbors, nb)
		if len(neighbors) == limit {
			break
		}
	}
	return neighbors
}

func (kd *KDTree) neighbor(c kdtree.Comparable, squaredDist float64) Neighbor {
	kp := c.(kdPoint)
	return Neighbor{PointAndData: kd.points[kp.idx], Index: kp.idx, Distance: math.Sqrt(squaredDist)}
}

func toKDPoint(p r3.Vector) kdPoint {
	return kdPoint{pos: [3]float64{p.X, p.Y, p.Z}, idx: -1}
}

// kdPoint is a position tagged with its index in the indexed slice.
type kdPoint struct {
	pos [3]float64
	idx int
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdPoint)
	return p.pos[d] - q.pos[d]
}

func (p kdPoint) Dims() int { return 3 }

// Distance returns the squared euclidean distance.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	var sum float64
	for dim := range p.pos {
		d := p.pos[dim] - q.pos[dim]
		sum += d * d
	}
	return sum
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p kdPoints) Len() int                              { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int                { return kdPlane{kdPoints: p, Dim: d}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// kdPlane allows kdPoints to be pivoted on a dimension.
type kdPlane struct {
	kdtree.Dim
	kdPoints
}

func (p kdPlane) Less(i, j int) bool { return p.kdPoints[i].pos[p.Dim] < p.kdPoints[j].pos[p.Dim] }
func (p kdPlane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.kdPoints = p.kdPoints[start:end]
	return p
}

func (p kdPlane) Swap(i, j int) {
	p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i]
}
