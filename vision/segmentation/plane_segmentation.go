package segmentation

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"

	pc "go.viam.com/tabletop/pointcloud"
)

const (
	// DefaultPlaneDistanceThreshold is the maximum distance of a point to a plane model for the
	// point to support it.
	DefaultPlaneDistanceThreshold = 0.01
	defaultRansacProbability      = 0.99
	defaultRansacMaxIterations    = 1000
)

// SampleConsensusPlane fits a plane to a set of points with RANSAC. The sampler is seeded, so the
// same points always give the same model.
type SampleConsensusPlane struct {
	DistanceThreshold float64
	// Probability of drawing at least one outlier-free sample; drives the adaptive iteration count.
	Probability   float64
	MaxIterations int
	// OptimizeCoefficients refits the model to all of its inliers with least squares.
	OptimizeCoefficients bool
	Seed                 int64
}

// NewSampleConsensusPlane returns a plane fitter with the default threshold, probability and
// iteration cap, and coefficient refinement enabled.
func NewSampleConsensusPlane() *SampleConsensusPlane {
	return &SampleConsensusPlane{
		DistanceThreshold:    DefaultPlaneDistanceThreshold,
		Probability:          defaultRansacProbability,
		MaxIterations:        defaultRansacMaxIterations,
		OptimizeCoefficients: true,
		Seed:                 1,
	}
}

func planeDistance(eq [4]float64, p r3.Vector) float64 {
	return eq[0]*p.X + eq[1]*p.Y + eq[2]*p.Z + eq[3]
}

func planeFromNormal(normal, point r3.Vector) [4]float64 {
	return [4]float64{normal.X, normal.Y, normal.Z, -normal.Dot(point)}
}

func (s *SampleConsensusPlane) selectInliers(eq [4]float64, points []r3.Vector) []int {
	inliers := make([]int, 0)
	for i, p := range points {
		if math.Abs(planeDistance(eq, p)) <= s.DistanceThreshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// Fit returns the plane equation, with a unit normal, and the sorted indices of its inliers. A model
// needs at least one supporting point besides its three samples; when none exists the inliers are
// empty and the equation is zero.
func (s *SampleConsensusPlane) Fit(ctx context.Context, points []r3.Vector) ([4]float64, []int, error) {
	n := len(points)
	if n < 4 {
		return [4]float64{}, nil, nil
	}
	r := rand.New(rand.NewSource(s.Seed))

	var bestEq [4]float64
	bestCount := 0
	maxIterations := s.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultRansacMaxIterations
	}
	k := float64(maxIterations)
	maxSkips := 10 * maxIterations
	skips := 0
	for iteration := 0; float64(iteration) < k && iteration < maxIterations && skips < maxSkips; {
		if iteration%100 == 0 {
			if err := ctx.Err(); err != nil {
				return [4]float64{}, nil, err
			}
		}
		i1, i2, i3 := r.Intn(n), r.Intn(n), r.Intn(n)
		if i1 == i2 || i1 == i3 || i2 == i3 {
			skips++
			continue
		}
		p1, p2, p3 := points[i1], points[i2], points[i3]
		// collinear samples do not define a plane
		cross := p2.Sub(p1).Cross(p3.Sub(p1))
		if cross.Norm() < 1e-12 {
			skips++
			continue
		}
		eq := planeFromNormal(cross.Normalize(), p1)

		count := 0
		for _, p := range points {
			if math.Abs(planeDistance(eq, p)) <= s.DistanceThreshold {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestEq = eq
			k = adaptiveIterations(float64(count)/float64(n), s.Probability, maxIterations)
		}
		iteration++
	}
	if bestCount < 4 {
		return [4]float64{}, nil, nil
	}

	inliers := s.selectInliers(bestEq, points)
	if !s.OptimizeCoefficients {
		return bestEq, inliers, nil
	}
	support := make([]r3.Vector, len(inliers))
	for i, idx := range inliers {
		support[i] = points[idx]
	}
	normal, _, ok := pc.EstimateNormal(support)
	if !ok {
		return bestEq, inliers, nil
	}
	refined := planeFromNormal(normal, pc.Centroid(support))
	refinedInliers := s.selectInliers(refined, points)
	if len(refinedInliers) < len(inliers) {
		return bestEq, inliers, nil
	}
	return refined, refinedInliers, nil
}

// adaptiveIterations is the number of samples needed to draw an all-inlier triple with the given
// probability when a fraction w of the points are inliers.
func adaptiveIterations(w, probability float64, maxIterations int) float64 {
	const eps = 1e-9
	pNoOutliers := 1 - w*w*w
	pNoOutliers = math.Max(eps, math.Min(1-eps, pNoOutliers))
	k := math.Log(1-probability) / math.Log(pNoOutliers)
	return math.Min(k, float64(maxIterations))
}

// SegmentPlane segments the biggest plane in the 3D Pointcloud.
// nIterations caps the number of ransac samples and threshold is the maximum distance of a point to
// the plane for it to belong to it.
// This function returns the plane with its points, as well as the remaining points in a pointcloud.
func SegmentPlane(ctx context.Context, cloud pc.PointCloud, nIterations int, threshold float64) (pc.Plane, pc.PointCloud, error) {
	points := pc.ToSlice(cloud)
	positions := make([]r3.Vector, len(points))
	for i, pd := range points {
		positions[i] = pd.P
	}
	fitter := NewSampleConsensusPlane()
	fitter.MaxIterations = nIterations
	fitter.DistanceThreshold = threshold
	eq, inliers, err := fitter.Fit(ctx, positions)
	if err != nil {
		return nil, nil, err
	}
	if len(inliers) == 0 {
		return pc.NewEmptyPlane(), cloud, nil
	}
	planeCloud, err := pc.Subset(points, inliers)
	if err != nil {
		return nil, nil, err
	}
	nonPlaneCloud, err := pc.Subset(points, complementIndices(inliers, len(points)))
	if err != nil {
		return nil, nil, err
	}
	return pc.NewPlane(planeCloud, eq), nonPlaneCloud, nil
}

// complementIndices returns the indices in [0, n) missing from the sorted slice.
func complementIndices(sorted []int, n int) []int {
	out := make([]int, 0, n-len(sorted))
	j := 0
	for i := 0; i < n; i++ {
		if j < len(sorted) && sorted[j] == i {
			j++
			continue
		}
		out = append(out, i)
	}
	return out
}
