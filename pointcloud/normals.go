package pointcloud

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// EstimateNormal fits a plane to the points with PCA. It returns the unit normal (the eigenvector
// of the smallest covariance eigenvalue), the surface variation λ0/(λ0+λ1+λ2), and false when the
// points do not span a plane.
func EstimateNormal(points []r3.Vector) (r3.Vector, float64, bool) {
	if len(points) < 3 {
		return r3.Vector{}, 0, false
	}
	data := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		data.SetRow(i, []float64{p.X, p.Y, p.Z})
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var eigen mat.EigenSym
	if ok := eigen.Factorize(&cov, true); !ok {
		return r3.Vector{}, 0, false
	}
	// Eigenvalues are in ascending order.
	vals := eigen.Values(nil)
	sum := vals[0] + vals[1] + vals[2]
	if sum <= 1e-15 || vals[1] <= 1e-12*sum {
		return r3.Vector{}, 0, false
	}
	var vecs mat.Dense
	eigen.VectorsTo(&vecs)
	normal := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}.Normalize()
	return normal, vals[0] / sum, true
}

// FlipNormalTowardsViewpoint orients the normal of the surface at point so that it faces the
// viewpoint.
func FlipNormalTowardsViewpoint(point, normal, viewpoint r3.Vector) r3.Vector {
	if viewpoint.Sub(point).Dot(normal) < 0 {
		return normal.Mul(-1)
	}
	return normal
}

// Centroid returns the mean of the points, or the zero vector for no points.
func Centroid(points []r3.Vector) r3.Vector {
	if len(points) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1. / float64(len(points)))
}
