package pointcloud

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// StatisticalOutlierFilter implements the function from PCL to remove noisy points from a point cloud.
// https://pcl.readthedocs.io/projects/tutorials/en/latest/statistical_outlier.html
// This returns a function that can be used to filter on point clouds.
// NOTE(bh): Returns a new point cloud, but could be modified to filter and change the original one.
func StatisticalOutlierFilter(meanK int, stdDevThresh float64) (func(PointCloud) (PointCloud, error), error) {
	if meanK <= 0 {
		return nil, errors.Errorf("argument meanK must be a positive int, got %d", meanK)
	}
	if stdDevThresh <= 0.0 {
		return nil, errors.Errorf("argument stdDevThresh must be a positive float, got %.2f", stdDevThresh)
	}
	filterFunc := func(pc PointCloud) (PointCloud, error) {
		points := ToSlice(pc)
		if len(points) <= meanK {
			return NewFromSlice(points)
		}
		kd := NewKDTreeFromSlice(points)
		meanDistances := make([]float64, len(points))
		for i, pd := range points {
			neighbors := kd.KNearestNeighbors(pd.P, meanK, false)
			sum := 0.0
			for _, nb := range neighbors {
				sum += nb.Distance
			}
			if len(neighbors) > 0 {
				meanDistances[i] = sum / float64(len(neighbors))
			}
		}
		mean, err := stats.Mean(meanDistances)
		if err != nil {
			return nil, err
		}
		stdDev, err := stats.StandardDeviationSample(meanDistances)
		if err != nil {
			return nil, err
		}
		threshold := mean + stdDevThresh*stdDev

		filtered := NewWithPrealloc(len(points))
		for i, pd := range points {
			if meanDistances[i] <= threshold {
				if err := filtered.Set(pd.P, pd.D); err != nil {
					return nil, err
				}
			}
		}
		return filtered, nil
	}
	return filterFunc, nil
}
