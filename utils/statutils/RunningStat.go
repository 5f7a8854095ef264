// Package statutils implements online statistics over weighted data
// streams
package statutils

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Epsilon is added to the variance before taking the square root so
// that the standard deviation is always strictly positive, even before
// any data has been observed.
const Epsilon float64 = 1e-8

// ErrNotInitialised indicates that a normalization was requested
// before any data was added to a RunningStat.
var ErrNotInitialised = errors.New("running statistic holds no data")

// IsNotInitialised returns whether an error reports that a RunningStat
// was used to normalize data before observing any.
func IsNotInitialised(err error) bool {
	return errors.Is(err, ErrNotInitialised)
}

// RunningStat tracks the weighted mean and variance of a stream of
// feature vectors, one accumulator per feature dimension. Batches are
// merged into the accumulator with the parallel-variance combination
// of sufficient statistics, so the estimate stays stable for large
// counts; there is no sum-of-squares term to cancel catastrophically.
type RunningStat struct {
	dims  int
	count float64 // Total weight observed
	mean  []float64
	m2    []float64 // Weighted sum of squared deviations from the mean
}

// NewRunningStat returns a RunningStat tracking dims feature
// dimensions
func NewRunningStat(dims int) (*RunningStat, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("newRunningStat: dims must be > 0, got %v",
			dims)
	}

	return &RunningStat{
		dims: dims,
		mean: make([]float64, dims),
		m2:   make([]float64, dims),
	}, nil
}

// Dims returns the number of feature dimensions tracked
func (r *RunningStat) Dims() int {
	return r.dims
}

// Count returns the total weight of all observed data
func (r *RunningStat) Count() float64 {
	return r.count
}

// Initialised returns whether any data has been observed yet
func (r *RunningStat) Initialised() bool {
	return r.count > 0
}

// AddBatch merges a batch of observations into the running statistic.
// The data matrix holds one sample per row. If weights is non-nil, it
// holds one weight per sample; a nil weights gives every sample weight
// 1.
func (r *RunningStat) AddBatch(data *mat.Dense, weights []float64) error {
	rows, cols := data.Dims()
	if cols != r.dims {
		return fmt.Errorf("addBatch: invalid feature dimensions "+
			"\n\twant(%v)\n\thave(%v)", r.dims, cols)
	}
	if weights != nil && len(weights) != rows {
		return fmt.Errorf("addBatch: invalid weights length \n\twant(%v)"+
			"\n\thave(%v)", rows, len(weights))
	}
	if rows == 0 {
		return nil
	}

	batchWeight := float64(rows)
	if weights != nil {
		batchWeight = 0.0
		for _, w := range weights {
			if w < 0 {
				return fmt.Errorf("addBatch: negative weight %v", w)
			}
			batchWeight += w
		}
		if batchWeight == 0 {
			return nil
		}
	}

	col := make([]float64, rows)
	for j := 0; j < r.dims; j++ {
		mat.Col(col, j, data)

		// Two-pass batch moments: mean first, then weighted squared
		// deviations about it
		batchMean := stat.Mean(col, weights)
		batchM2 := 0.0
		for i, x := range col {
			d := x - batchMean
			if weights != nil {
				batchM2 += weights[i] * d * d
			} else {
				batchM2 += d * d
			}
		}

		// Chan et al. parallel combination of the two accumulators
		delta := batchMean - r.mean[j]
		total := r.count + batchWeight
		r.mean[j] += delta * batchWeight / total
		r.m2[j] += batchM2 + delta*delta*r.count*batchWeight/total
	}

	r.count += batchWeight
	return nil
}

// Mean returns a copy of the per-dimension running mean
func (r *RunningStat) Mean() []float64 {
	mean := make([]float64, r.dims)
	copy(mean, r.mean)
	return mean
}

// Variance returns a copy of the per-dimension running variance. The
// variance is never negative.
func (r *RunningStat) Variance() []float64 {
	variance := make([]float64, r.dims)
	if r.count == 0 {
		return variance
	}
	for j := range variance {
		v := r.m2[j] / r.count
		if v < 0 {
			v = 0
		}
		variance[j] = v
	}
	return variance
}

// Std returns the per-dimension standard deviation,
// sqrt(variance + Epsilon)
func (r *RunningStat) Std() []float64 {
	std := r.Variance()
	for j := range std {
		std[j] = math.Sqrt(std[j] + Epsilon)
	}
	return std
}

// Normalise returns a new matrix holding the input data normalized to
// the running mean and standard deviation. If clip > 0, normalized
// values are clipped symmetrically to [-clip, clip]. Normalizing
// before any data has been observed fails with ErrNotInitialised
// rather than silently scaling by a degenerate statistic.
func (r *RunningStat) Normalise(data *mat.Dense, clip float64) (*mat.Dense,
	error) {
	if !r.Initialised() {
		return nil, fmt.Errorf("normalise: %w", ErrNotInitialised)
	}

	rows, cols := data.Dims()
	if cols != r.dims {
		return nil, fmt.Errorf("normalise: invalid feature dimensions "+
			"\n\twant(%v)\n\thave(%v)", r.dims, cols)
	}

	std := r.Std()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := (data.At(i, j) - r.mean[j]) / std[j]
			if clip > 0 {
				v = math.Min(math.Max(v, -clip), clip)
			}
			out.Set(i, j, v)
		}
	}
	return out, nil
}
