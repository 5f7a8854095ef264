package expreplay

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gocuriosity/utils/statutils"
)

// Transform is one stage of a stateful observation pipeline. A
// transform incorporates observed data through AddBatch and produces
// transformed observations through Apply. Transforms compose by the
// explicit order in which they are registered with an
// ExperienceMemory, never by mutating other objects.
type Transform interface {
	// AddBatch incorporates flat row-major observation data into the
	// transform's internal state, optionally weighted per sample. A
	// nil weights gives every sample weight 1.
	AddBatch(data []float64, weights []float64) error

	// Apply returns the transformed version of flat row-major
	// observation data without modifying the input
	Apply(data []float64) ([]float64, error)
}

// ObsNormalizer is a Transform that normalizes observations to zero
// mean and unit variance under a running statistic it exclusively
// owns, optionally clipping the normalized values to a symmetric
// interval.
type ObsNormalizer struct {
	stat *statutils.RunningStat
	dims int
	clip float64 // <= 0 disables clipping
}

// NewObsNormalizer returns an ObsNormalizer over observation vectors
// of the given dimensionality. If clip > 0, normalized observations
// are clipped to [-clip, clip].
func NewObsNormalizer(dims int, clip float64) (*ObsNormalizer, error) {
	stat, err := statutils.NewRunningStat(dims)
	if err != nil {
		return nil, fmt.Errorf("newObsNormalizer: %v", err)
	}

	return &ObsNormalizer{stat: stat, dims: dims, clip: clip}, nil
}

// Stat returns the normalizer's running statistic
func (o *ObsNormalizer) Stat() *statutils.RunningStat {
	return o.stat
}

// AddBatch implements the Transform interface
func (o *ObsNormalizer) AddBatch(data []float64, weights []float64) error {
	rows, err := o.rows(data, "addBatch")
	if err != nil {
		return err
	}
	return o.stat.AddBatch(mat.NewDense(rows, o.dims, data), weights)
}

// Apply implements the Transform interface. Applying before any data
// has been observed fails with a not-initialised error.
func (o *ObsNormalizer) Apply(data []float64) ([]float64, error) {
	rows, err := o.rows(data, "apply")
	if err != nil {
		return nil, err
	}

	normalized, err := o.stat.Normalise(mat.NewDense(rows, o.dims, data),
		o.clip)
	if err != nil {
		return nil, fmt.Errorf("apply: %v", err)
	}
	return normalized.RawMatrix().Data, nil
}

func (o *ObsNormalizer) rows(data []float64, op string) (int, error) {
	if len(data) == 0 || len(data)%o.dims != 0 {
		return 0, fmt.Errorf("%v: invalid data length %v for %v features",
			op, len(data), o.dims)
	}
	return len(data) / o.dims, nil
}
