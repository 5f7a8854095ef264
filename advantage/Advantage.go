// Package advantage estimates how much better taking a specific
// action at a state is than the policy's average behaviour at that
// state
package advantage

import (
	"github.com/samuelfneumann/gocuriosity/timestep"
)

// Estimator computes advantage estimates for batches of transitions.
//
// Estimators that learn a baseline update it from the same batches
// through Update.
type Estimator interface {
	// A returns one advantage estimate per transition in the batch
	A(batch *timestep.Batch) ([]float64, error)

	// Update adjusts any learned baseline towards the batch. The aux
	// data carries per-transition weights; step is the number of
	// environment steps seen so far.
	Update(batch *timestep.Batch, aux *timestep.AuxiliaryData,
		step int) error
}

// Constant is an Estimator returning a fixed advantage for every
// transition. It learns nothing.
type Constant struct {
	Value float64
}

// A returns the constant advantage for each transition in the batch
func (c Constant) A(batch *timestep.Batch) ([]float64, error) {
	adv := make([]float64, batch.Len())
	for i := range adv {
		adv[i] = c.Value
	}
	return adv, nil
}

// Update implements the Estimator interface as a no-op
func (c Constant) Update(*timestep.Batch, *timestep.AuxiliaryData,
	int) error {
	return nil
}
