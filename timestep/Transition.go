// Package timestep implements transitions of the agent-environment
// interaction and batches thereof
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Transition packages together a single step of agent-environment
// interaction: the observation the agent acted from, the action it
// took, the reward it received, the observation it landed in, and
// whether that observation was terminal.
type Transition struct {
	State     mat.Vector
	Action    mat.Vector
	Reward    float64
	NextState mat.Vector
	Done      bool
}

// New returns a new Transition
func New(state, action mat.Vector, reward float64, nextState mat.Vector,
	done bool) Transition {
	return Transition{state, action, reward, nextState, done}
}

func (t Transition) String() string {
	str := "Transition | Reward: %.2f  |  Done: %v  |  State: %v  |  " +
		"Action: %v"

	return fmt.Sprintf(str, t.Reward, t.Done, mat.Formatted(t.State),
		mat.Formatted(t.Action))
}

// AuxiliaryData holds per-sample data accompanying a Batch: importance
// weights correcting for non-uniform sampling and optional labels. For
// a Batch of length n, len(Weights) == n always; Labels may be nil.
type AuxiliaryData struct {
	Weights []float64
	Labels  []float64
}

// NewAuxiliaryData returns AuxiliaryData for a batch of n samples with
// all importance weights set to 1 and no labels.
func NewAuxiliaryData(n int) *AuxiliaryData {
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0
	}
	return &AuxiliaryData{Weights: weights}
}

// Check verifies the length invariant against a batch of n samples
func (a AuxiliaryData) Check(n int) error {
	if len(a.Weights) != n {
		return fmt.Errorf("check: invalid weights length \n\twant(%v)"+
			"\n\thave(%v)", n, len(a.Weights))
	}
	if a.Labels != nil && len(a.Labels) != n {
		return fmt.Errorf("check: invalid labels length \n\twant(%v)"+
			"\n\thave(%v)", n, len(a.Labels))
	}
	return nil
}
