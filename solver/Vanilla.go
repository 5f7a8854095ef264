package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// VanillaConfig describes a configuration of the vanilla gradient
// descent solver.
type VanillaConfig struct {
	StepSize float64
	Batch    int
}

// NewVanilla returns a new Vanilla Solver
func NewVanilla(stepSize float64, batchSize int) (*Solver, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("newVanilla: step size must be > 0, got %v",
			stepSize)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("newVanilla: batch size must be > 0, got %v",
			batchSize)
	}

	vanilla := VanillaConfig{
		StepSize: stepSize,
		Batch:    batchSize,
	}

	return newSolver(Vanilla, vanilla)
}

// Create returns a Gorgonia Vanilla Solver as described by the
// VanillaConfig
func (v VanillaConfig) Create() G.Solver {
	solver := G.NewVanillaSolver(
		G.WithLearnRate(v.StepSize),
		G.WithBatchSize(float64(v.Batch)),
	)
	return solver
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (v VanillaConfig) ValidType(t Type) bool {
	return t == Vanilla
}
