package ppo

import (
	"fmt"

	"github.com/samuelfneumann/gocuriosity/solver"
)

// Config describes a PPO policy update engine
type Config struct {
	// UpdateEpochs is the number of passes over each update batch
	UpdateEpochs int

	// MinibatchSize is the number of transitions per gradient step.
	// The final minibatch of an epoch may be smaller.
	MinibatchSize int

	// ClipRatio is the ε of the clipped surrogate objective: the
	// probability ratio is clipped to [1-ε, 1+ε]
	ClipRatio float64

	// Solver optimizes the policy network
	Solver *solver.Solver

	// Seed seeds minibatch shuffling
	Seed uint64
}

// Validate returns an error describing why the config cannot be used
// to construct a PPO engine, or nil if it can
func (c Config) Validate() error {
	if c.UpdateEpochs <= 0 {
		return fmt.Errorf("update epochs must be > 0, got %v",
			c.UpdateEpochs)
	}
	if c.MinibatchSize <= 0 {
		return fmt.Errorf("minibatch size must be > 0, got %v",
			c.MinibatchSize)
	}
	if c.ClipRatio <= 0 {
		return fmt.Errorf("clip ratio must be > 0, got %v", c.ClipRatio)
	}
	if c.Solver == nil {
		return fmt.Errorf("no solver given")
	}
	return nil
}
