package advantage

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/samuelfneumann/gocuriosity/timestep"
)

// TDConfig describes a TD advantage Estimator
type TDConfig struct {
	// Gamma is the discount factor in [0, 1]
	Gamma float64

	// LearningRate is the step size of the semi-gradient value update
	LearningRate float64

	// ObsDim is the number of observation features
	ObsDim int
}

// Validate returns an error describing why the config cannot be used
// to construct a TD Estimator, or nil if it can
func (c TDConfig) Validate() error {
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0, 1], got %v", c.Gamma)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be > 0, got %v",
			c.LearningRate)
	}
	if c.ObsDim <= 0 {
		return fmt.Errorf("obsDim must be > 0, got %v", c.ObsDim)
	}
	return nil
}

// TD estimates advantages with one-step temporal-difference errors
// against a linear state-value baseline:
//
//	A(s, a) = r + γ V(s') - V(s)
//
// where V(s) = w · s + b. Episode-ending transitions bootstrap from a
// zero next-state value. The baseline is learned with semi-gradient
// TD(0).
type TD struct {
	cfg     TDConfig
	weights []float64
	bias    float64
}

// NewTD returns a new TD advantage Estimator with a zero-initialized
// baseline
func NewTD(cfg TDConfig) (*TD, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("newTD: %v", err)
	}
	return &TD{
		cfg:     cfg,
		weights: make([]float64, cfg.ObsDim),
	}, nil
}

// value returns the baseline state value V(s)
func (t *TD) value(state []float64) float64 {
	return floats.Dot(t.weights, state) + t.bias
}

// A returns the one-step TD error of each transition in the batch
func (t *TD) A(batch *timestep.Batch) ([]float64, error) {
	if batch.ObsDim() != t.cfg.ObsDim {
		return nil, fmt.Errorf("a: invalid observation dimension"+
			"\n\twant(%v)\n\thave(%v)", t.cfg.ObsDim, batch.ObsDim())
	}

	states := batch.StateData()
	nextStates := batch.NextStateData()
	rewards := batch.Rewards()
	dones := batch.Dones()

	d := t.cfg.ObsDim
	adv := make([]float64, batch.Len())
	for i := range adv {
		target := rewards[i]
		if !dones[i] {
			target += t.cfg.Gamma * t.value(nextStates[i*d:(i+1)*d])
		}
		adv[i] = target - t.value(states[i*d:(i+1)*d])
	}
	return adv, nil
}

// Update performs one semi-gradient TD(0) step on the baseline using
// each transition in the batch, weighted by the aux weights
func (t *TD) Update(batch *timestep.Batch, aux *timestep.AuxiliaryData,
	step int) error {
	if batch.ObsDim() != t.cfg.ObsDim {
		return fmt.Errorf("update: invalid observation dimension"+
			"\n\twant(%v)\n\thave(%v)", t.cfg.ObsDim, batch.ObsDim())
	}
	if aux == nil {
		aux = timestep.NewAuxiliaryData(batch.Len())
	}
	if err := aux.Check(batch.Len()); err != nil {
		return fmt.Errorf("update: %v", err)
	}

	states := batch.StateData()
	nextStates := batch.NextStateData()
	rewards := batch.Rewards()
	dones := batch.Dones()

	d := t.cfg.ObsDim
	for i := 0; i < batch.Len(); i++ {
		state := states[i*d : (i+1)*d]

		target := rewards[i]
		if !dones[i] {
			target += t.cfg.Gamma * t.value(nextStates[i*d:(i+1)*d])
		}
		delta := target - t.value(state)

		scale := t.cfg.LearningRate * aux.Weights[i] * delta
		floats.AddScaled(t.weights, scale, state)
		t.bias += scale
	}
	return nil
}
