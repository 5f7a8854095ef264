package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Batch is an ordered collection of Transitions stored as flat,
// row-major parallel arrays. A Batch is an immutable view: operations
// that derive one Batch from another (Select, WithRewards,
// WithObservations) produce value copies, never aliased views back
// into the source.
type Batch struct {
	obsDim    int
	actionDim int
	n         int

	states     []float64
	actions    []float64
	rewards    []float64
	nextStates []float64
	dones      []bool
}

// NewBatch creates a Batch of n transitions from flat row-major
// backing data. The data is used directly, not copied; callers must
// not mutate it afterwards.
func NewBatch(obsDim, actionDim int, states, actions, rewards,
	nextStates []float64, dones []bool) (*Batch, error) {
	if obsDim <= 0 || actionDim <= 0 {
		return nil, fmt.Errorf("newBatch: non-positive dimensions (%v, %v)",
			obsDim, actionDim)
	}
	n := len(rewards)
	if len(states) != n*obsDim || len(nextStates) != n*obsDim {
		return nil, fmt.Errorf("newBatch: invalid state data length "+
			"\n\twant(%v)\n\thave(%v, %v)", n*obsDim, len(states),
			len(nextStates))
	}
	if len(actions) != n*actionDim {
		return nil, fmt.Errorf("newBatch: invalid action data length "+
			"\n\twant(%v)\n\thave(%v)", n*actionDim, len(actions))
	}
	if len(dones) != n {
		return nil, fmt.Errorf("newBatch: invalid dones length \n\twant(%v)"+
			"\n\thave(%v)", n, len(dones))
	}

	return &Batch{
		obsDim:     obsDim,
		actionDim:  actionDim,
		n:          n,
		states:     states,
		actions:    actions,
		rewards:    rewards,
		nextStates: nextStates,
		dones:      dones,
	}, nil
}

// Len returns the number of transitions in the batch
func (b *Batch) Len() int {
	return b.n
}

// ObsDim returns the number of features per observation vector
func (b *Batch) ObsDim() int {
	return b.obsDim
}

// ActionDim returns the number of action dimensions
func (b *Batch) ActionDim() int {
	return b.actionDim
}

// States returns the batch observations as an n×obsDim matrix. The
// matrix shares the batch's backing data and must be treated as
// read-only.
func (b *Batch) States() *mat.Dense {
	return mat.NewDense(b.n, b.obsDim, b.states)
}

// NextStates returns the batch next-state observations as an n×obsDim
// matrix sharing the batch's backing data.
func (b *Batch) NextStates() *mat.Dense {
	return mat.NewDense(b.n, b.obsDim, b.nextStates)
}

// Actions returns the batch actions as an n×actionDim matrix sharing
// the batch's backing data.
func (b *Batch) Actions() *mat.Dense {
	return mat.NewDense(b.n, b.actionDim, b.actions)
}

// StateData returns the flat row-major observation data
func (b *Batch) StateData() []float64 {
	return b.states
}

// NextStateData returns the flat row-major next-state data
func (b *Batch) NextStateData() []float64 {
	return b.nextStates
}

// ActionData returns the flat row-major action data
func (b *Batch) ActionData() []float64 {
	return b.actions
}

// Rewards returns the per-transition rewards
func (b *Batch) Rewards() []float64 {
	return b.rewards
}

// Dones returns the per-transition terminal flags
func (b *Batch) Dones() []bool {
	return b.dones
}

// Transition reconstructs the i'th transition as a value copy
func (b *Batch) Transition(i int) (Transition, error) {
	if i < 0 || i >= b.n {
		return Transition{}, fmt.Errorf("transition: index %v out of "+
			"range [0, %v)", i, b.n)
	}

	state := make([]float64, b.obsDim)
	nextState := make([]float64, b.obsDim)
	copy(state, b.states[i*b.obsDim:(i+1)*b.obsDim])
	copy(nextState, b.nextStates[i*b.obsDim:(i+1)*b.obsDim])

	action := make([]float64, b.actionDim)
	copy(action, b.actions[i*b.actionDim:(i+1)*b.actionDim])

	return Transition{
		State:     mat.NewVecDense(b.obsDim, state),
		Action:    mat.NewVecDense(b.actionDim, action),
		Reward:    b.rewards[i],
		NextState: mat.NewVecDense(b.obsDim, nextState),
		Done:      b.dones[i],
	}, nil
}

// Select returns a new Batch holding copies of the transitions at the
// given indices, in order. Duplicate indices are allowed. An index
// outside [0, Len()) is a bounds error.
func (b *Batch) Select(indices []int) (*Batch, error) {
	n := len(indices)
	states := make([]float64, n*b.obsDim)
	actions := make([]float64, n*b.actionDim)
	rewards := make([]float64, n)
	nextStates := make([]float64, n*b.obsDim)
	dones := make([]bool, n)

	for i, index := range indices {
		if index < 0 || index >= b.n {
			return nil, fmt.Errorf("select: index %v out of range [0, %v)",
				index, b.n)
		}

		copy(states[i*b.obsDim:(i+1)*b.obsDim],
			b.states[index*b.obsDim:(index+1)*b.obsDim])
		copy(nextStates[i*b.obsDim:(i+1)*b.obsDim],
			b.nextStates[index*b.obsDim:(index+1)*b.obsDim])
		copy(actions[i*b.actionDim:(i+1)*b.actionDim],
			b.actions[index*b.actionDim:(index+1)*b.actionDim])

		rewards[i] = b.rewards[index]
		dones[i] = b.dones[index]
	}

	return NewBatch(b.obsDim, b.actionDim, states, actions, rewards,
		nextStates, dones)
}

// WithRewards returns a new Batch identical to b but carrying the
// given rewards. Observations and actions are shared with b; the
// reward data is copied.
func (b *Batch) WithRewards(rewards []float64) (*Batch, error) {
	if len(rewards) != b.n {
		return nil, fmt.Errorf("withRewards: invalid rewards length "+
			"\n\twant(%v)\n\thave(%v)", b.n, len(rewards))
	}

	r := make([]float64, b.n)
	copy(r, rewards)

	derived := *b
	derived.rewards = r
	return &derived, nil
}

// WithObservations returns a new Batch identical to b but carrying the
// given flat row-major state and next-state data. The observation data
// is used directly, not copied.
func (b *Batch) WithObservations(states, nextStates []float64) (*Batch,
	error) {
	if len(states) != b.n*b.obsDim || len(nextStates) != b.n*b.obsDim {
		return nil, fmt.Errorf("withObservations: invalid data length "+
			"\n\twant(%v)\n\thave(%v, %v)", b.n*b.obsDim, len(states),
			len(nextStates))
	}

	derived := *b
	derived.states = states
	derived.nextStates = nextStates
	return &derived, nil
}
