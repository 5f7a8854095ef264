// Package expreplay implements a fixed-capacity experience memory with
// circular overwrite, resampling, and an observation transform
// pipeline
package expreplay

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/rand"

	"github.com/samuelfneumann/gocuriosity/timestep"
	"github.com/samuelfneumann/gocuriosity/utils/floatutils"
	"github.com/samuelfneumann/gocuriosity/utils/intutils"
)

// minPriority keeps every stored transition reachable under priority
// sampling, even when its last recorded error was exactly zero.
const minPriority float64 = 1e-6

// Collector produces raw transitions from some external
// agent-environment interaction loop.
type Collector interface {
	Collect(n int) ([]timestep.Transition, error)
}

// ErrorFunc scores a sampled batch with per-sample errors, TD-error
// style. The scores become the priorities of the sampled transitions.
type ErrorFunc func(*timestep.Batch) []float64

// Config describes an ExperienceMemory
type Config struct {
	Capacity  int
	ObsDim    int
	ActionDim int
	Seed      uint64
}

// Validate returns an error describing why the Config cannot be used
// to construct an ExperienceMemory, or nil if it can.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be > 0, got %v", c.Capacity)
	}
	if c.ObsDim <= 0 {
		return fmt.Errorf("obsDim must be > 0, got %v", c.ObsDim)
	}
	if c.ActionDim <= 0 {
		return fmt.Errorf("actionDim must be > 0, got %v", c.ActionDim)
	}
	return nil
}

// ExperienceMemory is a fixed-capacity circular store of transitions.
// Once the memory is full, each append overwrites the oldest stored
// transition. Eviction is pure FIFO overwrite; priority information
// reweights sampling only, never eviction. A priority-aware eviction
// policy is a possible extension of the remover seam, not an oversight.
//
// The memory exclusively owns its backing arrays and cursor. Appends
// and samples are serialized by an internal mutex, so concurrent
// collectors may append while a sample never observes a half-written
// slot.
type ExperienceMemory struct {
	mu sync.Mutex

	stateCache     []float64
	actionCache    []float64
	rewardCache    []float64
	nextStateCache []float64
	doneCache      []bool
	priorityCache  []float64

	cursor      int // Next write position, in [0, capacity)
	insertions  int // Total appends over the memory's lifetime
	maxPriority float64

	capacity  int
	obsDim    int
	actionDim int

	rng        *rand.Rand
	transforms []Transform
}

// New creates and returns a new ExperienceMemory. Any transforms are
// registered as an ordered pipeline: each Append feeds the new
// transition's observation to every transform, and ApplyTransforms
// composes them in registration order.
func New(c Config, transforms ...Transform) (*ExperienceMemory, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return &ExperienceMemory{
		stateCache:     make([]float64, c.Capacity*c.ObsDim),
		actionCache:    make([]float64, c.Capacity*c.ActionDim),
		rewardCache:    make([]float64, c.Capacity),
		nextStateCache: make([]float64, c.Capacity*c.ObsDim),
		doneCache:      make([]bool, c.Capacity),
		priorityCache:  make([]float64, c.Capacity),
		maxPriority:    1.0,
		capacity:       c.Capacity,
		obsDim:         c.ObsDim,
		actionDim:      c.ActionDim,
		rng:            rand.New(rand.NewSource(c.Seed)),
		transforms:     transforms,
	}, nil
}

// Size returns the current number of stored transitions,
// min(total appends, capacity)
func (m *ExperienceMemory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size()
}

func (m *ExperienceMemory) size() int {
	return intutils.Min(m.insertions, m.capacity)
}

// Capacity returns the maximum number of transitions the memory can
// hold
func (m *ExperienceMemory) Capacity() int {
	return m.capacity
}

// Cursor returns the slot index at which the next append will write
func (m *ExperienceMemory) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Append writes a transition at the cursor, overwriting the oldest
// stored transition once the memory is at capacity, then advances the
// cursor. Registered transforms observe the new transition's state for
// incremental statistics updates.
func (m *ExperienceMemory) Append(t timestep.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.append(t)
}

func (m *ExperienceMemory) append(t timestep.Transition) error {
	if t.State.Len() != m.obsDim || t.NextState.Len() != m.obsDim {
		return &MemoryError{Op: "append", Err: errShapeMismatch}
	}
	if t.Action.Len() != m.actionDim {
		return &MemoryError{Op: "append", Err: errShapeMismatch}
	}

	stateInd := m.cursor * m.obsDim
	for i := 0; i < m.obsDim; i++ {
		m.stateCache[stateInd+i] = t.State.AtVec(i)
		m.nextStateCache[stateInd+i] = t.NextState.AtVec(i)
	}

	actionInd := m.cursor * m.actionDim
	for i := 0; i < m.actionDim; i++ {
		m.actionCache[actionInd+i] = t.Action.AtVec(i)
	}

	m.rewardCache[m.cursor] = t.Reward
	m.doneCache[m.cursor] = t.Done

	// New transitions carry the maximum priority seen so far, so that
	// priority sampling visits them before their error is known
	m.priorityCache[m.cursor] = m.maxPriority

	m.cursor = (m.cursor + 1) % m.capacity
	m.insertions++

	for _, transform := range m.transforms {
		state := make([]float64, m.obsDim)
		copy(state, m.stateCache[stateInd:stateInd+m.obsDim])
		if err := transform.AddBatch(state, nil); err != nil {
			return fmt.Errorf("append: could not update transform: %v", err)
		}
	}

	return nil
}

// Sample draws n transitions independently and uniformly at random
// with replacement from the stored data. The returned AuxiliaryData
// carries unit importance weights.
func (m *ExperienceMemory) Sample(n int) (*timestep.Batch,
	*timestep.AuxiliaryData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sampleable(n, "sample"); err != nil {
		return nil, nil, err
	}

	size := m.size()
	indices := make([]int, n)
	for i := range indices {
		indices[i] = m.rng.Intn(size)
	}

	batch, err := m.batchAt(indices)
	if err != nil {
		return nil, nil, fmt.Errorf("sample: %v", err)
	}
	return batch, timestep.NewAuxiliaryData(n), nil
}

// SampleByPriority draws n transitions with replacement, each with
// probability proportional to its stored priority. The sampled batch
// is scored with errFn, the scores become the sampled transitions'
// new priorities, and the returned importance weights are the
// normalized inverse-priority correction factors 1/(size * p), scaled
// so the largest weight is 1.
func (m *ExperienceMemory) SampleByPriority(n int, errFn ErrorFunc) (
	*timestep.Batch, *timestep.AuxiliaryData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sampleable(n, "sampleByPriority"); err != nil {
		return nil, nil, err
	}
	if errFn == nil {
		return nil, nil,
			fmt.Errorf("sampleByPriority: no error function given")
	}

	size := m.size()
	cumulative := make([]float64, size)
	sum := 0.0
	for i := 0; i < size; i++ {
		sum += m.priorityCache[i]
		cumulative[i] = sum
	}

	indices := make([]int, n)
	probs := make([]float64, n)
	for i := range indices {
		u := m.rng.Float64() * sum
		index := sort.Search(size, func(j int) bool {
			return cumulative[j] > u
		})
		if index == size {
			index = size - 1
		}
		indices[i] = index
		probs[i] = m.priorityCache[index] / sum
	}

	batch, err := m.batchAt(indices)
	if err != nil {
		return nil, nil, fmt.Errorf("sampleByPriority: %v", err)
	}

	// Refresh priorities from the error function evaluated on the
	// sampled batch
	errs := errFn(batch)
	if len(errs) != n {
		return nil, nil,
			fmt.Errorf("sampleByPriority: invalid error function output "+
				"length \n\twant(%v)\n\thave(%v)", n, len(errs))
	}
	for i, index := range indices {
		p := errs[i]
		if p < 0 {
			p = -p
		}
		p += minPriority
		m.priorityCache[index] = p
		if p > m.maxPriority {
			m.maxPriority = p
		}
	}

	aux := timestep.NewAuxiliaryData(n)
	for i := range aux.Weights {
		aux.Weights[i] = 1.0 / (float64(size) * probs[i])
	}
	maxWeight := floatutils.Max(aux.Weights...)
	for i := range aux.Weights {
		aux.Weights[i] /= maxWeight
	}

	return batch, aux, nil
}

// EarlyStart performs n memory-only insertions from the collector
// ahead of any training update and returns the raw collected sequence
// for warm-up use, such as seeding statistics. It touches neither the
// reward shaper nor the update algorithm.
func (m *ExperienceMemory) EarlyStart(n int, c Collector) (
	[]timestep.Transition, error) {
	if n <= 0 {
		return nil, fmt.Errorf("earlyStart: n must be > 0, got %v", n)
	}
	if c == nil {
		return nil, fmt.Errorf("earlyStart: no collector given")
	}

	transitions, err := c.Collect(n)
	if err != nil {
		return nil, fmt.Errorf("earlyStart: could not collect: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range transitions {
		if err := m.append(t); err != nil {
			return nil, fmt.Errorf("earlyStart: %v", err)
		}
	}

	return transitions, nil
}

// ApplyTransforms runs flat row-major observation data through the
// registered transform pipeline in order and returns the transformed
// data. With no registered transforms the input is returned unchanged.
// Transform state is read under the memory's mutex, so concurrent
// appends never expose a half-merged statistic.
func (m *ExperienceMemory) ApplyTransforms(data []float64) ([]float64,
	error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := data
	var err error
	for i, transform := range m.transforms {
		out, err = transform.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("applyTransforms: transform %v: %v", i,
				err)
		}
	}
	return out, nil
}

// sampleable returns an error if a batch of size n cannot be drawn
func (m *ExperienceMemory) sampleable(n int, op string) error {
	if m.size() == 0 {
		return &MemoryError{Op: op, Err: errInsufficientData}
	}
	if n <= 0 {
		return fmt.Errorf("%v: batch size must be > 0, got %v", op, n)
	}
	return nil
}

// batchAt copies the transitions at the given slot indices into a new
// Batch
func (m *ExperienceMemory) batchAt(indices []int) (*timestep.Batch, error) {
	n := len(indices)
	states := make([]float64, n*m.obsDim)
	actions := make([]float64, n*m.actionDim)
	rewards := make([]float64, n)
	nextStates := make([]float64, n*m.obsDim)
	dones := make([]bool, n)

	for i, index := range indices {
		copy(states[i*m.obsDim:(i+1)*m.obsDim],
			m.stateCache[index*m.obsDim:(index+1)*m.obsDim])
		copy(nextStates[i*m.obsDim:(i+1)*m.obsDim],
			m.nextStateCache[index*m.obsDim:(index+1)*m.obsDim])
		copy(actions[i*m.actionDim:(i+1)*m.actionDim],
			m.actionCache[index*m.actionDim:(index+1)*m.actionDim])
		rewards[i] = m.rewardCache[index]
		dones[i] = m.doneCache[index]
	}

	return timestep.NewBatch(m.obsDim, m.actionDim, states, actions,
		rewards, nextStates, dones)
}
