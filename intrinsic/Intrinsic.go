// Package intrinsic augments environment rewards with learned
// curiosity signals
package intrinsic

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gocuriosity/timestep"
	"github.com/samuelfneumann/gocuriosity/utils/floatutils"
	"github.com/samuelfneumann/gocuriosity/utils/statutils"
)

// IntrinsicReward shapes environment rewards by blending them with an
// intrinsic exploration bonus.
type IntrinsicReward interface {
	// Reward returns the shaped reward of each transition in the
	// batch, along with the extrinsic and intrinsic components that
	// produced it
	Reward(batch *timestep.Batch) (total, extrinsic,
		intrinsic []float64, err error)

	// Update trains the underlying intrinsic signal on the batch. The
	// aux data carries per-transition weights; step is the number of
	// environment steps seen so far.
	Update(batch *timestep.Batch, aux *timestep.AuxiliaryData,
		step int) error

	// Initialise seeds the reward normalization statistics from the
	// batch without training the intrinsic signal
	Initialise(batch *timestep.Batch) error

	// GetLog returns diagnostics from the most recent Reward and
	// Update calls
	GetLog() map[string]float64
}

// signal produces a raw, unnormalized intrinsic reward per transition
// and learns from batches of transitions.
type signal interface {
	// reward returns one non-negative novelty score per transition
	reward(batch *timestep.Batch) ([]float64, error)

	// update trains the signal on the batch and returns its training
	// loss
	update(batch *timestep.Batch, aux *timestep.AuxiliaryData) (float64,
		error)
}

// Config describes how raw intrinsic signals are blended with
// environment rewards
type Config struct {
	// IntCoef scales the intrinsic component of the shaped reward
	IntCoef float64

	// ExtCoef scales the extrinsic component of the shaped reward
	ExtCoef float64

	// RewardNormalisation divides intrinsic rewards by their running
	// standard deviation before blending
	RewardNormalisation bool

	// NormalisedObsClip symmetrically clips observations to
	// [-NormalisedObsClip, NormalisedObsClip] before they reach the
	// intrinsic signal. A value <= 0 disables clipping.
	NormalisedObsClip float64
}

// Validate returns an error describing why the config cannot be used,
// or nil if it can
func (c Config) Validate() error {
	if c.IntCoef < 0 {
		return fmt.Errorf("intrinsic coefficient must be >= 0, got %v",
			c.IntCoef)
	}
	if c.ExtCoef < 0 {
		return fmt.Errorf("extrinsic coefficient must be >= 0, got %v",
			c.ExtCoef)
	}
	return nil
}

// shaper implements IntrinsicReward on top of any signal, holding the
// blending, clipping, normalization, and logging behaviour shared by
// all intrinsic reward types.
type shaper struct {
	cfg  Config
	sig  signal
	stat *statutils.RunningStat // Intrinsic reward scale
	log  map[string]float64
}

func newShaper(sig signal, cfg Config) (*shaper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("newShaper: %v", err)
	}

	stat, err := statutils.NewRunningStat(1)
	if err != nil {
		return nil, fmt.Errorf("newShaper: %v", err)
	}

	return &shaper{
		cfg:  cfg,
		sig:  sig,
		stat: stat,
		log:  make(map[string]float64),
	}, nil
}

// clipObs returns a batch whose observations have been symmetrically
// clipped, or the batch itself when clipping is disabled
func (s *shaper) clipObs(batch *timestep.Batch) (*timestep.Batch, error) {
	clip := s.cfg.NormalisedObsClip
	if clip <= 0 {
		return batch, nil
	}

	states := batch.StateData()
	nextStates := batch.NextStateData()
	clippedStates := make([]float64, len(states))
	clippedNextStates := make([]float64, len(nextStates))
	for i := range states {
		clippedStates[i] = floatutils.Clip(states[i], -clip, clip)
	}
	for i := range nextStates {
		clippedNextStates[i] = floatutils.Clip(nextStates[i], -clip, clip)
	}

	return batch.WithObservations(clippedStates, clippedNextStates)
}

// normalise divides raw intrinsic rewards by their running standard
// deviation. The statistic must hold data before the first call.
func (s *shaper) normalise(raw []float64) ([]float64, error) {
	if !s.cfg.RewardNormalisation {
		return raw, nil
	}
	if !s.stat.Initialised() {
		return nil, fmt.Errorf("normalise: %w", statutils.ErrNotInitialised)
	}

	std := s.stat.Std()[0]
	normalised := make([]float64, len(raw))
	for i, r := range raw {
		normalised[i] = r / std
	}
	return normalised, nil
}

// Reward returns the shaped reward of each transition in the batch.
// The extrinsic and intrinsic components are returned already scaled
// by their coefficients, so total[i] = extrinsic[i] + intrinsic[i].
func (s *shaper) Reward(batch *timestep.Batch) ([]float64, []float64,
	[]float64, error) {
	if batch.Len() == 0 {
		return nil, nil, nil, fmt.Errorf("reward: empty batch")
	}

	clipped, err := s.clipObs(batch)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reward: %v", err)
	}

	raw, err := s.sig.reward(clipped)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reward: %v", err)
	}

	normalised, err := s.normalise(raw)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reward: %w", err)
	}

	s.log["intrinsic_reward_mean"] = floatutils.Mean(normalised...)
	s.log["intrinsic_reward_max"] = floatutils.Max(normalised...)
	s.log["extrinsic_reward_mean"] = floatutils.Mean(batch.Rewards()...)

	total := make([]float64, batch.Len())
	extrinsic := make([]float64, batch.Len())
	intrinsic := make([]float64, batch.Len())
	for i := range total {
		extrinsic[i] = s.cfg.ExtCoef * batch.Rewards()[i]
		intrinsic[i] = s.cfg.IntCoef * normalised[i]
		total[i] = extrinsic[i] + intrinsic[i]
	}
	if !floatutils.Finite(total...) {
		return nil, nil, nil, fmt.Errorf("reward: shaped reward is not " +
			"finite")
	}

	return total, extrinsic, intrinsic, nil
}

// Update trains the intrinsic signal on the batch. When reward
// normalization is enabled, the reward scale statistic is updated from
// the raw signal before the signal trains so that the scale always
// reflects the signal that produced it.
func (s *shaper) Update(batch *timestep.Batch, aux *timestep.AuxiliaryData,
	step int) error {
	if batch.Len() == 0 {
		return fmt.Errorf("update: empty batch")
	}
	if aux == nil {
		aux = timestep.NewAuxiliaryData(batch.Len())
	}
	if err := aux.Check(batch.Len()); err != nil {
		return fmt.Errorf("update: %v", err)
	}

	clipped, err := s.clipObs(batch)
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}

	if s.cfg.RewardNormalisation {
		raw, err := s.sig.reward(clipped)
		if err != nil {
			return fmt.Errorf("update: %v", err)
		}
		err = s.stat.AddBatch(mat.NewDense(len(raw), 1, raw), aux.Weights)
		if err != nil {
			return fmt.Errorf("update: %v", err)
		}
	}

	loss, err := s.sig.update(clipped, aux)
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}
	s.log["intrinsic_loss"] = loss

	return nil
}

// Initialise seeds the reward scale statistic from the batch without
// training the intrinsic signal. It is a no-op when reward
// normalization is disabled.
func (s *shaper) Initialise(batch *timestep.Batch) error {
	if batch.Len() == 0 {
		return fmt.Errorf("initialise: empty batch")
	}
	if !s.cfg.RewardNormalisation {
		return nil
	}

	clipped, err := s.clipObs(batch)
	if err != nil {
		return fmt.Errorf("initialise: %v", err)
	}

	raw, err := s.sig.reward(clipped)
	if err != nil {
		return fmt.Errorf("initialise: %v", err)
	}

	err = s.stat.AddBatch(mat.NewDense(len(raw), 1, raw), nil)
	if err != nil {
		return fmt.Errorf("initialise: %v", err)
	}
	return nil
}

// GetLog returns a copy of the shaper's diagnostics
func (s *shaper) GetLog() map[string]float64 {
	log := make(map[string]float64, len(s.log))
	for k, v := range s.log {
		log[k] = v
	}
	return log
}

// zeroSignal is the null intrinsic signal: every transition scores 0
// and there is nothing to train
type zeroSignal struct{}

func (zeroSignal) reward(batch *timestep.Batch) ([]float64, error) {
	return make([]float64, batch.Len()), nil
}

func (zeroSignal) update(*timestep.Batch, *timestep.AuxiliaryData) (
	float64, error) {
	return 0, nil
}

// NewNoIntrinsicReward returns the baseline IntrinsicReward whose
// intrinsic component is always zero, so shaped rewards reduce to
// ExtCoef times the environment reward
func NewNoIntrinsicReward(cfg Config) (IntrinsicReward, error) {
	return newShaper(zeroSignal{}, cfg)
}
