package intrinsic

import (
	"testing"

	"github.com/samuelfneumann/gocuriosity/initwfn"
	"github.com/samuelfneumann/gocuriosity/network"
	"github.com/samuelfneumann/gocuriosity/solver"
	"github.com/samuelfneumann/gocuriosity/timestep"
	"github.com/samuelfneumann/gocuriosity/utils/floatutils"
)

func newTestRND(t *testing.T, cfg Config) IntrinsicReward {
	t.Helper()

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}
	adam, err := solver.NewDefaultAdam(0.01, 1)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	rnd, err := NewRND(RNDConfig{
		ObsDim:      2,
		OutputDim:   4,
		HiddenSizes: []int{8},
		Biases:      []bool{true},
		Activations: []*network.Activation{network.ReLU()},
		Init:        init,
		Solver:      adam,
	}, cfg)
	if err != nil {
		t.Fatalf("could not create RND: %v", err)
	}
	return rnd
}

func TestRNDConfigValidate(t *testing.T) {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}
	adam, err := solver.NewDefaultAdam(0.01, 1)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	configs := []RNDConfig{
		{ObsDim: 0, OutputDim: 4, Init: init, Solver: adam},
		{ObsDim: 2, OutputDim: 0, Init: init, Solver: adam},
		{ObsDim: 2, OutputDim: 4, Init: nil, Solver: adam},
		{ObsDim: 2, OutputDim: 4, Init: init, Solver: nil},
	}
	for i, cfg := range configs {
		if err := cfg.Validate(); err == nil {
			t.Errorf("config %v: expected validation error, got nil", i)
		}
	}
}

func TestRNDRewardFiniteNonNegative(t *testing.T) {
	rnd := newTestRND(t, Config{IntCoef: 1, ExtCoef: 1})
	batch := newRewardBatch(t)

	_, _, intrinsic, err := rnd.Reward(batch)
	if err != nil {
		t.Fatalf("could not compute rewards: %v", err)
	}

	if len(intrinsic) != batch.Len() {
		t.Fatalf("intrinsic reward length \n\twant(%v)\n\thave(%v)",
			batch.Len(), len(intrinsic))
	}
	if !floatutils.Finite(intrinsic...) {
		t.Fatalf("intrinsic rewards not finite: %v", intrinsic)
	}
	for i, r := range intrinsic {
		if r < 0 {
			t.Errorf("intrinsic reward %v is negative: %v", i, r)
		}
	}
}

// Training the predictor on a fixed batch must shrink the novelty
// score of that batch.
func TestRNDUpdateReducesNovelty(t *testing.T) {
	rnd := newTestRND(t, Config{IntCoef: 1, ExtCoef: 0})
	batch := newRewardBatch(t)

	_, _, before, err := rnd.Reward(batch)
	if err != nil {
		t.Fatalf("could not compute rewards: %v", err)
	}

	for i := 0; i < 100; i++ {
		err := rnd.Update(batch, timestep.NewAuxiliaryData(batch.Len()), i)
		if err != nil {
			t.Fatalf("could not update RND: %v", err)
		}
	}

	_, _, after, err := rnd.Reward(batch)
	if err != nil {
		t.Fatalf("could not compute rewards: %v", err)
	}

	if floatutils.Mean(after...) >= floatutils.Mean(before...) {
		t.Errorf("novelty did not shrink with training: before %v, "+
			"after %v", floatutils.Mean(before...),
			floatutils.Mean(after...))
	}
}

// Batches of different sizes must see the same predictor weights.
func TestRNDBatchSizeConsistency(t *testing.T) {
	rnd := newTestRND(t, Config{IntCoef: 1, ExtCoef: 0})
	batch := newRewardBatch(t)

	_, _, full, err := rnd.Reward(batch)
	if err != nil {
		t.Fatalf("could not compute rewards: %v", err)
	}

	single, err := batch.Select([]int{0})
	if err != nil {
		t.Fatalf("could not select transition: %v", err)
	}
	_, _, one, err := rnd.Reward(single)
	if err != nil {
		t.Fatalf("could not compute rewards: %v", err)
	}

	diff := full[0] - one[0]
	if diff < -1e-10 || diff > 1e-10 {
		t.Errorf("novelty differs across batch sizes \n\twant(%v)"+
			"\n\thave(%v)", full[0], one[0])
	}
}
