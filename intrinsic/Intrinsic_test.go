package intrinsic

import (
	"math"
	"testing"

	"github.com/samuelfneumann/gocuriosity/timestep"
	"github.com/samuelfneumann/gocuriosity/utils/floatutils"
	"github.com/samuelfneumann/gocuriosity/utils/statutils"
)

// stubSignal is a signal returning a fixed novelty score per
// transition and recording the batches it sees
type stubSignal struct {
	score    float64
	rewarded int
	updated  int
	lastObs  []float64
}

func (s *stubSignal) reward(batch *timestep.Batch) ([]float64, error) {
	s.rewarded++
	s.lastObs = batch.StateData()
	out := make([]float64, batch.Len())
	for i := range out {
		out[i] = s.score
	}
	return out, nil
}

func (s *stubSignal) update(batch *timestep.Batch,
	aux *timestep.AuxiliaryData) (float64, error) {
	s.updated++
	return s.score, nil
}

func newRewardBatch(t *testing.T) *timestep.Batch {
	t.Helper()

	batch, err := timestep.NewBatch(
		2, 1,
		[]float64{5, -5, 0.5, -0.5},
		[]float64{0, 1},
		[]float64{1, 2},
		[]float64{0.5, -0.5, 5, -5},
		[]bool{false, false},
	)
	if err != nil {
		t.Fatalf("could not create batch: %v", err)
	}
	return batch
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{IntCoef: -1, ExtCoef: 1}).Validate(); err == nil {
		t.Error("negative intrinsic coefficient accepted")
	}
	if err := (Config{IntCoef: 1, ExtCoef: -1}).Validate(); err == nil {
		t.Error("negative extrinsic coefficient accepted")
	}
	if err := (Config{IntCoef: 1, ExtCoef: 2}).Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestShaperBlendsRewards(t *testing.T) {
	sig := &stubSignal{score: 3}
	shaper, err := newShaper(sig, Config{IntCoef: 0.5, ExtCoef: 2})
	if err != nil {
		t.Fatalf("could not create shaper: %v", err)
	}

	batch := newRewardBatch(t)
	total, extrinsic, intrinsic, err := shaper.Reward(batch)
	if err != nil {
		t.Fatalf("could not compute rewards: %v", err)
	}

	for i := range total {
		want := 2*batch.Rewards()[i] + 0.5*3
		if math.Abs(total[i]-want) > 1e-12 {
			t.Errorf("total reward %v \n\twant(%v)\n\thave(%v)", i, want,
				total[i])
		}
		if intrinsic[i] != 0.5*3 {
			t.Errorf("intrinsic reward %v \n\twant(%v)\n\thave(%v)", i,
				0.5*3, intrinsic[i])
		}
		if extrinsic[i] != 2*batch.Rewards()[i] {
			t.Errorf("extrinsic reward %v \n\twant(%v)\n\thave(%v)", i,
				2*batch.Rewards()[i], extrinsic[i])
		}
	}
}

// With normalization on, Reward must refuse to run before the scale
// statistic has seen any data, and must divide by the running standard
// deviation afterwards.
func TestShaperRewardNormalisation(t *testing.T) {
	sig := &stubSignal{score: 3}
	shaper, err := newShaper(sig, Config{
		IntCoef:             1,
		ExtCoef:             0,
		RewardNormalisation: true,
	})
	if err != nil {
		t.Fatalf("could not create shaper: %v", err)
	}

	batch := newRewardBatch(t)
	if _, _, _, err := shaper.Reward(batch); err == nil {
		t.Fatal("expected error before statistics are seeded, got nil")
	} else if !statutils.IsNotInitialised(err) {
		t.Fatalf("wrong error before statistics are seeded: %v", err)
	}

	if err := shaper.Initialise(batch); err != nil {
		t.Fatalf("could not initialise shaper: %v", err)
	}
	if sig.updated != 0 {
		t.Errorf("initialise trained the signal %v times", sig.updated)
	}

	total, _, intrinsic, err := shaper.Reward(batch)
	if err != nil {
		t.Fatalf("could not compute rewards: %v", err)
	}

	// The seeded scores are constant, so std = sqrt(Epsilon) and the
	// normalized score is score / sqrt(Epsilon)
	want := 3.0 / math.Sqrt(statutils.Epsilon)
	for i := range intrinsic {
		if math.Abs(intrinsic[i]-want) > 1e-6 {
			t.Errorf("normalized intrinsic reward %v \n\twant(%v)"+
				"\n\thave(%v)", i, want, intrinsic[i])
		}
		if total[i] != intrinsic[i] {
			t.Errorf("total reward %v should equal intrinsic with "+
				"extCoef 0, got %v and %v", i, total[i], intrinsic[i])
		}
	}
}

func TestShaperClipsObservations(t *testing.T) {
	sig := &stubSignal{score: 1}
	shaper, err := newShaper(sig, Config{
		IntCoef:           1,
		ExtCoef:           1,
		NormalisedObsClip: 1,
	})
	if err != nil {
		t.Fatalf("could not create shaper: %v", err)
	}

	batch := newRewardBatch(t)
	if _, _, _, err := shaper.Reward(batch); err != nil {
		t.Fatalf("could not compute rewards: %v", err)
	}

	for i, obs := range sig.lastObs {
		if obs > 1 || obs < -1 {
			t.Errorf("observation %v not clipped to [-1, 1]: %v", i, obs)
		}
	}
	if max := floatutils.Max(sig.lastObs...); max != 1 {
		t.Errorf("clipped observation max \n\twant(%v)\n\thave(%v)", 1.0,
			max)
	}

	// The source batch must be untouched
	if batch.StateData()[0] != 5 {
		t.Errorf("source batch mutated by clipping: %v",
			batch.StateData()[0])
	}
}

func TestShaperUpdateTrainsSignal(t *testing.T) {
	sig := &stubSignal{score: 2}
	shaper, err := newShaper(sig, Config{
		IntCoef:             1,
		ExtCoef:             1,
		RewardNormalisation: true,
	})
	if err != nil {
		t.Fatalf("could not create shaper: %v", err)
	}

	batch := newRewardBatch(t)
	if err := shaper.Update(batch, nil, 0); err != nil {
		t.Fatalf("could not update shaper: %v", err)
	}

	if sig.updated != 1 {
		t.Errorf("signal updates \n\twant(%v)\n\thave(%v)", 1, sig.updated)
	}
	// The scale statistic was fed before the signal trained, so Reward
	// works immediately after the first Update
	if _, _, _, err := shaper.Reward(batch); err != nil {
		t.Errorf("reward failed after update: %v", err)
	}

	log := shaper.GetLog()
	if _, ok := log["intrinsic_loss"]; !ok {
		t.Error("update did not log the intrinsic loss")
	}
}

// Without reward normalization, Update has no scale statistic to feed,
// so the raw signal must not be evaluated at all.
func TestShaperUpdateWithoutNormalisation(t *testing.T) {
	sig := &stubSignal{score: 2}
	shaper, err := newShaper(sig, Config{IntCoef: 1, ExtCoef: 1})
	if err != nil {
		t.Fatalf("could not create shaper: %v", err)
	}

	batch := newRewardBatch(t)
	if err := shaper.Update(batch, nil, 0); err != nil {
		t.Fatalf("could not update shaper: %v", err)
	}
	if err := shaper.Initialise(batch); err != nil {
		t.Fatalf("could not initialise shaper: %v", err)
	}

	if sig.updated != 1 {
		t.Errorf("signal updates \n\twant(%v)\n\thave(%v)", 1, sig.updated)
	}
	if sig.rewarded != 0 {
		t.Errorf("signal evaluations \n\twant(%v)\n\thave(%v)", 0,
			sig.rewarded)
	}
	if shaper.stat.Initialised() {
		t.Error("scale statistic seeded with normalization disabled")
	}
}

// Empty batches carry nothing to shape or train on and must be
// rejected rather than produce NaN statistics.
func TestShaperRejectsEmptyBatch(t *testing.T) {
	sig := &stubSignal{score: 1}
	shaper, err := newShaper(sig, Config{IntCoef: 1, ExtCoef: 1})
	if err != nil {
		t.Fatalf("could not create shaper: %v", err)
	}

	empty, err := timestep.NewBatch(2, 1, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("could not create batch: %v", err)
	}

	if _, _, _, err := shaper.Reward(empty); err == nil {
		t.Error("expected error rewarding an empty batch, got nil")
	}
	if err := shaper.Update(empty, nil, 0); err == nil {
		t.Error("expected error updating on an empty batch, got nil")
	}
	if err := shaper.Initialise(empty); err == nil {
		t.Error("expected error initialising from an empty batch, got nil")
	}
}

func TestNoIntrinsicReward(t *testing.T) {
	shaper, err := NewNoIntrinsicReward(Config{IntCoef: 1, ExtCoef: 1})
	if err != nil {
		t.Fatalf("could not create shaper: %v", err)
	}
	batch := newRewardBatch(t)

	total, extrinsic, intrinsic, err := shaper.Reward(batch)
	if err != nil {
		t.Fatalf("could not compute rewards: %v", err)
	}

	for i := range total {
		if total[i] != batch.Rewards()[i] {
			t.Errorf("total reward %v \n\twant(%v)\n\thave(%v)", i,
				batch.Rewards()[i], total[i])
		}
		if extrinsic[i] != batch.Rewards()[i] {
			t.Errorf("extrinsic reward %v \n\twant(%v)\n\thave(%v)", i,
				batch.Rewards()[i], extrinsic[i])
		}
		if intrinsic[i] != 0 {
			t.Errorf("intrinsic reward %v \n\twant(%v)\n\thave(%v)", i,
				0.0, intrinsic[i])
		}
	}

	if err := shaper.Update(batch, nil, 0); err != nil {
		t.Errorf("update failed: %v", err)
	}
	if err := shaper.Initialise(batch); err != nil {
		t.Errorf("initialise failed: %v", err)
	}
}
