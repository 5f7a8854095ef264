// Package ppo implements proximal policy optimization with the
// clipped surrogate objective
package ppo

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gocuriosity/advantage"
	"github.com/samuelfneumann/gocuriosity/agent"
	"github.com/samuelfneumann/gocuriosity/timestep"
	"github.com/samuelfneumann/gocuriosity/utils/floatutils"
	"github.com/samuelfneumann/gocuriosity/utils/intutils"
)

// errDiverged indicates that an update produced non-finite values
var errDiverged = errors.New("policy update diverged")

// IsDivergence returns whether an error reports that an update
// produced non-finite losses, log probabilities, or advantages
func IsDivergence(err error) bool {
	return errors.Is(err, errDiverged)
}

// PPO updates a policy with the clipped surrogate objective. Each
// Update performs several epochs of shuffled minibatch gradient steps
// on the batch, with the probability ratio against the pre-update
// policy clipped to [1-ε, 1+ε].
//
// Graphs in the underlying library have static batch dimensions, so
// PPO keeps one compiled trainer per minibatch size it has seen and
// one forward-only evaluator per batch size, all synchronized through
// the canonical policy.
type PPO struct {
	cfg    Config
	policy agent.LogProber
	adv    advantage.Estimator
	rng    *rand.Rand

	trainers   map[int]*trainer
	evaluators map[int]*evaluator
}

// trainer holds the compiled loss graph for one fixed minibatch size
type trainer struct {
	policy agent.LogProber

	oldLogProb *G.Node
	advantages *G.Node
	lossVal    G.Value

	vm     G.VM
	solver G.Solver
}

// evaluator holds a forward-only policy clone for computing log
// probabilities under the pre-update policy at one fixed batch size
type evaluator struct {
	policy agent.LogProber
	vm     G.VM
}

// New returns a new PPO engine updating the given policy with
// advantages from the given Estimator
func New(policy agent.LogProber, adv advantage.Estimator,
	cfg Config) (*PPO, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if policy == nil {
		return nil, fmt.Errorf("new: no policy given")
	}
	if adv == nil {
		return nil, fmt.Errorf("new: no advantage estimator given")
	}

	return &PPO{
		cfg:        cfg,
		policy:     policy,
		adv:        adv,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		trainers:   make(map[int]*trainer),
		evaluators: make(map[int]*evaluator),
	}, nil
}

// Policy returns the policy the engine updates
func (p *PPO) Policy() agent.LogProber {
	return p.policy
}

// Update performs one full PPO update on the batch and returns the
// summed absolute surrogate loss across all gradient steps. The aux
// data carries per-transition weights for the advantage estimator;
// step is the number of environment steps seen so far.
func (p *PPO) Update(batch *timestep.Batch, aux *timestep.AuxiliaryData,
	step int) (float64, error) {
	n := batch.Len()
	if n == 0 {
		return 0, fmt.Errorf("update: empty batch")
	}
	if batch.ActionDim() != 1 {
		return 0, fmt.Errorf("update: actions must be single discrete "+
			"indices, got dimension %v", batch.ActionDim())
	}

	if err := p.adv.Update(batch, aux, step); err != nil {
		return 0, fmt.Errorf("update: could not update advantage "+
			"estimator: %v", err)
	}

	// Advantages are estimated once per update; later epochs reuse
	// them even though the baseline and policy have moved
	advantages, err := p.adv.A(batch)
	if err != nil {
		return 0, fmt.Errorf("update: could not estimate advantages: %v",
			err)
	}
	if !floatutils.Finite(advantages...) {
		return 0, fmt.Errorf("update: non-finite advantages: %w",
			errDiverged)
	}

	oldLogProb, err := p.oldLogProbs(batch)
	if err != nil {
		return 0, fmt.Errorf("update: %v", err)
	}
	if !floatutils.Finite(oldLogProb...) {
		return 0, fmt.Errorf("update: non-finite log probabilities: %w",
			errDiverged)
	}

	totalLoss := 0.0
	for epoch := 0; epoch < p.cfg.UpdateEpochs; epoch++ {
		perm := p.rng.Perm(n)

		numMinibatches := intutils.CeilDiv(n, p.cfg.MinibatchSize)
		for m := 0; m < numMinibatches; m++ {
			start := m * p.cfg.MinibatchSize
			end := intutils.Min(start+p.cfg.MinibatchSize, n)
			indices := perm[start:end]

			loss, err := p.stepMinibatch(batch, indices, oldLogProb,
				advantages)
			if err != nil {
				return 0, fmt.Errorf("update: epoch %v minibatch %v: %w",
					epoch, m, err)
			}

			totalLoss += math.Abs(loss)
		}
	}

	return totalLoss, nil
}

// oldLogProbs returns the log probability of each transition's action
// under the current, pre-update policy
func (p *PPO) oldLogProbs(batch *timestep.Batch) ([]float64, error) {
	ev, err := p.evaluator(batch.Len())
	if err != nil {
		return nil, err
	}

	err = ev.policy.Network().Set(p.policy.Network())
	if err != nil {
		return nil, fmt.Errorf("oldLogProbs: could not sync policy: %v",
			err)
	}

	_, err = ev.policy.LogProbOf(batch.StateData(), batch.ActionData())
	if err != nil {
		return nil, fmt.Errorf("oldLogProbs: %v", err)
	}
	if err := ev.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("oldLogProbs: %v", err)
	}
	defer ev.vm.Reset()

	return valueToSlice(ev.policy.LogProbVal())
}

// stepMinibatch performs one gradient step on the transitions at the
// given indices and returns the surrogate loss
func (p *PPO) stepMinibatch(batch *timestep.Batch, indices []int,
	oldLogProb, advantages []float64) (float64, error) {
	size := len(indices)
	tr, err := p.trainer(size)
	if err != nil {
		return 0, err
	}

	err = tr.policy.Network().Set(p.policy.Network())
	if err != nil {
		return 0, fmt.Errorf("stepMinibatch: could not sync policy: %v",
			err)
	}

	sub, err := batch.Select(indices)
	if err != nil {
		return 0, fmt.Errorf("stepMinibatch: %v", err)
	}

	old := make([]float64, size)
	adv := make([]float64, size)
	for i, index := range indices {
		old[i] = oldLogProb[index]
		adv[i] = advantages[index]
	}

	_, err = tr.policy.LogProbOf(sub.StateData(), sub.ActionData())
	if err != nil {
		return 0, fmt.Errorf("stepMinibatch: %v", err)
	}
	err = G.Let(tr.oldLogProb, tensor.NewDense(tensor.Float64,
		[]int{size}, tensor.WithBacking(old)))
	if err != nil {
		return 0, fmt.Errorf("stepMinibatch: %v", err)
	}
	err = G.Let(tr.advantages, tensor.NewDense(tensor.Float64,
		[]int{size}, tensor.WithBacking(adv)))
	if err != nil {
		return 0, fmt.Errorf("stepMinibatch: %v", err)
	}

	if err := tr.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("stepMinibatch: %v", err)
	}
	defer tr.vm.Reset()

	if err := tr.solver.Step(tr.policy.Network().Model()); err != nil {
		return 0, fmt.Errorf("stepMinibatch: could not step solver: %v",
			err)
	}

	err = p.policy.Network().Set(tr.policy.Network())
	if err != nil {
		return 0, fmt.Errorf("stepMinibatch: could not sync policy: %v",
			err)
	}

	loss := tr.lossVal.Data().(float64)
	if !floatutils.Finite(loss) {
		return 0, fmt.Errorf("stepMinibatch: non-finite loss: %w",
			errDiverged)
	}
	return loss, nil
}

// trainer returns the compiled trainer for the given minibatch size,
// building and caching it on first use
func (p *PPO) trainer(size int) (*trainer, error) {
	if tr, ok := p.trainers[size]; ok {
		return tr, nil
	}

	policy, err := p.policy.CloneWithBatch(size)
	if err != nil {
		return nil, fmt.Errorf("trainer: could not clone policy: %v", err)
	}
	g := policy.Network().Graph()

	oldLogProb := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(size),
		G.WithInit(G.Zeroes()),
		G.WithName("oldLogProb"),
	)
	advantages := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(size),
		G.WithInit(G.Zeroes()),
		G.WithName("advantages"),
	)

	loss, err := surrogateLoss(policy.LogProbNode(), oldLogProb,
		advantages, p.cfg.ClipRatio)
	if err != nil {
		return nil, fmt.Errorf("trainer: could not build loss: %v", err)
	}

	tr := &trainer{
		policy:     policy,
		oldLogProb: oldLogProb,
		advantages: advantages,
		solver:     p.cfg.Solver.Config.Create(),
	}
	G.Read(loss, &tr.lossVal)

	learnables := policy.Network().Learnables()
	if _, err := G.Grad(loss, learnables...); err != nil {
		return nil, fmt.Errorf("trainer: could not compute gradient: %v",
			err)
	}
	tr.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))

	p.trainers[size] = tr
	return tr, nil
}

// evaluator returns the forward-only policy clone for the given batch
// size, building and caching it on first use
func (p *PPO) evaluator(size int) (*evaluator, error) {
	if ev, ok := p.evaluators[size]; ok {
		return ev, nil
	}

	policy, err := p.policy.CloneWithBatch(size)
	if err != nil {
		return nil, fmt.Errorf("evaluator: could not clone policy: %v",
			err)
	}

	ev := &evaluator{
		policy: policy,
		vm:     G.NewTapeMachine(policy.Network().Graph()),
	}
	p.evaluators[size] = ev
	return ev, nil
}

// surrogateLoss adds the negated clipped surrogate objective to the
// graph of its argument nodes:
//
//	L = -mean(min(ρ·A, clip(ρ, 1-ε, 1+ε)·A))
//
// where ρ = exp(logProb - oldLogProb) is the probability ratio.
func surrogateLoss(logProb, oldLogProb, advantages *G.Node,
	clipRatio float64) (*G.Node, error) {
	diff, err := G.Sub(logProb, oldLogProb)
	if err != nil {
		return nil, fmt.Errorf("surrogateLoss: %v", err)
	}
	ratio, err := G.Exp(diff)
	if err != nil {
		return nil, fmt.Errorf("surrogateLoss: %v", err)
	}

	unclipped, err := G.HadamardProd(ratio, advantages)
	if err != nil {
		return nil, fmt.Errorf("surrogateLoss: %v", err)
	}

	clippedRatio, err := clipElem(ratio, 1-clipRatio, 1+clipRatio)
	if err != nil {
		return nil, fmt.Errorf("surrogateLoss: %v", err)
	}
	clipped, err := G.HadamardProd(clippedRatio, advantages)
	if err != nil {
		return nil, fmt.Errorf("surrogateLoss: %v", err)
	}

	objective, err := minElem(unclipped, clipped)
	if err != nil {
		return nil, fmt.Errorf("surrogateLoss: %v", err)
	}
	mean, err := G.Mean(objective)
	if err != nil {
		return nil, fmt.Errorf("surrogateLoss: %v", err)
	}
	return G.Neg(mean)
}

// minElem computes the elementwise minimum of two nodes of the same
// shape as (a + b - |a - b|) / 2
func minElem(a, b *G.Node) (*G.Node, error) {
	sum, err := G.Add(a, b)
	if err != nil {
		return nil, err
	}
	diff, err := G.Sub(a, b)
	if err != nil {
		return nil, err
	}
	diff, err = G.Abs(diff)
	if err != nil {
		return nil, err
	}
	num, err := G.Sub(sum, diff)
	if err != nil {
		return nil, err
	}
	half := G.NewConstant(0.5)
	return G.Mul(num, half)
}

// maxScalar computes the elementwise maximum of a node and a scalar as
// (a + s + |a - s|) / 2
func maxScalar(a *G.Node, s float64) (*G.Node, error) {
	scalar := G.NewConstant(s)
	sum, err := G.Add(a, scalar)
	if err != nil {
		return nil, err
	}
	diff, err := G.Sub(a, scalar)
	if err != nil {
		return nil, err
	}
	diff, err = G.Abs(diff)
	if err != nil {
		return nil, err
	}
	num, err := G.Add(sum, diff)
	if err != nil {
		return nil, err
	}
	half := G.NewConstant(0.5)
	return G.Mul(num, half)
}

// minScalar computes the elementwise minimum of a node and a scalar as
// (a + s - |a - s|) / 2
func minScalar(a *G.Node, s float64) (*G.Node, error) {
	scalar := G.NewConstant(s)
	sum, err := G.Add(a, scalar)
	if err != nil {
		return nil, err
	}
	diff, err := G.Sub(a, scalar)
	if err != nil {
		return nil, err
	}
	diff, err = G.Abs(diff)
	if err != nil {
		return nil, err
	}
	num, err := G.Sub(sum, diff)
	if err != nil {
		return nil, err
	}
	half := G.NewConstant(0.5)
	return G.Mul(num, half)
}

// clipElem clips each element of a node to [lo, hi]
func clipElem(a *G.Node, lo, hi float64) (*G.Node, error) {
	clipped, err := maxScalar(a, lo)
	if err != nil {
		return nil, err
	}
	return minScalar(clipped, hi)
}

// valueToSlice extracts a float64 slice from a graph value, handling
// the scalar-like values produced by size 1 batches
func valueToSlice(v G.Value) ([]float64, error) {
	switch data := v.Data().(type) {
	case float64:
		return []float64{data}, nil
	case []float64:
		out := make([]float64, len(data))
		copy(out, data)
		return out, nil
	default:
		return nil, fmt.Errorf("valueToSlice: unexpected value type %T",
			data)
	}
}
