package intrinsic

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gocuriosity/initwfn"
	"github.com/samuelfneumann/gocuriosity/network"
	"github.com/samuelfneumann/gocuriosity/solver"
	"github.com/samuelfneumann/gocuriosity/timestep"
)

// RNDConfig describes a random network distillation intrinsic signal
type RNDConfig struct {
	// ObsDim is the number of observation features
	ObsDim int

	// OutputDim is the number of features in the random embedding
	OutputDim int

	// HiddenSizes, Biases, and Activations describe the hidden layers
	// of both the predictor and the target networks
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation

	// Init initializes the weights of both networks. Each network
	// draws its own weights, so the target and predictor start apart.
	Init *initwfn.InitWFn

	// Solver optimizes the predictor network
	Solver *solver.Solver
}

// Validate returns an error describing why the config cannot be used
// to construct an RND signal, or nil if it can
func (c RNDConfig) Validate() error {
	if c.ObsDim <= 0 {
		return fmt.Errorf("obsDim must be > 0, got %v", c.ObsDim)
	}
	if c.OutputDim <= 0 {
		return fmt.Errorf("outputDim must be > 0, got %v", c.OutputDim)
	}
	if c.Init == nil {
		return fmt.Errorf("no weight initializer given")
	}
	if c.Solver == nil {
		return fmt.Errorf("no solver given")
	}
	return nil
}

// rnd implements the random network distillation intrinsic signal. A
// fixed, randomly initialized target network embeds next states; a
// predictor network is trained to match the embedding. The per-state
// squared prediction error is the novelty score: states seen often are
// predicted well and score low, unfamiliar states score high.
//
// Graphs in the underlying library have static batch dimensions, so
// rnd keeps one compiled trainer per batch size it has seen, all
// synchronized through canonical predictor and target networks.
type rnd struct {
	cfg RNDConfig

	predictor network.NeuralNet // Canonical weights
	target    network.NeuralNet

	trainers map[int]*rndTrainer
}

// rndTrainer holds the compiled graph computing the RND error and
// training loss at one fixed batch size
type rndTrainer struct {
	predictor network.NeuralNet
	target    network.NeuralNet

	weights *G.Node

	perSampleVal G.Value
	lossVal      G.Value

	vm     G.VM
	solver G.Solver
}

// NewRND returns an IntrinsicReward whose intrinsic signal is the
// random network distillation error, shaped according to cfg
func NewRND(rndCfg RNDConfig, cfg Config) (IntrinsicReward, error) {
	if err := rndCfg.Validate(); err != nil {
		return nil, fmt.Errorf("newRND: %v", err)
	}

	predictor, err := newRNDNet(rndCfg, 1)
	if err != nil {
		return nil, fmt.Errorf("newRND: could not create predictor: %v", err)
	}
	target, err := newRNDNet(rndCfg, 1)
	if err != nil {
		return nil, fmt.Errorf("newRND: could not create target: %v", err)
	}

	sig := &rnd{
		cfg:       rndCfg,
		predictor: predictor,
		target:    target,
		trainers:  make(map[int]*rndTrainer),
	}

	return newShaper(sig, cfg)
}

// newRNDNet creates one RND network on its own graph
func newRNDNet(cfg RNDConfig, batch int) (network.NeuralNet, error) {
	return network.NewMLP(cfg.ObsDim, batch, cfg.OutputDim, G.NewGraph(),
		cfg.HiddenSizes, cfg.Biases, cfg.Init.InitWFn(), cfg.Activations)
}

// trainer returns the compiled trainer for the given batch size,
// building and caching it on first use
func (r *rnd) trainer(batch int) (*rndTrainer, error) {
	if tr, ok := r.trainers[batch]; ok {
		return tr, nil
	}

	g := G.NewGraph()
	predictor, err := network.NewMLP(r.cfg.ObsDim, batch, r.cfg.OutputDim,
		g, r.cfg.HiddenSizes, r.cfg.Biases, r.cfg.Init.InitWFn(),
		r.cfg.Activations)
	if err != nil {
		return nil, fmt.Errorf("trainer: could not create predictor: %v",
			err)
	}
	target, err := network.NewMLP(r.cfg.ObsDim, batch, r.cfg.OutputDim,
		g, r.cfg.HiddenSizes, r.cfg.Biases, r.cfg.Init.InitWFn(),
		r.cfg.Activations)
	if err != nil {
		return nil, fmt.Errorf("trainer: could not create target: %v", err)
	}

	// Per-sample squared embedding error, then a weighted mean for the
	// training loss. Only the predictor learns.
	diff := G.Must(G.Sub(predictor.Prediction(), target.Prediction()))
	perSample := G.Must(G.Mean(G.Must(G.Square(diff)), 1))

	weights := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(batch),
		G.WithInit(G.Ones()),
		G.WithName("sampleWeights"),
	)
	loss := G.Must(G.Mean(G.Must(G.HadamardProd(perSample, weights))))

	tr := &rndTrainer{
		predictor: predictor,
		target:    target,
		weights:   weights,
		solver:    r.cfg.Solver.Config.Create(),
	}
	G.Read(perSample, &tr.perSampleVal)
	G.Read(loss, &tr.lossVal)

	if _, err := G.Grad(loss, predictor.Learnables()...); err != nil {
		return nil, fmt.Errorf("trainer: could not compute gradient: %v",
			err)
	}
	tr.vm = G.NewTapeMachine(g,
		G.BindDualValues(predictor.Learnables()...))

	r.trainers[batch] = tr
	return tr, nil
}

// run synchronizes a trainer with the canonical weights and executes
// one forward (and backward) pass over the batch's next states
func (r *rnd) run(batch *timestep.Batch, weights []float64) (*rndTrainer,
	error) {
	tr, err := r.trainer(batch.Len())
	if err != nil {
		return nil, err
	}

	if err := tr.predictor.Set(r.predictor); err != nil {
		return nil, fmt.Errorf("run: could not sync predictor: %v", err)
	}
	if err := tr.target.Set(r.target); err != nil {
		return nil, fmt.Errorf("run: could not sync target: %v", err)
	}

	nextStates := batch.NextStateData()
	if err := tr.predictor.SetInput(nextStates); err != nil {
		return nil, fmt.Errorf("run: %v", err)
	}
	if err := tr.target.SetInput(nextStates); err != nil {
		return nil, fmt.Errorf("run: %v", err)
	}

	w := tensor.NewDense(tensor.Float64, []int{batch.Len()},
		tensor.WithBacking(weights))
	if err := G.Let(tr.weights, w); err != nil {
		return nil, fmt.Errorf("run: %v", err)
	}

	if err := tr.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("run: %v", err)
	}
	return tr, nil
}

// reward returns the per-transition squared embedding error
func (r *rnd) reward(batch *timestep.Batch) ([]float64, error) {
	if batch.ObsDim() != r.cfg.ObsDim {
		return nil, fmt.Errorf("reward: invalid observation dimension"+
			"\n\twant(%v)\n\thave(%v)", r.cfg.ObsDim, batch.ObsDim())
	}

	unit := make([]float64, batch.Len())
	for i := range unit {
		unit[i] = 1.0
	}

	tr, err := r.run(batch, unit)
	if err != nil {
		return nil, err
	}
	defer tr.vm.Reset()

	// Size 1 batches produce a scalar-like value
	switch data := tr.perSampleVal.Data().(type) {
	case float64:
		return []float64{data}, nil
	case []float64:
		out := make([]float64, len(data))
		copy(out, data)
		return out, nil
	default:
		return nil, fmt.Errorf("reward: unexpected novelty value type %T",
			data)
	}
}

// update trains the predictor on the batch and returns the weighted
// training loss
func (r *rnd) update(batch *timestep.Batch,
	aux *timestep.AuxiliaryData) (float64, error) {
	if batch.ObsDim() != r.cfg.ObsDim {
		return 0, fmt.Errorf("update: invalid observation dimension"+
			"\n\twant(%v)\n\thave(%v)", r.cfg.ObsDim, batch.ObsDim())
	}

	weights := make([]float64, batch.Len())
	copy(weights, aux.Weights)

	tr, err := r.run(batch, weights)
	if err != nil {
		return 0, err
	}
	defer tr.vm.Reset()

	if err := tr.solver.Step(tr.predictor.Model()); err != nil {
		return 0, fmt.Errorf("update: could not step solver: %v", err)
	}

	// The trainer now holds the freshest predictor weights
	if err := r.predictor.Set(tr.predictor); err != nil {
		return 0, fmt.Errorf("update: could not sync predictor: %v", err)
	}

	return tr.lossVal.Data().(float64), nil
}
