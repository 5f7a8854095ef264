// Package policy implements stochastic policies parameterized by
// neural networks
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gocuriosity/agent"
	"github.com/samuelfneumann/gocuriosity/initwfn"
	"github.com/samuelfneumann/gocuriosity/network"
)

// CategoricalConfig describes a CategoricalMLP policy
type CategoricalConfig struct {
	Features    int
	Actions     int
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation
	Init        *initwfn.InitWFn
	Seed        uint64
}

// Validate returns an error describing why the config cannot be used
// to construct a CategoricalMLP, or nil if it can
func (c CategoricalConfig) Validate() error {
	if c.Features <= 0 {
		return fmt.Errorf("features must be > 0, got %v", c.Features)
	}
	if c.Actions <= 1 {
		return fmt.Errorf("actions must be > 1, got %v", c.Actions)
	}
	if c.Init == nil {
		return fmt.Errorf("no weight initializer given")
	}
	return nil
}

// CategoricalMLP is a softmax policy over a discrete action set. An
// MLP predicts one logit per action, actions are drawn from the
// resulting categorical distribution, and the log probability of
// externally chosen actions is exposed as a graph node for
// policy-gradient losses.
type CategoricalMLP struct {
	cfg CategoricalConfig
	net network.NeuralNet

	logits     *G.Node
	logitsVal  G.Value
	actionMask *G.Node

	logProb    *G.Node
	logProbVal G.Value

	vm  G.VM // Forward pass machine, action selection only
	rng *rand.Rand
}

// NewCategoricalMLP returns a new CategoricalMLP computing log
// probabilities for batch states and actions at a time. Only a policy
// with batch size 1 can select actions.
func NewCategoricalMLP(cfg CategoricalConfig, batch int) (*CategoricalMLP,
	error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("newCategoricalMLP: %v", err)
	}

	g := G.NewGraph()
	net, err := network.NewMLP(cfg.Features, batch, cfg.Actions, g,
		cfg.HiddenSizes, cfg.Biases, cfg.Init.InitWFn(), cfg.Activations)
	if err != nil {
		return nil, fmt.Errorf("newCategoricalMLP: could not create "+
			"policy network: %v", err)
	}

	logits := net.Prediction()

	// Log probability of actions inputted through LogProbOf: mask out
	// all logits except the chosen action's, then subtract the
	// log-partition per row
	actionMask := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, cfg.Actions),
		G.WithInit(G.Zeroes()),
		G.WithName("actionMask"),
	)
	chosenLogits := G.Must(G.HadamardProd(actionMask, logits))
	chosenLogits = G.Must(G.Sum(chosenLogits, 1))
	logProb := G.Must(G.Sub(chosenLogits, logSumExp(logits, 1)))

	pol := &CategoricalMLP{
		cfg:        cfg,
		net:        net,
		logits:     logits,
		actionMask: actionMask,
		logProb:    logProb,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
	G.Read(pol.logits, &pol.logitsVal)
	G.Read(pol.logProb, &pol.logProbVal)

	if batch == 1 {
		pol.vm = G.NewTapeMachine(g)
	}

	return pol, nil
}

// logSumExp computes log(Σ exp(logits)) along an axis with the
// max-subtraction trick for numerical stability
func logSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// SelectAction samples an action from the policy's distribution for
// the given observation. Only a batch size 1 policy selects actions.
func (c *CategoricalMLP) SelectAction(obs mat.Vector) (*mat.VecDense,
	error) {
	if c.vm == nil {
		return nil, fmt.Errorf("selectAction: batch size %v policy "+
			"cannot select actions", c.net.BatchSize())
	}
	if obs.Len() != c.cfg.Features {
		return nil, fmt.Errorf("selectAction: invalid observation length"+
			"\n\twant(%v)\n\thave(%v)", c.cfg.Features, obs.Len())
	}

	input := make([]float64, obs.Len())
	for i := range input {
		input[i] = obs.AtVec(i)
	}
	if err := c.net.SetInput(input); err != nil {
		return nil, fmt.Errorf("selectAction: %v", err)
	}
	if err := c.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("selectAction: %v", err)
	}
	logits := c.logitsVal.Data().([]float64)
	probs := softmax(logits)
	c.vm.Reset()

	dist := distuv.NewCategorical(probs, c.rng)
	action := dist.Rand()

	return mat.NewVecDense(1, []float64{action}), nil
}

// softmax converts logits to probabilities with the max-subtraction
// trick
func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, l := range logits {
		if l > max {
			max = l
		}
	}

	probs := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		probs[i] = math.Exp(l - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// LogProbOf readies the graph to compute the log probabilities of
// taking the argument actions in the argument states. Actions are
// discrete indices, one per state.
func (c *CategoricalMLP) LogProbOf(states, actions []float64) (*G.Node,
	error) {
	batch := c.net.BatchSize()
	if len(states) != batch*c.cfg.Features {
		return nil, fmt.Errorf("logProbOf: invalid states length "+
			"\n\twant(%v)\n\thave(%v)", batch*c.cfg.Features, len(states))
	}
	if len(actions) != batch {
		return nil, fmt.Errorf("logProbOf: invalid actions length "+
			"\n\twant(%v)\n\thave(%v)", batch, len(actions))
	}

	if err := c.net.SetInput(states); err != nil {
		return nil, fmt.Errorf("logProbOf: %v", err)
	}

	mask := make([]float64, batch*c.cfg.Actions)
	for i, a := range actions {
		index := int(a)
		if index < 0 || index >= c.cfg.Actions {
			return nil, fmt.Errorf("logProbOf: action %v out of range "+
				"[0, %v)", index, c.cfg.Actions)
		}
		mask[i*c.cfg.Actions+index] = 1.0
	}
	maskTensor := tensor.NewDense(
		tensor.Float64,
		[]int{batch, c.cfg.Actions},
		tensor.WithBacking(mask),
	)
	if err := G.Let(c.actionMask, maskTensor); err != nil {
		return nil, fmt.Errorf("logProbOf: %v", err)
	}

	return c.logProb, nil
}

// LogProbNode returns the node holding the log probabilities of the
// actions last passed to LogProbOf
func (c *CategoricalMLP) LogProbNode() *G.Node {
	return c.logProb
}

// LogProbVal returns the value of LogProbNode after the graph has
// been run
func (c *CategoricalMLP) LogProbVal() G.Value {
	return c.logProbVal
}

// Network returns the neural network parameterizing the policy
func (c *CategoricalMLP) Network() network.NeuralNet {
	return c.net
}

// CloneWithBatch clones the policy to a fresh graph with a new batch
// size, copying the current weight values
func (c *CategoricalMLP) CloneWithBatch(batch int) (agent.LogProber,
	error) {
	clone, err := NewCategoricalMLP(c.cfg, batch)
	if err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %v", err)
	}
	if err := clone.net.Set(c.net); err != nil {
		return nil, fmt.Errorf("cloneWithBatch: could not copy weights: %v",
			err)
	}
	return clone, nil
}
