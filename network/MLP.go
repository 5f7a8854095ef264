package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// mlp implements a multi-layered perceptron predicting a vector of
// outputs values per input sample
type mlp struct {
	g      *G.ExprGraph
	layers []Layer
	input  *G.Node

	numOutputs int
	numInputs  int
	batchSize  int

	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMLP creates and returns a new multi-layered perceptron on the
// graph g, predicting outputs values for each of batch input samples
// of features features.
//
// The MLP has len(hiddenSizes) + 1 layers: a final linear layer with a
// bias unit and no activation is always added so that the network
// predicts exactly outputs values. For index i, hiddenSizes[i] is the
// number of units in hidden layer i, biases[i] denotes whether hidden
// layer i has a bias unit, and activations[i] is the activation
// function of hidden layer i. The parameter init determines the
// weight initialization scheme.
func NewMLP(features, batch, outputs int, g *G.ExprGraph, hiddenSizes []int,
	biases []bool, init G.InitWFn, activations []*Activation) (NeuralNet,
	error) {
	if features <= 0 || batch <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("newMLP: non-positive dimensions "+
			"(features %v, batch %v, outputs %v)", features, batch, outputs)
	}
	if len(hiddenSizes) != len(activations) {
		return nil, fmt.Errorf("newMLP: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		return nil, fmt.Errorf("newMLP: invalid number of biases"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(biases))
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	// Final linear layer so that the network always predicts outputs
	// values per sample
	sizes := make([]int, len(hiddenSizes), len(hiddenSizes)+1)
	copy(sizes, hiddenSizes)
	sizes = append(sizes, outputs)
	layerBiases := make([]bool, len(biases), len(biases)+1)
	copy(layerBiases, biases)
	layerBiases = append(layerBiases, true)
	layerActivations := make([]*Activation, len(activations),
		len(activations)+1)
	copy(layerActivations, activations)
	layerActivations = append(layerActivations, Identity())

	layers := addFCLayers(g, features, sizes, layerBiases, layerActivations,
		init)

	net := &mlp{
		g:           g,
		layers:      layers,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: sizes,
		biases:      layerBiases,
		activations: layerActivations,
	}

	if _, err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("newMLP: could not compute forward pass: %v",
			err)
	}

	return net, nil
}

// Graph returns the computational graph of the mlp
func (e *mlp) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones an mlp to a fresh graph
func (e *mlp) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithBatch clones an mlp to a fresh graph with a new input batch
// size
func (e *mlp) CloneWithBatch(batchSize int) (NeuralNet, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("cloneWithBatch: batch size must be > 0, "+
			"got %v", batchSize)
	}

	graph := G.NewGraph()
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	layers := make([]Layer, len(e.layers))
	for i := range e.layers {
		layers[i] = e.layers[i].CloneTo(graph)
	}

	net := &mlp{
		g:           graph,
		layers:      layers,
		input:       input,
		numOutputs:  e.numOutputs,
		numInputs:   e.numInputs,
		batchSize:   batchSize,
		hiddenSizes: e.hiddenSizes,
		biases:      e.biases,
		activations: e.activations,
	}

	if _, err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("cloneWithBatch: could not compute forward "+
			"pass: %v", err)
	}

	return net, nil
}

// BatchSize returns the number of input samples per forward pass
func (e *mlp) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features per input sample
func (e *mlp) Features() int {
	return e.numInputs
}

// Outputs returns the number of predictions per input sample
func (e *mlp) Outputs() int {
	return e.numOutputs
}

// SetInput sets the value of the input node before running the graph
func (e *mlp) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		return fmt.Errorf("setInput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", e.numInputs*e.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set sets the weights of the mlp to be equal to the weights of
// another network with the same architecture
func (e *mlp) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := e.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: architecture mismatch \n\twant(%v "+
			"learnables)\n\thave(%v)", len(nodes), len(sourceNodes))
	}
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes of the mlp
func (e *mlp) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(e.layers))
		for i := range e.layers {
			learnables = append(learnables, e.layers[i].Weights())
			if bias := e.layers[i].Bias(); bias != nil {
				learnables = append(learnables, bias)
			}
		}
		e.learnables = G.Nodes(learnables)
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients
func (e *mlp) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		model := make([]G.ValueGrad, 0, 2*len(e.layers))
		for _, node := range e.Learnables() {
			model = append(model, node)
		}
		e.model = model
	}
	return e.model
}

// fwd performs the forward pass of the mlp on the input node
func (e *mlp) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			return nil, fmt.Errorf("fwd: could not compute forward pass "+
				"of layer %v: %v", i, err)
		}
	}

	e.prediction = pred
	G.Read(e.prediction, &e.predVal)

	return pred, nil
}

// Output returns the value of the prediction node after the graph has
// been run
func (e *mlp) Output() G.Value {
	return e.predVal
}

// Prediction returns the prediction node of the graph
func (e *mlp) Prediction() *G.Node {
	return e.prediction
}
