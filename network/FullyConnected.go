package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer is a single layer of a feedforward network
type Layer interface {
	fwd(*G.Node) (*G.Node, error)
	CloneTo(g *G.ExprGraph) Layer
	Weights() *G.Node
	Bias() *G.Node
}

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFCLayer returns a fully connected layer of out units taking in
// features as input, adding its weights to the graph g
func newFCLayer(g *G.ExprGraph, in, out int, bias bool, act *Activation,
	init G.InitWFn, name string) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithInit(init),
		G.WithName(name+"W"),
	)

	var biasNode *G.Node
	if bias {
		biasNode = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(1, out),
			G.WithInit(G.Zeroes()),
			G.WithName(name+"B"),
		)
	}

	return &fcLayer{weights: weights, bias: biasNode, act: act}
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	x = G.Must(G.Mul(x, f.Weights()))
	if f.Bias() != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	if f.act == nil || f.act.IsIdentity() {
		return x, nil
	}
	return f.act.fwd(x)
}

// CloneTo clones an fcLayer to a new computational graph
func (f *fcLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if f.Weights() != nil {
		newWeights = f.Weights().CloneTo(g)
	}
	if f.Bias() != nil {
		newBias = f.Bias().CloneTo(g)
	}

	return &fcLayer{
		weights: newWeights,
		bias:    newBias,
		act:     f.act,
	}
}

// Weights returns the weight node of the layer
func (f *fcLayer) Weights() *G.Node {
	return f.weights
}

// Bias returns the bias node of the layer, or nil if the layer has no
// bias unit
func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

// addFCLayers constructs the fully connected layers of an MLP. For
// index i, sizes[i] is the number of units in layer i, biases[i]
// denotes whether layer i has a bias unit, and activations[i] is the
// activation of layer i.
func addFCLayers(g *G.ExprGraph, features int, sizes []int, biases []bool,
	activations []*Activation, init G.InitWFn) []Layer {
	layers := make([]Layer, len(sizes))

	in := features
	for i, out := range sizes {
		name := fmt.Sprintf("L%d", i)
		layers[i] = newFCLayer(g, in, out, biases[i], activations[i], init,
			name)
		in = out
	}
	return layers
}
