// Package network implements feedforward function approximators on
// Gorgonia computational graphs
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a feedforward function approximator living on a
// Gorgonia computational graph. A NeuralNet owns its input node and
// forward pass; callers own the virtual machine that runs the graph
// and any loss constructed on top of the prediction node.
type NeuralNet interface {
	// Graph returns the computational graph the network lives on
	Graph() *G.ExprGraph

	// Clone clones the network to a fresh graph with the same batch
	// size. Weights are cloned by value.
	Clone() (NeuralNet, error)

	// CloneWithBatch clones the network to a fresh graph with a new
	// input batch size
	CloneWithBatch(int) (NeuralNet, error)

	// BatchSize returns the number of samples per forward pass
	BatchSize() int

	// Features returns the number of input features per sample
	Features() int

	// Outputs returns the number of predictions per sample
	Outputs() int

	// SetInput sets the value of the input node before running the
	// graph. Input is flat and row-major.
	SetInput([]float64) error

	// Set copies the weight values of another network into this one
	Set(NeuralNet) error

	// Learnables returns the nodes holding the network's weights
	Learnables() G.Nodes

	// Model returns the learnables paired with their gradients, in
	// the form Gorgonia solvers step on
	Model() []G.ValueGrad

	// Output returns the value of the prediction node after the
	// graph has been run
	Output() G.Value

	// Prediction returns the prediction node of the graph
	Prediction() *G.Node
}
