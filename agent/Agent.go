// Package agent defines the policy interfaces consumed by the
// policy-update engine
package agent

import (
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/gocuriosity/network"
)

// Policy represents a stochastic policy that an agent can follow.
//
// Policies determine how agents select actions during collection.
type Policy interface {
	// SelectAction samples an action for the given observation from
	// the policy's action distribution
	SelectAction(obs mat.Vector) (*mat.VecDense, error)
}

// LogProber is a Policy backed by a neural network that can calculate
// the log probability of taking externally inputted actions in
// externally inputted states. The network is the parameter set
// optimized by a policy-update engine; the log-probability node is
// where an engine attaches its loss.
type LogProber interface {
	Policy

	// Network returns the neural network parameterizing the policy
	Network() network.NeuralNet

	// LogProbNode returns the node holding the log probabilities of
	// the actions last passed to LogProbOf
	LogProbNode() *G.Node

	// LogProbVal returns the value of the node returned by
	// LogProbNode after the graph has been run
	LogProbVal() G.Value

	// LogProbOf readies the graph to compute the log probability of
	// taking the argument actions in the argument states. Inputs are
	// flat and row-major. The returned node is LogProbNode.
	LogProbOf(states, actions []float64) (*G.Node, error)

	// CloneWithBatch clones the policy to a fresh graph with a new
	// batch size, copying weight values
	CloneWithBatch(batch int) (LogProber, error)
}
