// Package nn holds the trainable-parameter abstraction the control loop
// operates on.
//
// Model architecture is out of scope for this repository: a model, as far as
// the training controller is concerned, is anything that can enumerate its
// trainable parameters. The objective collaborator owns the forward and
// backward passes and leaves gradients on the parameters it used.
package nn

import (
	"github.com/stride-ml/stride/internal/tensor"
)

// Parameter represents a trainable parameter.
//
// A parameter couples a value vector with a gradient slot. The gradient is
// nil until the objective collaborator's backward pass sets it; a parameter
// that did not participate in the forward pass keeps a nil gradient, which
// the health gate and optimizers treat as "no update".
type Parameter struct {
	name  string
	value *tensor.Vector
	grad  *tensor.Vector
}

// NewParameter creates a parameter with the given name and initial value.
// The gradient slot starts empty.
func NewParameter(name string, value *tensor.Vector) *Parameter {
	return &Parameter{name: name, value: value}
}

// Name returns the parameter name (e.g. "weight", "net.0.bias").
func (p *Parameter) Name() string {
	return p.name
}

// Value returns the parameter's value vector. The vector is shared, not
// copied; optimizer updates mutate it in place.
func (p *Parameter) Value() *tensor.Vector {
	return p.value
}

// Grad returns the gradient vector, or nil if no gradient has been set
// since the last ZeroGrad.
func (p *Parameter) Grad() *tensor.Vector {
	return p.grad
}

// SetGrad installs a gradient vector. Called by the objective collaborator
// after its backward pass.
func (p *Parameter) SetGrad(grad *tensor.Vector) {
	p.grad = grad
}

// ZeroGrad clears the gradient slot.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// Module is anything that exposes trainable parameters.
//
// The enumeration order must be stable across process restarts: optimizer
// state is keyed by parameter index in checkpoints.
type Module interface {
	Parameters() []*Parameter
}
