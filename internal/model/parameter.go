package model

import "fmt"

// Parameter is a trainable tensor with a gradient accumulator. The
// accumulator is nil until a backward pass deposits a gradient, which is
// how callers distinguish "zero gradient" from "no gradient produced".
type Parameter struct {
	tensor       *Tensor
	requiresGrad bool
	grad         []float64
}

// NewParameter wraps a tensor as a parameter.
func NewParameter(t *Tensor, requiresGrad bool) *Parameter {
	return &Parameter{tensor: t, requiresGrad: requiresGrad}
}

// Tensor returns the parameter's underlying tensor.
func (p *Parameter) Tensor() *Tensor { return p.tensor }

// RequiresGrad reports whether the parameter participates in gradient
// computation.
func (p *Parameter) RequiresGrad() bool { return p.requiresGrad }

// Grad returns the accumulated gradient in row-major order, or nil when no
// gradient has been accumulated since the last ZeroGrad.
func (p *Parameter) Grad() []float64 { return p.grad }

// AccumulateGrad adds g into the parameter's gradient accumulator,
// allocating it on first use.
func (p *Parameter) AccumulateGrad(g []float64) error {
	if len(g) != p.tensor.NumElements() {
		return fmt.Errorf("model: gradient of %d elements for parameter of %d elements", len(g), p.tensor.NumElements())
	}
	if p.grad == nil {
		p.grad = make([]float64, len(g))
	}
	for i, v := range g {
		p.grad[i] += v
	}
	return nil
}

// ZeroGrad drops the gradient accumulator. Grad reports nil afterwards.
func (p *Parameter) ZeroGrad() { p.grad = nil }

// SetData overwrites the parameter's values in place. The parameter object
// identity and its requires-grad flag are preserved.
func (p *Parameter) SetData(values []float64) error {
	return p.tensor.SetData(values)
}

// NamedParameter pairs a parameter with its registration name.
type NamedParameter struct {
	Name  string
	Param *Parameter
}
