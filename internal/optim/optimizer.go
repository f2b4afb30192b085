// Package optim implements the step-based optimizers the gradient fit
// loop drives. Each optimizer is bound to a parameter group at
// construction, owns its internal moment state, and lives for exactly one
// fit call.
package optim

// Optimizer is the contract the gradient fit loop drives: clear the
// accumulated gradients, run a forward/backward pass elsewhere, then apply
// one update step.
type Optimizer interface {
	// Step applies one in-place update to every bound parameter that
	// holds a gradient. Parameters without a gradient are skipped.
	Step() error

	// ZeroGrad clears the gradient accumulator on every bound parameter.
	ZeroGrad()
}
