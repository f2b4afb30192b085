package model

// Module is a marginal-log-likelihood objective bound to a surrogate model
// and its stored training data.
//
// A fit call owns the module exclusively for its duration: parameters are
// mutated in place and gradient accumulators are cleared as a side effect.
// Callers must not share a module across concurrent fit calls.
type Module interface {
	// NamedParameters enumerates the module's parameters in a stable
	// order. Repeated calls on an unmodified module yield the same order;
	// this ordering anchors the flat-vector layout for one fit call.
	NamedParameters() []NamedParameter

	// ZeroGrad clears the gradient accumulator on every parameter.
	ZeroGrad()

	// Loss runs the forward pass over the stored training inputs and
	// returns the negative marginal log likelihood against the stored
	// targets, summed across any batch dimension. precisionBudget bounds
	// the effort the internal linear solver may spend recovering from
	// ill-conditioning; zero or a negative value selects the module's
	// default.
	Loss(precisionBudget int) (float64, error)

	// Backward accumulates the gradient of the most recent Loss into each
	// parameter that influences it. Parameters disconnected from the loss
	// are left with a nil gradient; that is not an error.
	Backward() error
}

// TrainableParameters filters a module's parameters to those requiring
// gradients, preserving enumeration order.
func TrainableParameters(m Module) []*Parameter {
	var params []*Parameter
	for _, np := range m.NamedParameters() {
		if np.Param.RequiresGrad() {
			params = append(params, np.Param)
		}
	}
	return params
}
