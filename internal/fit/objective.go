package fit

import "github.com/copyleftdev/TAIGA/internal/model"

// LossAndGradient writes x back into the module, runs a forward and
// backward pass, and returns the loss together with its flattened
// gradient, aligned with the PropertyDict's encoding order.
//
// Parameters that did not influence the loss produce a nil gradient on
// the module; their slots in the returned vector are zero-filled rather
// than treated as an error, so the driving optimizer never sees a hole.
// Any failure in the module's forward or backward pass propagates to the
// caller unmodified.
//
// Gradient accumulators are cleared before and after the evaluation; the
// adapter leaves no gradient state behind for the next call.
func LossAndGradient(x []float64, m model.Module, pd *PropertyDict, precisionBudget int) (float64, []float64, error) {
	if err := SetParamsWithArray(m, x, pd); err != nil {
		return 0, nil, err
	}

	m.ZeroGrad()
	loss, err := m.Loss(precisionBudget)
	if err != nil {
		return 0, nil, err
	}
	if err := m.Backward(); err != nil {
		return 0, nil, err
	}

	byName := parametersByName(m)
	grad := make([]float64, 0, len(x))
	for _, name := range pd.names {
		n := pd.attrs[name].NumElements()
		if g := byName[name].Grad(); g != nil {
			grad = append(grad, g...)
		} else {
			grad = append(grad, make([]float64, n)...)
		}
	}

	m.ZeroGrad()
	return loss, grad, nil
}
