// Package fit maximizes the marginal log likelihood of a surrogate model
// by minimizing the summed negative MLL, using either a step-based
// optimizer driven directly over the module's parameters (FitGradient) or
// a bounded quasi-Newton routine driven through a flat-vector codec
// (FitQuasiNewton).
//
// The codec is the bridge between the module's structured, named,
// tensor-valued parameter set and the flat float64 vector classical
// optimizers consume. A PropertyDict built once per fit call pins the
// ordering, shapes and dtypes that correlate vector offsets to named
// parameters.
package fit

import (
	"math"

	"github.com/copyleftdev/TAIGA/internal/model"
)

// TensorAttr records the shape, dtype and device of one encoded parameter.
type TensorAttr struct {
	Shape  []int
	Dtype  model.Dtype
	Device string
}

// NumElements returns the number of flat-vector slots the parameter
// occupies: the product of its shape dimensions.
func (a TensorAttr) NumElements() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// PropertyDict is an ordered mapping from parameter name to TensorAttr.
// Its insertion order is the single source of truth correlating flat
// vector offsets to named parameters within one fit call.
type PropertyDict struct {
	names []string
	attrs map[string]TensorAttr
}

func newPropertyDict() *PropertyDict {
	return &PropertyDict{attrs: make(map[string]TensorAttr)}
}

func (pd *PropertyDict) add(name string, attr TensorAttr) {
	pd.names = append(pd.names, name)
	pd.attrs[name] = attr
}

// Names returns the parameter names in encoding order.
func (pd *PropertyDict) Names() []string {
	return append([]string(nil), pd.names...)
}

// Attr returns the recorded attributes for a parameter name.
func (pd *PropertyDict) Attr(name string) (TensorAttr, bool) {
	attr, ok := pd.attrs[name]
	return attr, ok
}

// Len returns the number of recorded parameters.
func (pd *PropertyDict) Len() int { return len(pd.names) }

// NumElements returns the total number of flat-vector slots across all
// recorded parameters.
func (pd *PropertyDict) NumElements() int {
	total := 0
	for _, name := range pd.names {
		total += pd.attrs[name].NumElements()
	}
	return total
}

// Bound is an optional box constraint for one named parameter. Lower and
// Upper each hold either a single element, applied to every slot of the
// parameter, or one element per slot. An empty side is unconstrained.
type Bound struct {
	Lower []float64
	Upper []float64
}

// ParameterBounds maps parameter names to box constraints. Names that do
// not appear in the module's parameter enumeration are ignored.
type ParameterBounds map[string]Bound

// Bounds holds the flattened lower and upper bound arrays, aligned with
// the flat parameter vector. Unconstrained slots hold -Inf/+Inf.
type Bounds struct {
	Lower []float64
	Upper []float64
}

// ModuleToArray flattens a module's named parameters into a single
// float64 vector, recording per-parameter attributes in a PropertyDict.
// Parameters are visited in the module's enumeration order and appended
// contiguously in row-major order, widened to double precision.
//
// When bounds names at least one parameter, the returned Bounds carries
// parallel lower/upper arrays with -Inf/+Inf filled in for parameters
// lacking an explicit bound; otherwise the returned Bounds is nil.
func ModuleToArray(m model.Module, bounds ParameterBounds) ([]float64, *PropertyDict, *Bounds, error) {
	const op = "fit.ModuleToArray"

	params := m.NamedParameters()
	pd := newPropertyDict()
	x := make([]float64, 0, len(params))
	haveBounds := len(bounds) > 0
	var lower, upper []float64

	for _, np := range params {
		t := np.Param.Tensor()
		attr := TensorAttr{Shape: t.Shape(), Dtype: t.Dtype(), Device: t.Device()}
		pd.add(np.Name, attr)
		// Tensor data is already held as float64; appending it is the
		// widening cast for narrower native dtypes.
		x = append(x, t.Data()...)

		if haveBounds {
			lo, hi, err := expandBound(bounds, np.Name, attr.NumElements())
			if err != nil {
				return nil, nil, nil, WrapError(err, np.Name).WithOperation(op)
			}
			lower = append(lower, lo...)
			upper = append(upper, hi...)
		}
	}

	if !haveBounds {
		return x, pd, nil, nil
	}
	return x, pd, &Bounds{Lower: lower, Upper: upper}, nil
}

// expandBound resolves the bound for one parameter to per-element arrays
// of length n, defaulting to -Inf/+Inf where no bound is given.
func expandBound(bounds ParameterBounds, name string, n int) ([]float64, []float64, error) {
	b, ok := bounds[name]
	if !ok {
		return fill(n, math.Inf(-1)), fill(n, math.Inf(1)), nil
	}

	lo, err := broadcast(b.Lower, n, math.Inf(-1))
	if err != nil {
		return nil, nil, err
	}
	hi, err := broadcast(b.Upper, n, math.Inf(1))
	if err != nil {
		return nil, nil, err
	}
	for i := range lo {
		if lo[i] > hi[i] {
			return nil, nil, WrapErrorf(ErrBoundsInconsistent, "element %d: %v > %v", i, lo[i], hi[i])
		}
	}
	return lo, hi, nil
}

func broadcast(side []float64, n int, unbounded float64) ([]float64, error) {
	switch len(side) {
	case 0:
		return fill(n, unbounded), nil
	case 1:
		return fill(n, side[0]), nil
	case n:
		return append([]float64(nil), side...), nil
	default:
		return nil, NewErrorf("bound has %d elements, want 1 or %d", len(side), n)
	}
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// SetParamsWithArray writes a flat vector back into the module's named
// parameters following the PropertyDict's encoding order. Each slice is
// reshaped to the recorded shape and narrowed to the recorded dtype; the
// write is in place, so parameter object identity and the requires-grad
// flag are preserved.
//
// If the vector's length does not equal the PropertyDict's total element
// count, SetParamsWithArray fails with ErrShapeMismatch before touching
// any parameter.
func SetParamsWithArray(m model.Module, x []float64, pd *PropertyDict) error {
	const op = "fit.SetParamsWithArray"

	if want := pd.NumElements(); len(x) != want {
		return WrapErrorf(ErrShapeMismatch, "expected %d elements, got %d", want, len(x)).WithOperation(op)
	}

	byName := parametersByName(m)
	offset := 0
	for _, name := range pd.names {
		n := pd.attrs[name].NumElements()
		p, ok := byName[name]
		if !ok {
			return NewErrorf("module has no parameter %q", name).WithOperation(op)
		}
		if err := p.SetData(x[offset : offset+n]); err != nil {
			return WrapError(err, name).WithOperation(op)
		}
		offset += n
	}
	return nil
}

func parametersByName(m model.Module) map[string]*model.Parameter {
	params := m.NamedParameters()
	byName := make(map[string]*model.Parameter, len(params))
	for _, np := range params {
		byName[np.Name] = np.Param
	}
	return byName
}
