// Package minimize presents gonum's gradient-based optimizers behind the
// bounded objective-and-gradient call shape the fitting loops drive. Box
// constraints are enforced by projecting every evaluated point into the
// feasible region and zeroing gradient components that push an active
// bound further out.
package minimize

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Solver method identifiers accepted by Minimize.
const (
	MethodLBFGSB     = "L-BFGS-B"
	MethodBFGS       = "BFGS"
	MethodCG         = "CG"
	MethodNelderMead = "Nelder-Mead"
)

// ObjectiveGrad evaluates the objective and its gradient at x. The
// returned gradient must have the same length as x.
type ObjectiveGrad func(x []float64) (float64, []float64, error)

// Callback is invoked with a copy of the current iterate after each major
// iteration of the solver.
type Callback func(x []float64)

// Bounds is a box constraint on the variables. With KeepFeasible set,
// every point handed to the objective is projected into the box, not just
// the final result.
type Bounds struct {
	Lower        []float64
	Upper        []float64
	KeepFeasible bool
}

// Options holds solver-specific knobs. The zero value selects defaults.
type Options struct {
	// MaxIterations caps the number of major iterations. Defaults to 1000.
	MaxIterations int
	// GradientTolerance terminates when the gradient infinity norm drops
	// below it. Zero keeps the solver's default.
	GradientTolerance float64
	// FunctionTolerance is the absolute function-value convergence
	// threshold. Defaults to 1e-10.
	FunctionTolerance float64
}

// Result is the solver's final state.
type Result struct {
	X          []float64
	F          float64
	Iterations int
}

// Func is the call shape of a bounded minimization routine. FitQuasiNewton
// consumes any implementation as a black box; Minimize is the default.
type Func func(fg ObjectiveGrad, x0 []float64, bounds *Bounds, method string, opts *Options, cb Callback) (*Result, error)

// Minimize runs the requested method from x0 until its internal stopping
// rule fires. Failures originating in the objective are returned to the
// caller unchanged; solver failures (line search, non-convergence) are
// returned as gonum reports them.
func Minimize(fg ObjectiveGrad, x0 []float64, bounds *Bounds, method string, opts *Options, cb Callback) (*Result, error) {
	if fg == nil {
		return nil, errors.New("minimize: nil objective")
	}
	if len(x0) == 0 {
		return nil, errors.New("minimize: empty initial point")
	}
	if bounds != nil && (len(bounds.Lower) != len(x0) || len(bounds.Upper) != len(x0)) {
		return nil, fmt.Errorf("minimize: bounds of length %d/%d for %d variables",
			len(bounds.Lower), len(bounds.Upper), len(x0))
	}
	if opts == nil {
		opts = &Options{}
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 1000
	}
	ftol := opts.FunctionTolerance
	if ftol <= 0 {
		ftol = 1e-10
	}

	var m optimize.Method
	switch method {
	case MethodLBFGSB, "LBFGS", "L-BFGS":
		m = &optimize.LBFGS{}
	case MethodBFGS:
		m = &optimize.BFGS{}
	case MethodCG:
		m = &optimize.CG{}
	case MethodNelderMead:
		m = &optimize.NelderMead{}
	default:
		return nil, fmt.Errorf("minimize: unknown method %q", method)
	}

	// The first objective error is captured here and returned verbatim;
	// subsequent evaluations short-circuit so the solver winds down.
	var evalErr error

	feasible := func(x []float64) []float64 {
		if bounds != nil && bounds.KeepFeasible {
			return clampCopy(x, bounds)
		}
		return append([]float64(nil), x...)
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if evalErr != nil {
				return math.Inf(1)
			}
			f, _, err := fg(feasible(x))
			if err != nil {
				evalErr = err
				return math.NaN()
			}
			return f
		},
		Grad: func(dst, x []float64) {
			if evalErr != nil {
				zero(dst)
				return
			}
			z := feasible(x)
			_, g, err := fg(z)
			if err != nil {
				evalErr = err
				zero(dst)
				return
			}
			copy(dst, g)
			projectGradient(dst, z, bounds)
		},
	}

	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   ftol,
			Iterations: 25,
		},
	}
	if opts.GradientTolerance > 0 {
		settings.GradientThreshold = opts.GradientTolerance
	}
	if cb != nil {
		settings.Recorder = &callbackRecorder{cb: cb, bounds: bounds}
	}

	res, err := optimize.Minimize(problem, clampCopy(x0, bounds), settings, m)
	if evalErr != nil {
		return nil, evalErr
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		X:          clampCopy(res.X, bounds),
		F:          res.F,
		Iterations: res.Stats.MajorIterations,
	}, nil
}

// callbackRecorder adapts a per-iteration callback to gonum's Recorder.
type callbackRecorder struct {
	cb     Callback
	bounds *Bounds
}

func (r *callbackRecorder) Init() error { return nil }

func (r *callbackRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if op != optimize.MajorIteration || loc == nil {
		return nil
	}
	r.cb(clampCopy(loc.X, r.bounds))
	return nil
}

func clampCopy(x []float64, b *Bounds) []float64 {
	out := append([]float64(nil), x...)
	if b == nil {
		return out
	}
	for i := range out {
		if out[i] < b.Lower[i] {
			out[i] = b.Lower[i]
		}
		if out[i] > b.Upper[i] {
			out[i] = b.Upper[i]
		}
	}
	return out
}

// projectGradient zeroes components that would push an active bound
// further out of the box, so the solver's descent direction stays
// feasible.
func projectGradient(g, x []float64, b *Bounds) {
	if b == nil || !b.KeepFeasible {
		return
	}
	for i := range g {
		if x[i] <= b.Lower[i] && g[i] > 0 {
			g[i] = 0
		}
		if x[i] >= b.Upper[i] && g[i] < 0 {
			g[i] = 0
		}
	}
}

func zero(dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
}
