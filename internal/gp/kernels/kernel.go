// Package kernels provides covariance functions for Gaussian process
// models, together with their analytic derivatives with respect to the
// hyperparameters so marginal-likelihood gradients can be assembled
// without finite differencing.
package kernels

import (
	"fmt"
	"math"
)

// Kernel is a stationary covariance function. Hyperparameters are
// ordered [lengthScale, signalVar] and live in their natural (positive)
// space.
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2.
	Eval(x1, x2 []float64) float64

	// EvalDeriv computes the partial derivative of Eval(x1, x2) with
	// respect to hyperparameter deriv, at the current hyperparameters.
	EvalDeriv(x1, x2 []float64, deriv int) float64

	// NumHyper returns the number of hyperparameters.
	NumHyper() int

	// Hyperparameters returns the current hyperparameters.
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters.
	SetHyperparameters(params []float64) error

	// Name identifies the kernel family.
	Name() string
}

// Hyperparameter indices shared by the stationary kernels.
const (
	DerivLengthScale = 0
	DerivSignalVar   = 1
)

func sqDist(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	return sumSq
}

// RBFKernel implements the Radial Basis Function (squared exponential)
// kernel.
type RBFKernel struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

// NewRBFKernel creates a new RBF kernel with the given parameters.
func NewRBFKernel(lengthScale, signalVar float64) *RBFKernel {
	if lengthScale <= 0 {
		panic(fmt.Sprintf("lengthScale must be positive, got %v", lengthScale))
	}
	if signalVar <= 0 {
		panic(fmt.Sprintf("signalVar must be positive, got %v", signalVar))
	}
	return &RBFKernel{
		lengthScale: lengthScale,
		signalVar:   signalVar,
	}
}

// Eval computes the RBF kernel value between x1 and x2.
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	r2 := sqDist(x1, x2) / (2.0 * k.lengthScale * k.lengthScale)
	return k.signalVar * math.Exp(-r2)
}

// EvalDeriv computes the partial derivative of the kernel value with
// respect to the length scale or the signal variance.
func (k *RBFKernel) EvalDeriv(x1, x2 []float64, deriv int) float64 {
	d2 := sqDist(x1, x2)
	val := k.signalVar * math.Exp(-d2/(2.0*k.lengthScale*k.lengthScale))
	switch deriv {
	case DerivLengthScale:
		return val * d2 / (k.lengthScale * k.lengthScale * k.lengthScale)
	case DerivSignalVar:
		return val / k.signalVar
	default:
		panic(fmt.Sprintf("rbf kernel has no hyperparameter %d", deriv))
	}
}

// NumHyper returns the number of hyperparameters.
func (k *RBFKernel) NumHyper() int { return 2 }

// Name identifies the kernel family.
func (k *RBFKernel) Name() string { return "rbf" }

// Hyperparameters returns the current hyperparameters.
func (k *RBFKernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

// SetHyperparameters sets the kernel's hyperparameters.
func (k *RBFKernel) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if params[0] <= 0 || params[1] <= 0 {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	k.lengthScale = params[0]
	k.signalVar = params[1]
	return nil
}

// Matern52Kernel implements the Matérn 5/2 kernel.
type Matern52Kernel struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

// NewMatern52Kernel creates a new Matérn 5/2 kernel with the given
// parameters.
func NewMatern52Kernel(lengthScale, signalVar float64) *Matern52Kernel {
	if lengthScale <= 0 {
		panic(fmt.Sprintf("lengthScale must be positive, got %v", lengthScale))
	}
	if signalVar <= 0 {
		panic(fmt.Sprintf("signalVar must be positive, got %v", signalVar))
	}
	return &Matern52Kernel{
		lengthScale: lengthScale,
		signalVar:   signalVar,
	}
}

// Eval computes the Matérn 5/2 kernel value between x1 and x2.
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	u := math.Sqrt(5*sqDist(x1, x2)) / k.lengthScale
	polyTerm := 1.0 + u + u*u/3.0
	return k.signalVar * polyTerm * math.Exp(-u)
}

// EvalDeriv computes the partial derivative of the kernel value with
// respect to the length scale or the signal variance.
func (k *Matern52Kernel) EvalDeriv(x1, x2 []float64, deriv int) float64 {
	u := math.Sqrt(5*sqDist(x1, x2)) / k.lengthScale
	switch deriv {
	case DerivLengthScale:
		return k.signalVar * math.Exp(-u) * u * u * (1.0 + u) / (3.0 * k.lengthScale)
	case DerivSignalVar:
		return (1.0 + u + u*u/3.0) * math.Exp(-u)
	default:
		panic(fmt.Sprintf("matern52 kernel has no hyperparameter %d", deriv))
	}
}

// NumHyper returns the number of hyperparameters.
func (k *Matern52Kernel) NumHyper() int { return 2 }

// Name identifies the kernel family.
func (k *Matern52Kernel) Name() string { return "matern52" }

// Hyperparameters returns the current hyperparameters.
func (k *Matern52Kernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

// SetHyperparameters sets the kernel's hyperparameters.
func (k *Matern52Kernel) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if params[0] <= 0 || params[1] <= 0 {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	k.lengthScale = params[0]
	k.signalVar = params[1]
	return nil
}

// New constructs a kernel by family name.
func New(name string, lengthScale, signalVar float64) (Kernel, error) {
	switch name {
	case "rbf", "RBF":
		return NewRBFKernel(lengthScale, signalVar), nil
	case "matern52", "matern":
		return NewMatern52Kernel(lengthScale, signalVar), nil
	default:
		return nil, fmt.Errorf("unknown kernel %q", name)
	}
}
