// Package gp implements exact Gaussian process regression with a constant
// mean. The model exposes its negative marginal log likelihood and the
// analytic gradient with respect to the hyperparameters, so it can be
// driven directly by the fitting loops.
package gp

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/TAIGA/internal/fit"
	"github.com/copyleftdev/TAIGA/internal/gp/kernels"
	"github.com/copyleftdev/TAIGA/internal/model"
)

// Parameter names exposed through NamedParameters. The raw parameters
// live in log space so the optimizer works on an unconstrained scale.
const (
	ParamLengthscale = "kernel.raw_lengthscale"
	ParamOutputscale = "kernel.raw_outputscale"
	ParamNoise       = "likelihood.raw_noise"
	ParamMean        = "mean.constant"
)

// defaultFactorizationAttempts bounds the jittered Cholesky retries when
// the caller does not set a precision budget.
const defaultFactorizationAttempts = 10

// ExactGP is a Gaussian process regression model over fixed training
// data. Loss evaluates the negative marginal log likelihood at the
// current hyperparameters; Backward accumulates its analytic gradient.
type ExactGP struct {
	kernel kernels.Kernel

	// Training data
	X *mat.Dense    // Input points (n_samples, n_features)
	y *mat.VecDense // Target values (n_samples)

	rawLengthscale *model.Parameter
	rawOutputscale *model.Parameter
	rawNoise       *model.Parameter
	meanConstant   *model.Parameter

	// Matrix pool for reusing matrix allocations
	pool *MatrixPool

	// State cached by Loss for the following Backward
	chol  *mat.Cholesky
	alpha *mat.VecDense
	resid *mat.VecDense

	logger *zap.Logger
}

// NewExactGP creates a Gaussian process model bound to the given training
// data. The kernel's current hyperparameters and noiseVar seed the raw
// parameters; the constant mean starts at zero.
func NewExactGP(kernel kernels.Kernel, X *mat.Dense, y *mat.VecDense, noiseVar float64) (*ExactGP, error) {
	if kernel == nil {
		return nil, errors.New("gp: nil kernel")
	}
	if X == nil || y == nil {
		return nil, errors.New("gp: training data must not be nil")
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return nil, errors.New("gp: training inputs must not be empty")
	}
	if nSamples != y.Len() {
		return nil, fmt.Errorf("gp: X has %d samples but y has length %d", nSamples, y.Len())
	}
	if kernel.NumHyper() != 2 {
		return nil, fmt.Errorf("gp: kernel with %d hyperparameters not supported", kernel.NumHyper())
	}
	if noiseVar <= 0 {
		return nil, fmt.Errorf("gp: noise variance must be positive, got %v", noiseVar)
	}

	hypers := kernel.Hyperparameters()
	logger, _ := zap.NewDevelopment()

	scalar := func(v float64) *model.Parameter {
		return model.NewParameter(model.NewTensor([]float64{v}, []int{1}), true)
	}

	return &ExactGP{
		kernel:         kernel,
		X:              mat.DenseCopyOf(X),
		y:              mat.VecDenseCopyOf(y),
		rawLengthscale: scalar(math.Log(hypers[kernels.DerivLengthScale])),
		rawOutputscale: scalar(math.Log(hypers[kernels.DerivSignalVar])),
		rawNoise:       scalar(math.Log(noiseVar)),
		meanConstant:   scalar(0),
		pool:           NewMatrixPool(),
		logger:         logger.Named("exact_gp"),
	}, nil
}

// SetLogger replaces the model's logger.
func (g *ExactGP) SetLogger(logger *zap.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// NamedParameters enumerates the hyperparameters in a fixed order.
func (g *ExactGP) NamedParameters() []model.NamedParameter {
	return []model.NamedParameter{
		{Name: ParamLengthscale, Param: g.rawLengthscale},
		{Name: ParamOutputscale, Param: g.rawOutputscale},
		{Name: ParamNoise, Param: g.rawNoise},
		{Name: ParamMean, Param: g.meanConstant},
	}
}

// ZeroGrad clears the gradient accumulator on every parameter.
func (g *ExactGP) ZeroGrad() {
	for _, np := range g.NamedParameters() {
		np.Param.ZeroGrad()
	}
}

// Lengthscale returns the kernel length scale in its natural space.
func (g *ExactGP) Lengthscale() float64 { return math.Exp(g.rawLengthscale.Tensor().At(0)) }

// Outputscale returns the kernel signal variance in its natural space.
func (g *ExactGP) Outputscale() float64 { return math.Exp(g.rawOutputscale.Tensor().At(0)) }

// NoiseVariance returns the observation noise variance in its natural
// space.
func (g *ExactGP) NoiseVariance() float64 { return math.Exp(g.rawNoise.Tensor().At(0)) }

// MeanConstant returns the constant mean.
func (g *ExactGP) MeanConstant() float64 { return g.meanConstant.Tensor().At(0) }

// Hyperparameters reports the current natural-space hyperparameters.
func (g *ExactGP) Hyperparameters() map[string]float64 {
	return map[string]float64{
		"lengthscale":    g.Lengthscale(),
		"outputscale":    g.Outputscale(),
		"noise_variance": g.NoiseVariance(),
		"mean_constant":  g.MeanConstant(),
	}
}

// Loss computes the negative marginal log likelihood at the current
// hyperparameters:
//
//	0.5 * r^T Ky^-1 r + 0.5 * log|Ky| + n/2 * log(2*pi)
//
// where r = y - mean and Ky = K + noise*I. precisionBudget bounds the
// jittered Cholesky attempts; zero or a negative value selects the
// default of 10.
func (g *ExactGP) Loss(precisionBudget int) (float64, error) {
	const op = "ExactGP.Loss"

	ls := g.Lengthscale()
	sv := g.Outputscale()
	noise := g.NoiseVariance()
	mean := g.MeanConstant()

	if err := g.kernel.SetHyperparameters([]float64{ls, sv}); err != nil {
		return 0, fit.WrapError(err, "gp: "+op)
	}

	// Recycle the vectors cached for Backward by the previous Loss.
	g.invalidate()

	n := g.y.Len()
	K := g.pool.GetSymDense(n)
	for i := 0; i < n; i++ {
		xi := g.X.RawRowView(i)
		K.SetSym(i, i, g.kernel.Eval(xi, xi)+noise)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, g.kernel.Eval(xi, g.X.RawRowView(j)))
		}
	}

	chol, err := g.factorize(K, n, precisionBudget)
	g.pool.PutSymDense(K)
	if err != nil {
		return 0, fit.WrapError(err, "gp: "+op)
	}

	resid := g.pool.GetVecDense(n)
	for i := 0; i < n; i++ {
		resid.SetVec(i, g.y.AtVec(i)-mean)
	}

	alpha := g.pool.GetVecDense(n)
	if err := chol.SolveVecTo(alpha, resid); err != nil {
		g.pool.PutVecDense(alpha)
		g.pool.PutVecDense(resid)
		return 0, fit.WrapError(err, "gp: "+op)
	}

	nll := 0.5*mat.Dot(resid, alpha) + 0.5*chol.LogDet() + 0.5*float64(n)*math.Log(2*math.Pi)

	g.chol = chol
	g.alpha = alpha
	g.resid = resid
	return nll, nil
}

// factorize runs a jittered Cholesky factorization. The first attempt
// adds no jitter; each retry scales it up by a factor of ten.
func (g *ExactGP) factorize(K *mat.SymDense, n, attempts int) (*mat.Cholesky, error) {
	if attempts <= 0 {
		attempts = defaultFactorizationAttempts
	}

	meanDiag := 0.0
	for i := 0; i < n; i++ {
		meanDiag += K.At(i, i)
	}
	meanDiag /= float64(n)
	if meanDiag <= 0 {
		meanDiag = 1.0
	}

	jitter := 0.0
	Kj := g.pool.GetSymDense(n)
	defer g.pool.PutSymDense(Kj)

	for attempt := 0; attempt < attempts; attempt++ {
		for i := 0; i < n; i++ {
			Kj.SetSym(i, i, K.At(i, i)+jitter)
			for j := i + 1; j < n; j++ {
				Kj.SetSym(i, j, K.At(i, j))
			}
		}

		var chol mat.Cholesky
		if chol.Factorize(Kj) {
			if attempt > 0 {
				g.logger.Debug("Cholesky factorization succeeded with jitter",
					zap.Int("attempt", attempt+1),
					zap.Float64("jitter", jitter))
			}
			return &chol, nil
		}

		g.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", jitter))
		if jitter == 0 {
			jitter = 1e-10 * meanDiag
		} else {
			jitter *= 10
		}
	}

	return nil, fmt.Errorf("cholesky factorization failed after %d attempts (last jitter %v)", attempts, jitter)
}

// invalidate drops the state cached for Backward, returning the pooled
// vectors so the next Loss can reuse them.
func (g *ExactGP) invalidate() {
	if g.alpha != nil {
		g.pool.PutVecDense(g.alpha)
	}
	if g.resid != nil {
		g.pool.PutVecDense(g.resid)
	}
	g.chol = nil
	g.alpha = nil
	g.resid = nil
}

// Backward accumulates the gradient of the most recent Loss into the
// parameters. For each covariance hyperparameter the gradient uses the
// trace identity
//
//	dNLL/dtheta = 0.5 * sum_ij (Kinv_ij - alpha_i*alpha_j) * dK_ij/dtheta
//
// with the chain-rule factor theta applied for the log-space raw
// parameters. Jitter added during factorization is ignored here; it only
// perturbs the gradient at the noise floor.
func (g *ExactGP) Backward() error {
	const op = "ExactGP.Backward"

	if g.chol == nil || g.alpha == nil {
		return fit.NewError("backward requires a preceding loss evaluation").WithOperation("gp: " + op)
	}

	n := g.y.Len()
	var Kinv mat.SymDense
	if err := g.chol.InverseTo(&Kinv); err != nil {
		return fit.WrapError(err, "gp: "+op)
	}

	// M_ij = Kinv_ij - alpha_i*alpha_j is symmetric, so off-diagonal
	// terms contribute twice.
	var gradLs, gradSv, gradNoise, gradMean float64
	for i := 0; i < n; i++ {
		ai := g.alpha.AtVec(i)
		xi := g.X.RawRowView(i)

		mii := Kinv.At(i, i) - ai*ai
		gradLs += 0.5 * mii * g.kernel.EvalDeriv(xi, xi, kernels.DerivLengthScale)
		gradSv += 0.5 * mii * g.kernel.EvalDeriv(xi, xi, kernels.DerivSignalVar)
		gradNoise += 0.5 * mii
		gradMean -= ai

		for j := i + 1; j < n; j++ {
			xj := g.X.RawRowView(j)
			mij := Kinv.At(i, j) - ai*g.alpha.AtVec(j)
			gradLs += mij * g.kernel.EvalDeriv(xi, xj, kernels.DerivLengthScale)
			gradSv += mij * g.kernel.EvalDeriv(xi, xj, kernels.DerivSignalVar)
		}
	}

	// d(theta)/d(raw) = theta for the log-space parameters.
	if err := g.rawLengthscale.AccumulateGrad([]float64{gradLs * g.Lengthscale()}); err != nil {
		return fit.WrapError(err, "gp: "+op)
	}
	if err := g.rawOutputscale.AccumulateGrad([]float64{gradSv * g.Outputscale()}); err != nil {
		return fit.WrapError(err, "gp: "+op)
	}
	if err := g.rawNoise.AccumulateGrad([]float64{gradNoise * g.NoiseVariance()}); err != nil {
		return fit.WrapError(err, "gp: "+op)
	}
	if err := g.meanConstant.AccumulateGrad([]float64{gradMean}); err != nil {
		return fit.WrapError(err, "gp: "+op)
	}
	return nil
}
