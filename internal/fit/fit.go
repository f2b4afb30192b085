package fit

import (
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/TAIGA/internal/minimize"
	"github.com/copyleftdev/TAIGA/internal/model"
	"github.com/copyleftdev/TAIGA/internal/optim"
)

// OptimizationIteration records the state of one fit iteration. Records
// are immutable once produced and owned by the caller after return.
type OptimizationIteration struct {
	// Itr is the iteration index, starting at zero.
	Itr int
	// Fun is the objective value at the iterate.
	Fun float64
	// Time is the wall-clock seconds elapsed since the loop started.
	Time float64
}

// GradientFitConfig configures FitGradient. The zero value selects Adam
// with a learning rate of 0.05, a 100-iteration cap and the default
// convergence policy.
type GradientFitConfig struct {
	// LR is the optimizer learning rate. Defaults to 0.05.
	LR float64
	// MaxIter is the iteration cap handed to the convergence policy.
	// Defaults to 100.
	MaxIter int
	// NewOptimizer constructs the step-based optimizer bound to the
	// module's trainable parameters. Defaults to Adam.
	NewOptimizer func(params []*model.Parameter, lr float64) (optim.Optimizer, error)
	// Disp emits a progress line every 10th iteration and on the final
	// allowed iteration.
	Disp bool
	// TrackIterations records one OptimizationIteration per step.
	TrackIterations bool
	// Convergence decides when to stop. Defaults to DefaultConvergence.
	Convergence ConvergencePolicy
	// ConvergenceOptions is passed through to the policy unmodified.
	ConvergenceOptions map[string]float64
	// Logger receives progress output. Defaults to a no-op logger.
	Logger *zap.Logger
}

// FitGradient fits the module by stepping a gradient-based optimizer
// directly over its parameters until the convergence policy fires. The
// module's parameters are updated in place.
//
// When TrackIterations is set the returned slice holds one record per
// iteration; otherwise it is nil.
func FitGradient(m model.Module, cfg GradientFitConfig) ([]OptimizationIteration, error) {
	if cfg.LR <= 0 {
		cfg.LR = 0.05
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 100
	}
	if cfg.Convergence == nil {
		cfg.Convergence = DefaultConvergence
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newOptimizer := cfg.NewOptimizer
	if newOptimizer == nil {
		newOptimizer = func(params []*model.Parameter, lr float64) (optim.Optimizer, error) {
			return optim.NewAdam(params, optim.AdamConfig{LR: lr})
		}
	}

	opt, err := newOptimizer(model.TrainableParameters(m), cfg.LR)
	if err != nil {
		return nil, err
	}

	named := m.NamedParameters()
	lossTrajectory := make([]float64, 0, cfg.MaxIter)
	paramTrajectory := make(map[string][]*model.Tensor, len(named))

	var iterations []OptimizationIteration
	if cfg.TrackIterations {
		iterations = make([]OptimizationIteration, 0, cfg.MaxIter)
	}

	start := time.Now()
	for i, converged := 0, false; !converged; i++ {
		opt.ZeroGrad()
		loss, err := m.Loss(0)
		if err != nil {
			return nil, err
		}
		if err := m.Backward(); err != nil {
			return nil, err
		}

		lossTrajectory = append(lossTrajectory, loss)
		for _, np := range named {
			paramTrajectory[np.Name] = append(paramTrajectory[np.Name], np.Param.Tensor().Clone())
		}

		if cfg.Disp && (i%10 == 0 || i == cfg.MaxIter-1) {
			logger.Info("fit progress",
				zap.Int("iter", i+1),
				zap.Int("max_iter", cfg.MaxIter),
				zap.Float64("loss", loss),
			)
		}
		if cfg.TrackIterations {
			iterations = append(iterations, OptimizationIteration{
				Itr:  i,
				Fun:  loss,
				Time: time.Since(start).Seconds(),
			})
		}

		if err := opt.Step(); err != nil {
			return nil, err
		}
		converged = cfg.Convergence(lossTrajectory, paramTrajectory, cfg.ConvergenceOptions, cfg.MaxIter)
	}

	return iterations, nil
}

// QuasiNewtonFitConfig configures FitQuasiNewton. The zero value selects
// the bounded limited-memory quasi-Newton method with default solver
// options and no bounds.
type QuasiNewtonFitConfig struct {
	// Bounds constrains named parameters to boxes. Parameters not named
	// are unconstrained.
	Bounds ParameterBounds
	// Method is the solver identifier handed to the minimizer. Defaults
	// to minimize.MethodLBFGSB.
	Method string
	// Options are solver-specific options, passed through unmodified.
	Options *minimize.Options
	// TrackIterations records the solver's intermediate iterates and
	// re-evaluates the objective at each after the run.
	TrackIterations bool
	// PrecisionBudget bounds the state the likelihood's internal solver
	// may retain. Zero selects the module's default.
	PrecisionBudget int
	// Minimize is the bounded optimization routine. Defaults to
	// minimize.Minimize.
	Minimize minimize.Func
	// Logger receives completion diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// FitQuasiNewton fits the module by flattening its parameters and driving
// a bounded quasi-Newton solver over the flat vector. The solver's final
// vector is decoded back into the module in place; intermediate iterates
// recorded for tracking are never written back.
//
// The returned slice is never nil: it holds one record per solver
// iteration when tracking is requested, and is empty otherwise.
func FitQuasiNewton(m model.Module, cfg QuasiNewtonFitConfig) ([]OptimizationIteration, error) {
	if cfg.Method == "" {
		cfg.Method = minimize.MethodLBFGSB
	}
	minimizeFn := cfg.Minimize
	if minimizeFn == nil {
		minimizeFn = minimize.Minimize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	x0, pd, flat, err := ModuleToArray(m, cfg.Bounds)
	if err != nil {
		return nil, err
	}
	var bounds *minimize.Bounds
	if flat != nil {
		bounds = &minimize.Bounds{Lower: flat.Lower, Upper: flat.Upper, KeepFeasible: true}
	}

	var xs [][]float64
	var ts []float64
	start := time.Now()
	var cb minimize.Callback
	if cfg.TrackIterations {
		cb = func(x []float64) {
			xs = append(xs, append([]float64(nil), x...))
			ts = append(ts, time.Since(start).Seconds())
		}
	}

	fg := func(x []float64) (float64, []float64, error) {
		return LossAndGradient(x, m, pd, cfg.PrecisionBudget)
	}

	res, err := minimizeFn(fg, x0, bounds, cfg.Method, cfg.Options, cb)
	if err != nil {
		return nil, err
	}

	// Recorded iterates are re-evaluated rather than read from any solver
	// cache, so the reported objective values match the adapter exactly.
	iterations := make([]OptimizationIteration, 0, len(xs))
	for i, xk := range xs {
		fun, _, err := LossAndGradient(xk, m, pd, cfg.PrecisionBudget)
		if err != nil {
			return nil, err
		}
		iterations = append(iterations, OptimizationIteration{Itr: i, Fun: fun, Time: ts[i]})
	}

	if err := SetParamsWithArray(m, res.X, pd); err != nil {
		return nil, err
	}

	logger.Debug("quasi-newton fit complete",
		zap.String("method", cfg.Method),
		zap.Float64("loss", res.F),
		zap.Int("solver_iterations", res.Iterations),
		zap.Int("recorded_iterations", len(iterations)),
	)
	return iterations, nil
}
