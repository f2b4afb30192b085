package fit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/TAIGA/internal/minimize"
	"github.com/copyleftdev/TAIGA/internal/model"
)

// countToMax is a convergence policy that fires exactly when the loss
// trajectory reaches the iteration cap.
func countToMax(loss []float64, _ map[string][]*model.Tensor, _ map[string]float64, maxIter int) bool {
	return len(loss) >= maxIter
}

func TestFitGradientRunsExactlyMaxIterations(t *testing.T) {
	const maxIter = 7
	m := newQuadModule(1, 2)

	iterations, err := FitGradient(m, GradientFitConfig{
		MaxIter:         maxIter,
		TrackIterations: true,
		Convergence:     countToMax,
	})
	require.NoError(t, err)
	require.Len(t, iterations, maxIter)

	prev := -1.0
	for i, it := range iterations {
		assert.Equal(t, i, it.Itr, "indices are 0..M-1 in order")
		assert.GreaterOrEqual(t, it.Time, prev, "elapsed times never decrease")
		prev = it.Time
	}
}

func TestFitGradientNoTrackingReturnsNil(t *testing.T) {
	m := newQuadModule(1, 2)

	iterations, err := FitGradient(m, GradientFitConfig{
		MaxIter:     5,
		Convergence: countToMax,
	})
	require.NoError(t, err)
	assert.Nil(t, iterations)
}

func TestFitGradientReducesLoss(t *testing.T) {
	m := newQuadModule(1, 2)
	initial, err := m.Loss(0)
	require.NoError(t, err)

	_, err = FitGradient(m, GradientFitConfig{
		LR:          0.1,
		MaxIter:     60,
		Convergence: countToMax,
	})
	require.NoError(t, err)

	final, err := m.Loss(0)
	require.NoError(t, err)
	assert.Less(t, final, initial)
}

func TestFitGradientPropagatesModelError(t *testing.T) {
	m := newQuadModule(1, 2)
	boom := errors.New("forward pass failed")
	m.lossErr = boom

	_, err := FitGradient(m, GradientFitConfig{MaxIter: 5, Convergence: countToMax})
	assert.Equal(t, boom, err)
}

func TestFitQuasiNewtonRecordsCallbackIterates(t *testing.T) {
	m := newQuadModule(1, 2)

	steps := [][]float64{
		{1.5, 1.0, 1.0},
		{2.0, 0.0, 1.0},
		{2.5, -0.5, 1.0},
	}
	final := []float64{3.0, -1.0, 1.0}

	fake := func(fg minimize.ObjectiveGrad, x0 []float64, _ *minimize.Bounds, _ string, _ *minimize.Options, cb minimize.Callback) (*minimize.Result, error) {
		if _, _, err := fg(x0); err != nil {
			return nil, err
		}
		for _, s := range steps {
			cb(s)
		}
		f, _, err := fg(final)
		if err != nil {
			return nil, err
		}
		return &minimize.Result{X: final, F: f, Iterations: len(steps)}, nil
	}

	iterations, err := FitQuasiNewton(m, QuasiNewtonFitConfig{
		TrackIterations: true,
		Minimize:        fake,
	})
	require.NoError(t, err)
	require.Len(t, iterations, len(steps), "one record per callback invocation")

	prev := -1.0
	for i, it := range iterations {
		assert.Equal(t, i, it.Itr)
		assert.GreaterOrEqual(t, it.Time, prev)
		prev = it.Time

		// Recorded objective values come from re-evaluation at the stored
		// iterate, not from any solver cache.
		da := steps[i][0] - 3
		db := steps[i][1] + 1
		assert.InDelta(t, da*da+db*db, it.Fun, 1e-12)
	}

	// The solver's final vector is the authoritative in-place update.
	assert.Equal(t, 3.0, m.a.Tensor().At(0))
	assert.Equal(t, -1.0, m.b.Tensor().At(0))
}

func TestFitQuasiNewtonNoTrackingReturnsEmptyList(t *testing.T) {
	m := newQuadModule(1, 2)

	fake := func(fg minimize.ObjectiveGrad, x0 []float64, _ *minimize.Bounds, _ string, _ *minimize.Options, cb minimize.Callback) (*minimize.Result, error) {
		assert.Nil(t, cb, "callback is only wired when tracking is requested")
		f, _, err := fg(x0)
		if err != nil {
			return nil, err
		}
		return &minimize.Result{X: x0, F: f}, nil
	}

	iterations, err := FitQuasiNewton(m, QuasiNewtonFitConfig{Minimize: fake})
	require.NoError(t, err)
	require.NotNil(t, iterations, "quasi-newton fitting always returns a list")
	assert.Empty(t, iterations)
}

func TestFitQuasiNewtonPropagatesSolverError(t *testing.T) {
	m := newQuadModule(1, 2)
	boom := errors.New("line search failed")

	fake := func(minimize.ObjectiveGrad, []float64, *minimize.Bounds, string, *minimize.Options, minimize.Callback) (*minimize.Result, error) {
		return nil, boom
	}

	_, err := FitQuasiNewton(m, QuasiNewtonFitConfig{Minimize: fake})
	assert.Equal(t, boom, err, "solver failures are not reinterpreted")
}

func TestFitQuasiNewtonConvergesQuadratic(t *testing.T) {
	m := newQuadModule(1, 2)

	iterations, err := FitQuasiNewton(m, QuasiNewtonFitConfig{
		TrackIterations: true,
	})
	require.NoError(t, err)
	require.NotNil(t, iterations)

	assert.InDelta(t, 3.0, m.a.Tensor().At(0), 1e-4)
	assert.InDelta(t, -1.0, m.b.Tensor().At(0), 1e-4)
}

func TestFitQuasiNewtonRespectsBounds(t *testing.T) {
	m := newQuadModule(1, 2)

	_, err := FitQuasiNewton(m, QuasiNewtonFitConfig{
		Bounds: ParameterBounds{
			"a": {Lower: []float64{0}, Upper: []float64{2}},
		},
	})
	require.NoError(t, err)

	// The unconstrained minimum for a is 3; the box pins it at 2.
	assert.InDelta(t, 2.0, m.a.Tensor().At(0), 1e-4)
	assert.InDelta(t, -1.0, m.b.Tensor().At(0), 1e-4)
}
