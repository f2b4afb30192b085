package minimize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadratic has its unconstrained minimum at (2, -2).
func quadratic(x []float64) (float64, []float64, error) {
	dx := x[0] - 2
	dy := x[1] + 2
	return dx*dx + dy*dy, []float64{2 * dx, 2 * dy}, nil
}

func TestMinimizeQuadratic(t *testing.T) {
	methods := []string{MethodLBFGSB, MethodBFGS, MethodCG}
	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			res, err := Minimize(quadratic, []float64{0, 0}, nil, method, nil, nil)
			require.NoError(t, err)
			assert.InDelta(t, 2.0, res.X[0], 1e-6)
			assert.InDelta(t, -2.0, res.X[1], 1e-6)
			assert.InDelta(t, 0.0, res.F, 1e-10)
		})
	}
}

func TestMinimizeKeepsIteratesFeasible(t *testing.T) {
	bounds := &Bounds{
		Lower:        []float64{0, 0},
		Upper:        []float64{1, 1},
		KeepFeasible: true,
	}

	evaluated := func(x []float64) (float64, []float64, error) {
		for i := range x {
			require.GreaterOrEqual(t, x[i], bounds.Lower[i], "objective saw an infeasible point")
			require.LessOrEqual(t, x[i], bounds.Upper[i], "objective saw an infeasible point")
		}
		return quadratic(x)
	}

	res, err := Minimize(evaluated, []float64{0.5, 0.5}, bounds, MethodLBFGSB, nil, nil)
	require.NoError(t, err)

	// The box pins the minimum at the (1, 0) corner.
	assert.InDelta(t, 1.0, res.X[0], 1e-6)
	assert.InDelta(t, 0.0, res.X[1], 1e-6)
}

func TestMinimizeClampsInitialPoint(t *testing.T) {
	bounds := &Bounds{
		Lower:        []float64{0, 0},
		Upper:        []float64{1, 1},
		KeepFeasible: true,
	}

	res, err := Minimize(quadratic, []float64{5, -5}, bounds, MethodLBFGSB, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.X[0], 1e-6)
	assert.InDelta(t, 0.0, res.X[1], 1e-6)
}

func TestMinimizeCallback(t *testing.T) {
	var calls int
	cb := func(x []float64) {
		calls++
		require.Len(t, x, 2)
	}

	_, err := Minimize(quadratic, []float64{-3, 3}, nil, MethodLBFGSB, nil, cb)
	require.NoError(t, err)
	assert.Greater(t, calls, 0, "callback fires on major iterations")
}

func TestMinimizeObjectiveErrorPropagates(t *testing.T) {
	boom := errors.New("model exploded")
	fg := func(x []float64) (float64, []float64, error) {
		return 0, nil, boom
	}

	_, err := Minimize(fg, []float64{0, 0}, nil, MethodLBFGSB, nil, nil)
	assert.Equal(t, boom, err, "objective failures are returned verbatim")
}

func TestMinimizeValidation(t *testing.T) {
	_, err := Minimize(nil, []float64{0}, nil, MethodLBFGSB, nil, nil)
	assert.Error(t, err)

	_, err = Minimize(quadratic, nil, nil, MethodLBFGSB, nil, nil)
	assert.Error(t, err)

	_, err = Minimize(quadratic, []float64{0, 0}, nil, "simulated-annealing", nil, nil)
	assert.Error(t, err)

	_, err = Minimize(quadratic, []float64{0, 0}, &Bounds{Lower: []float64{0}, Upper: []float64{1}}, MethodLBFGSB, nil, nil)
	assert.Error(t, err)
}
