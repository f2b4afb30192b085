package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/TAIGA/internal/model"
)

func newParam(values ...float64) *model.Parameter {
	return model.NewParameter(model.NewTensor(values, []int{len(values)}), true)
}

func TestSGDStep(t *testing.T) {
	p := newParam(1.0, -2.0)
	require.NoError(t, p.AccumulateGrad([]float64{0.5, -0.5}))

	opt, err := NewSGD([]*model.Parameter{p}, SGDConfig{LR: 0.1})
	require.NoError(t, err)
	require.NoError(t, opt.Step())

	assert.InDelta(t, 0.95, p.Tensor().At(0), 1e-12)
	assert.InDelta(t, -1.95, p.Tensor().At(1), 1e-12)
}

func TestSGDMomentumAccumulates(t *testing.T) {
	p := newParam(0.0)
	opt, err := NewSGD([]*model.Parameter{p}, SGDConfig{LR: 1.0, Momentum: 0.5})
	require.NoError(t, err)

	// Two steps with a constant unit gradient: v goes 1 then 1.5.
	require.NoError(t, p.AccumulateGrad([]float64{1}))
	require.NoError(t, opt.Step())
	assert.InDelta(t, -1.0, p.Tensor().At(0), 1e-12)

	p.ZeroGrad()
	require.NoError(t, p.AccumulateGrad([]float64{1}))
	require.NoError(t, opt.Step())
	assert.InDelta(t, -2.5, p.Tensor().At(0), 1e-12)
}

func TestAdamFirstStepIsSignedLR(t *testing.T) {
	p := newParam(3.0, -3.0)
	require.NoError(t, p.AccumulateGrad([]float64{10, -0.01}))

	opt, err := NewAdam([]*model.Parameter{p}, AdamConfig{LR: 0.05})
	require.NoError(t, err)
	require.NoError(t, opt.Step())

	// Bias correction makes the first update lr * sign(g) regardless of
	// gradient magnitude.
	assert.InDelta(t, 3.0-0.05, p.Tensor().At(0), 1e-6)
	assert.InDelta(t, -3.0+0.05, p.Tensor().At(1), 1e-6)
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	p := newParam(5.0)
	opt, err := NewAdam([]*model.Parameter{p}, AdamConfig{LR: 0.1})
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		opt.ZeroGrad()
		x := p.Tensor().At(0)
		require.NoError(t, p.AccumulateGrad([]float64{2 * x}))
		require.NoError(t, opt.Step())
	}
	assert.InDelta(t, 0.0, p.Tensor().At(0), 1e-2)
}

func TestStepSkipsParametersWithoutGradient(t *testing.T) {
	active := newParam(1.0)
	idle := newParam(7.0)
	require.NoError(t, active.AccumulateGrad([]float64{1}))

	for _, opt := range []Optimizer{
		mustSGD(t, []*model.Parameter{active, idle}, SGDConfig{LR: 0.1}),
		mustAdam(t, []*model.Parameter{active, idle}, AdamConfig{LR: 0.1}),
	} {
		require.NoError(t, opt.Step())
		assert.Equal(t, 7.0, idle.Tensor().At(0), "no gradient, no movement")
		opt.ZeroGrad()
		require.NoError(t, active.AccumulateGrad([]float64{1}))
	}
}

func TestZeroGradClearsParameters(t *testing.T) {
	p := newParam(1.0)
	require.NoError(t, p.AccumulateGrad([]float64{2}))

	opt := mustSGD(t, []*model.Parameter{p}, SGDConfig{LR: 0.1})
	opt.ZeroGrad()
	assert.Nil(t, p.Grad())
}

func TestConstructorValidation(t *testing.T) {
	p := newParam(0.0)

	_, err := NewSGD([]*model.Parameter{p}, SGDConfig{LR: 0})
	assert.Error(t, err)
	_, err = NewSGD([]*model.Parameter{p}, SGDConfig{LR: 0.1, Momentum: 1.0})
	assert.Error(t, err)
	_, err = NewSGD(nil, SGDConfig{LR: 0.1})
	assert.Error(t, err)

	_, err = NewAdam([]*model.Parameter{p}, AdamConfig{LR: -1})
	assert.Error(t, err)
	_, err = NewAdam([]*model.Parameter{p}, AdamConfig{LR: 0.1, Beta1: 1.5})
	assert.Error(t, err)
	_, err = NewAdam(nil, AdamConfig{LR: 0.1})
	assert.Error(t, err)
}

func mustSGD(t *testing.T, params []*model.Parameter, cfg SGDConfig) *SGD {
	t.Helper()
	opt, err := NewSGD(params, cfg)
	require.NoError(t, err)
	return opt
}

func mustAdam(t *testing.T, params []*model.Parameter, cfg AdamConfig) *Adam {
	t.Helper()
	opt, err := NewAdam(params, cfg)
	require.NoError(t, err)
	return opt
}
