package fit

import (
	"github.com/copyleftdev/TAIGA/internal/model"
)

// quadModule is a minimal Module with the closed-form loss
// (a - targetA)^2 + (b - targetB)^2. The "scale" parameter is registered
// but never used by the loss, so Backward leaves it without a gradient.
type quadModule struct {
	a, b, scale      *model.Parameter
	targetA, targetB float64
	lossErr          error
}

func newQuadModule(a, b float64) *quadModule {
	return &quadModule{
		a:       model.NewParameter(model.NewTensor([]float64{a}, []int{1}), true),
		b:       model.NewParameter(model.NewTensor([]float64{b}, []int{1}), true),
		scale:   model.NewParameter(model.NewTensor([]float64{1}, []int{1}), true),
		targetA: 3,
		targetB: -1,
	}
}

func (q *quadModule) NamedParameters() []model.NamedParameter {
	return []model.NamedParameter{
		{Name: "a", Param: q.a},
		{Name: "b", Param: q.b},
		{Name: "scale", Param: q.scale},
	}
}

func (q *quadModule) ZeroGrad() {
	for _, np := range q.NamedParameters() {
		np.Param.ZeroGrad()
	}
}

func (q *quadModule) Loss(int) (float64, error) {
	if q.lossErr != nil {
		return 0, q.lossErr
	}
	da := q.a.Tensor().At(0) - q.targetA
	db := q.b.Tensor().At(0) - q.targetB
	return da*da + db*db, nil
}

func (q *quadModule) Backward() error {
	da := q.a.Tensor().At(0) - q.targetA
	db := q.b.Tensor().At(0) - q.targetB
	if err := q.a.AccumulateGrad([]float64{2 * da}); err != nil {
		return err
	}
	return q.b.AccumulateGrad([]float64{2 * db})
}

// toyModule carries an arbitrary fixed parameter list and a trivial loss,
// for exercising the codec alone.
type toyModule struct {
	params []model.NamedParameter
}

func (m *toyModule) NamedParameters() []model.NamedParameter { return m.params }

func (m *toyModule) ZeroGrad() {
	for _, np := range m.params {
		np.Param.ZeroGrad()
	}
}

func (m *toyModule) Loss(int) (float64, error) { return 0, nil }

func (m *toyModule) Backward() error { return nil }
