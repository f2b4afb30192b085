package optim

import (
	"errors"
	"fmt"
	"math"

	"github.com/copyleftdev/TAIGA/internal/model"
)

// AdamConfig configures the Adam optimizer. Zero-valued betas and epsilon
// select the usual defaults (0.9, 0.999, 1e-8).
type AdamConfig struct {
	// LR is the learning rate, required and positive.
	LR float64
	// Beta1 is the first-moment decay factor in [0, 1).
	Beta1 float64
	// Beta2 is the second-moment decay factor in [0, 1).
	Beta2 float64
	// Eps is the denominator fuzz term, positive.
	Eps float64
}

// Adam implements the Adam optimizer (Kingma & Ba, ICLR 2015) over a
// bound parameter group, with bias-corrected moment estimates.
type Adam struct {
	params []*model.Parameter
	cfg    AdamConfig
	step   int
	m, v   [][]float64
}

// NewAdam creates an Adam optimizer bound to the given parameters.
func NewAdam(params []*model.Parameter, cfg AdamConfig) (*Adam, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("optim: learning rate must be positive, got %v", cfg.LR)
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, fmt.Errorf("optim: betas must be in [0, 1), got %v/%v", cfg.Beta1, cfg.Beta2)
	}
	if cfg.Eps < 0 {
		return nil, fmt.Errorf("optim: eps must be positive, got %v", cfg.Eps)
	}
	if len(params) == 0 {
		return nil, errors.New("optim: no parameters to optimize")
	}

	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		n := p.Tensor().NumElements()
		m[i] = make([]float64, n)
		v[i] = make([]float64, n)
	}
	return &Adam{params: params, cfg: cfg, m: m, v: v}, nil
}

// Step applies one Adam update in place. Parameters without a gradient
// are skipped; their moment state does not decay for the skipped step.
func (a *Adam) Step() error {
	a.step++
	b1Corr := 1 - math.Pow(a.cfg.Beta1, float64(a.step))
	b2Corr := 1 - math.Pow(a.cfg.Beta2, float64(a.step))

	for i, p := range a.params {
		g := p.Grad()
		if g == nil {
			continue
		}
		data := p.Tensor().Data()
		if len(g) != len(data) {
			return fmt.Errorf("optim: gradient of %d elements for parameter of %d elements", len(g), len(data))
		}
		m, v := a.m[i], a.v[i]
		for j := range data {
			m[j] = a.cfg.Beta1*m[j] + (1-a.cfg.Beta1)*g[j]
			v[j] = a.cfg.Beta2*v[j] + (1-a.cfg.Beta2)*g[j]*g[j]
			mHat := m[j] / b1Corr
			vHat := v[j] / b2Corr
			if vHat < 0 {
				vHat = 0
			}
			data[j] -= a.cfg.LR * mHat / (math.Sqrt(vHat) + a.cfg.Eps)
		}
	}
	return nil
}

// ZeroGrad clears the gradient accumulator on every bound parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}
