package optim

import (
	"errors"
	"fmt"

	"github.com/copyleftdev/TAIGA/internal/model"
)

// SGDConfig configures stochastic gradient descent.
type SGDConfig struct {
	// LR is the learning rate, required and positive.
	LR float64
	// Momentum is the velocity decay factor in [0, 1). Zero disables
	// momentum.
	Momentum float64
}

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	params   []*model.Parameter
	cfg      SGDConfig
	velocity [][]float64
}

// NewSGD creates an SGD optimizer bound to the given parameters.
func NewSGD(params []*model.Parameter, cfg SGDConfig) (*SGD, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("optim: learning rate must be positive, got %v", cfg.LR)
	}
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		return nil, fmt.Errorf("optim: momentum must be in [0, 1), got %v", cfg.Momentum)
	}
	if len(params) == 0 {
		return nil, errors.New("optim: no parameters to optimize")
	}

	velocity := make([][]float64, len(params))
	for i, p := range params {
		velocity[i] = make([]float64, p.Tensor().NumElements())
	}
	return &SGD{params: params, cfg: cfg, velocity: velocity}, nil
}

// Step applies one SGD update in place. Parameters without a gradient
// (not part of the last backward pass) are skipped.
func (s *SGD) Step() error {
	for i, p := range s.params {
		g := p.Grad()
		if g == nil {
			continue
		}
		data := p.Tensor().Data()
		if len(g) != len(data) {
			return fmt.Errorf("optim: gradient of %d elements for parameter of %d elements", len(g), len(data))
		}
		v := s.velocity[i]
		for j := range data {
			v[j] = s.cfg.Momentum*v[j] + g[j]
			data[j] -= s.cfg.LR * v[j]
		}
	}
	return nil
}

// ZeroGrad clears the gradient accumulator on every bound parameter.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}
