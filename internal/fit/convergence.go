package fit

import (
	"math"

	"github.com/copyleftdev/TAIGA/internal/model"
)

// ConvergencePolicy decides when the gradient fit loop should stop. It
// receives the loss trajectory, the per-parameter snapshot trajectory,
// policy options and the iteration cap, and must return true no later
// than when the trajectory length reaches maxIter. It may return true
// earlier based on whatever plateau heuristics it defines.
type ConvergencePolicy func(lossTrajectory []float64, paramTrajectory map[string][]*model.Tensor, options map[string]float64, maxIter int) bool

// Option keys recognized by DefaultConvergence.
const (
	// OptionFtol is the relative loss-improvement threshold below which
	// the trajectory counts as plateaued.
	OptionFtol = "ftol"
	// OptionWindow is the number of trailing iterations the plateau test
	// looks back over.
	OptionWindow = "window"
)

// DefaultConvergence stops at the iteration cap, or earlier when the loss
// improvement over a trailing window falls below ftol relative to the
// current loss magnitude.
func DefaultConvergence(lossTrajectory []float64, _ map[string][]*model.Tensor, options map[string]float64, maxIter int) bool {
	n := len(lossTrajectory)
	if maxIter > 0 && n >= maxIter {
		return true
	}

	window := 10
	if w, ok := options[OptionWindow]; ok && w >= 1 {
		window = int(w)
	}
	ftol := 1e-9
	if f, ok := options[OptionFtol]; ok && f > 0 {
		ftol = f
	}
	if n <= window {
		return false
	}

	cur := lossTrajectory[n-1]
	prev := lossTrajectory[n-1-window]
	scale := math.Max(math.Abs(cur), 1)
	return math.Abs(prev-cur) <= ftol*scale
}
