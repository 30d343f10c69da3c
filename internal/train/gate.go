package train

import (
	"math"

	"github.com/stride-ml/stride/internal/nn"
)

// Gate decides, per iteration, whether a computed loss/gradient pair is
// numerically trustworthy enough to commit.
//
// Non-finite or over-threshold values are an expected, handled condition:
// the gate reports a verdict, it never errors. A nil threshold means "check
// finiteness only".
type Gate struct {
	// MaxLoss, when set, bounds |loss|; when nil, the loss only needs to
	// be finite.
	MaxLoss *float64
	// MaxGrad, when set, bounds the global infinity norm across all
	// present gradients; when nil, every present gradient must be
	// entirely finite.
	MaxGrad *float64
}

// Verdict is the gate's decision for one step.
type Verdict struct {
	Commit bool
	LossOK bool
	GradOK bool
	// GradAbsMax is the global infinity norm over present gradients.
	// Populated only when MaxGrad is set.
	GradAbsMax float64
}

// Check evaluates the loss and the gradients currently present on params.
// Parameters with a nil gradient carry no signal and are ignored.
func (g Gate) Check(loss float64, params []*nn.Parameter) Verdict {
	v := Verdict{}

	if g.MaxLoss == nil {
		v.LossOK = !math.IsNaN(loss) && !math.IsInf(loss, 0)
	} else {
		v.LossOK = math.Abs(loss) <= *g.MaxLoss
	}

	if g.MaxGrad == nil {
		v.GradOK = true
		for _, p := range params {
			if grad := p.Grad(); grad != nil && !grad.AllFinite() {
				v.GradOK = false
				break
			}
		}
	} else {
		for _, p := range params {
			grad := p.Grad()
			if grad == nil {
				continue
			}
			if m := grad.AbsMax(); m > v.GradAbsMax || math.IsNaN(m) {
				v.GradAbsMax = m
			}
		}
		// NaN fails the comparison, so a NaN norm blocks the commit.
		v.GradOK = v.GradAbsMax <= *g.MaxGrad
	}

	v.Commit = v.LossOK && v.GradOK
	return v
}
