package train

import (
	"fmt"

	"github.com/stride-ml/stride/internal/nn"
	"github.com/stride-ml/stride/internal/tensor"
)

// EMA maintains an exponential-moving-average shadow copy of the trainable
// parameters. The controller updates it on a fixed stride of committed
// steps; evaluation collaborators may read the shadow as an alternative to
// the live parameters.
type EMA struct {
	decay  float64
	params []*nn.Parameter
	shadow []*tensor.Vector // index-aligned with params
}

// NewEMA initializes the shadow to a copy of the current parameter values.
func NewEMA(params []*nn.Parameter, decay float64) *EMA {
	shadow := make([]*tensor.Vector, len(params))
	for i, p := range params {
		shadow[i] = p.Value().Clone()
	}
	return &EMA{decay: decay, params: params, shadow: shadow}
}

// Update folds the current parameter values into the shadow:
//
//	shadow = decay*shadow + (1-decay)*param
func (e *EMA) Update() {
	for i, p := range e.params {
		// Lengths were fixed at construction.
		_ = e.shadow[i].Lerp(p.Value(), e.decay)
	}
}

// Shadow returns the shadow vector for the i-th parameter.
func (e *EMA) Shadow(i int) *tensor.Vector {
	return e.shadow[i]
}

// StateDict exports the shadow values keyed by parameter name.
func (e *EMA) StateDict() map[string][]float64 {
	out := make(map[string][]float64, len(e.params))
	for i, p := range e.params {
		out[p.Name()] = e.shadow[i].Clone().Data()
	}
	return out
}

// LoadStateDict restores shadow values saved by StateDict. Every parameter
// must be present with a matching length.
func (e *EMA) LoadStateDict(state map[string][]float64) error {
	for i, p := range e.params {
		buf, ok := state[p.Name()]
		if !ok {
			return fmt.Errorf("train: ema state is missing parameter %q", p.Name())
		}
		if err := e.shadow[i].CopyFrom(tensor.New(buf)); err != nil {
			return fmt.Errorf("train: ema state for %q: %w", p.Name(), err)
		}
	}
	return nil
}
