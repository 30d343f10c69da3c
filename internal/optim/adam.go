package optim

import (
	"fmt"
	"math"

	"github.com/stride-ml/stride/internal/nn"
	"github.com/stride-ml/stride/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)   // Parameter update
//
// The timestep t is global to the optimizer, not per parameter, and is part
// of the serialized state: resuming without it would re-apply the large
// early-step bias correction.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	groups []*Group
	beta1  float64
	beta2  float64
	eps    float64
	t      int
	m      map[*nn.Parameter]*tensor.Vector
	v      map[*nn.Parameter]*tensor.Vector
}

// AdamConfig holds configuration for Adam.
type AdamConfig struct {
	Betas [2]float64 // Running-average coefficients (default [0.9, 0.999])
	Eps   float64    // Numerical-stability term (default 1e-8)
}

// NewAdam creates an Adam optimizer over the given parameter groups.
// Zero-valued config fields take the usual defaults.
func NewAdam(groups []*Group, config AdamConfig) (*Adam, error) {
	if err := validateGroups(groups); err != nil {
		return nil, err
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		groups: groups,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[*nn.Parameter]*tensor.Vector),
		v:      make(map[*nn.Parameter]*tensor.Vector),
	}, nil
}

// Step performs a single Adam update across all groups.
func (a *Adam) Step() {
	a.t++
	biasCorrection1 := 1.0 - math.Pow(a.beta1, float64(a.t))
	biasCorrection2 := 1.0 - math.Pow(a.beta2, float64(a.t))

	for _, g := range a.groups {
		for _, p := range g.Params {
			grad := p.Grad()
			if grad == nil {
				continue
			}

			m, ok := a.m[p]
			if !ok {
				m = tensor.Zeros(p.Value().Len())
				a.m[p] = m
			}
			v, ok := a.v[p]
			if !ok {
				v = tensor.Zeros(p.Value().Len())
				a.v[p] = v
			}

			a.updateParameter(p, grad, m, v, g.LR, biasCorrection1, biasCorrection2)
		}
	}
}

func (a *Adam) updateParameter(
	p *nn.Parameter,
	grad, m, v *tensor.Vector,
	lr, biasCorrection1, biasCorrection2 float64,
) {
	gradData := grad.Data()
	mData := m.Data()
	vData := v.Data()
	paramData := p.Value().Data()

	for i := range paramData {
		g := gradData[i]
		mData[i] = a.beta1*mData[i] + (1.0-a.beta1)*g
		vData[i] = a.beta2*vData[i] + (1.0-a.beta2)*g*g
		mHat := mData[i] / biasCorrection1
		vHat := vData[i] / biasCorrection2
		paramData[i] -= lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	zeroGrads(a.groups)
}

// Groups returns the parameter groups.
func (a *Adam) Groups() []*Group {
	return a.groups
}

// Timestep returns the current Adam timestep.
func (a *Adam) Timestep() int {
	return a.t
}

// StateDict exports the timestep, group state, and moment buffers keyed
// "m.{index}" and "v.{index}".
func (a *Adam) StateDict() State {
	state := State{
		Algo:     "adam",
		Timestep: a.t,
		Groups:   groupStates(a.groups),
		Buffers:  make(map[string][]float64),
	}
	eachParam(a.groups, func(idx int, p *nn.Parameter) {
		if m, ok := a.m[p]; ok {
			state.Buffers[fmt.Sprintf("m.%d", idx)] = m.Clone().Data()
		}
		if v, ok := a.v[p]; ok {
			state.Buffers[fmt.Sprintf("v.%d", idx)] = v.Clone().Data()
		}
	})
	return state
}

// LoadStateDict restores the timestep, group state, and moment buffers.
func (a *Adam) LoadStateDict(state State) error {
	if state.Algo != "adam" {
		return fmt.Errorf("optim: state is for %q, not adam", state.Algo)
	}
	if err := loadGroupStates(a.groups, state.Groups); err != nil {
		return err
	}

	a.t = state.Timestep
	a.m = make(map[*nn.Parameter]*tensor.Vector)
	a.v = make(map[*nn.Parameter]*tensor.Vector)
	var loadErr error
	eachParam(a.groups, func(idx int, p *nn.Parameter) {
		if loadErr != nil {
			return
		}
		for kind, dst := range map[string]map[*nn.Parameter]*tensor.Vector{"m": a.m, "v": a.v} {
			buf, ok := state.Buffers[fmt.Sprintf("%s.%d", kind, idx)]
			if !ok {
				continue
			}
			if len(buf) != p.Value().Len() {
				loadErr = fmt.Errorf("optim: %s length mismatch for parameter %d (%s): expected %d, got %d",
					kind, idx, p.Name(), p.Value().Len(), len(buf))
				return
			}
			dst[p] = tensor.FromSlice(buf)
		}
	})
	return loadErr
}
