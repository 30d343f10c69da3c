package optim

import (
	"fmt"

	"github.com/stride-ml/stride/internal/nn"
	"github.com/stride-ml/stride/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// Each group may override the momentum via its Options["momentum"].
type SGD struct {
	groups     []*Group
	momentum   float64
	velocities map[*nn.Parameter]*tensor.Vector
}

// SGDConfig holds configuration for SGD.
type SGDConfig struct {
	Momentum float64 // Momentum factor (default 0, range [0, 1))
}

// NewSGD creates an SGD optimizer over the given parameter groups.
func NewSGD(groups []*Group, config SGDConfig) (*SGD, error) {
	if err := validateGroups(groups); err != nil {
		return nil, err
	}
	return &SGD{
		groups:     groups,
		momentum:   config.Momentum,
		velocities: make(map[*nn.Parameter]*tensor.Vector),
	}, nil
}

// Step applies one SGD update per parameter with a gradient.
func (s *SGD) Step() {
	for _, g := range s.groups {
		momentum := s.momentum
		if m, ok := g.Options["momentum"]; ok {
			momentum = m
		}
		for _, p := range g.Params {
			grad := p.Grad()
			if grad == nil {
				continue
			}
			if momentum == 0 {
				s.update(p, grad, g.LR)
			} else {
				s.updateWithMomentum(p, grad, g.LR, momentum)
			}
		}
	}
}

func (s *SGD) update(p *nn.Parameter, grad *tensor.Vector, lr float64) {
	paramData := p.Value().Data()
	gradData := grad.Data()
	for i := range paramData {
		paramData[i] -= lr * gradData[i]
	}
}

func (s *SGD) updateWithMomentum(p *nn.Parameter, grad *tensor.Vector, lr, momentum float64) {
	velocity, ok := s.velocities[p]
	if !ok {
		velocity = tensor.Zeros(p.Value().Len())
		s.velocities[p] = velocity
	}

	paramData := p.Value().Data()
	gradData := grad.Data()
	velocityData := velocity.Data()
	for i := range paramData {
		velocityData[i] = momentum*velocityData[i] + gradData[i]
		paramData[i] -= lr * velocityData[i]
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD) ZeroGrad() {
	zeroGrads(s.groups)
}

// Groups returns the parameter groups.
func (s *SGD) Groups() []*Group {
	return s.groups
}

// StateDict exports group state and, when momentum is enabled, the velocity
// buffers keyed "velocity.{index}".
func (s *SGD) StateDict() State {
	state := State{Algo: "sgd", Groups: groupStates(s.groups)}
	if s.momentum == 0 {
		return state
	}
	state.Buffers = make(map[string][]float64)
	eachParam(s.groups, func(idx int, p *nn.Parameter) {
		velocity, ok := s.velocities[p]
		if !ok {
			return // not stepped yet
		}
		state.Buffers[fmt.Sprintf("velocity.%d", idx)] = velocity.Clone().Data()
	})
	return state
}

// LoadStateDict restores group state and velocity buffers. Missing velocity
// buffers are left to be initialized on the next step; a buffer whose length
// does not match its parameter is an error.
func (s *SGD) LoadStateDict(state State) error {
	if state.Algo != "sgd" {
		return fmt.Errorf("optim: state is for %q, not sgd", state.Algo)
	}
	if err := loadGroupStates(s.groups, state.Groups); err != nil {
		return err
	}

	s.velocities = make(map[*nn.Parameter]*tensor.Vector)
	var loadErr error
	eachParam(s.groups, func(idx int, p *nn.Parameter) {
		if loadErr != nil {
			return
		}
		buf, ok := state.Buffers[fmt.Sprintf("velocity.%d", idx)]
		if !ok {
			return
		}
		if len(buf) != p.Value().Len() {
			loadErr = fmt.Errorf("optim: velocity length mismatch for parameter %d (%s): expected %d, got %d",
				idx, p.Name(), p.Value().Len(), len(buf))
			return
		}
		s.velocities[p] = tensor.FromSlice(buf)
	})
	return loadErr
}
