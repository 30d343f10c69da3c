// Package optim implements the optimizers driven by the training controller.
//
// This package provides:
//   - Optimizer interface: Step/ZeroGrad plus state-dict round-tripping
//   - Group: a partition of trainable parameters with per-group options
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Optimizers read gradients directly from the parameters; a nil gradient
// means the parameter did not participate in the forward pass and is
// skipped. Optimizer state round-trips through State so the checkpoint
// store can persist and restore it.
package optim

import (
	"fmt"

	"github.com/stride-ml/stride/internal/nn"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies one gradient update to every parameter that has a
	// gradient. Parameters with a nil gradient are skipped.
	Step()

	// ZeroGrad clears all parameter gradients. Call before each backward
	// pass to prevent stale gradients from leaking across iterations.
	ZeroGrad()

	// Groups returns the optimizer's parameter groups in construction
	// order. Group learning rates may be mutated by schedulers.
	Groups() []*Group

	// StateDict returns the optimizer state for serialization.
	StateDict() State

	// LoadStateDict restores optimizer state from a checkpoint. Returns an
	// error if the state is for a different algorithm or the buffer shapes
	// do not match the current parameters.
	LoadStateDict(State) error
}

// Group is a partition of trainable parameters sharing a learning rate and
// optional per-group options (e.g. momentum overrides).
//
// Group implements dotpath.Obj so milestone schedules can address group
// hyperparameters with paths like "groups.0.lr". Unknown field names fall
// back to the Options map, which acts as the group's key/value store.
type Group struct {
	Name    string
	Params  []*nn.Parameter
	LR      float64
	Options map[string]float64
}

// Field resolves a field name for dotted-path lookup.
func (g *Group) Field(name string) (any, bool) {
	if name == "lr" {
		return g.LR, true
	}
	v, ok := g.Options[name]
	return v, ok
}

// SetField writes a numeric field for dotted-path mutation. Writes to names
// other than "lr" land in the Options map, creating the entry if absent.
func (g *Group) SetField(name string, v float64) bool {
	if name == "lr" {
		g.LR = v
		return true
	}
	if g.Options == nil {
		g.Options = make(map[string]float64)
	}
	g.Options[name] = v
	return true
}

// SingleGroup wraps a module's parameters in one group, the common case
// when no explicit param_groups partition is configured.
func SingleGroup(m nn.Module, lr float64) []*Group {
	return []*Group{{Name: "default", Params: m.Parameters(), LR: lr}}
}

// State is the serializable optimizer state.
//
// Buffers are keyed by buffer kind and global parameter index (counted
// across groups in enumeration order), e.g. "velocity.0" or "m.3".
type State struct {
	Algo     string               `json:"algo"`
	Timestep int                  `json:"timestep,omitempty"`
	Groups   []GroupState         `json:"groups"`
	Buffers  map[string][]float64 `json:"buffers,omitempty"`
}

// GroupState is the per-group portion of State. Learning rates are saved
// because schedulers mutate them away from their configured values.
type GroupState struct {
	LR      float64            `json:"lr"`
	Options map[string]float64 `json:"options,omitempty"`
}

// groupStates snapshots the per-group state of groups.
func groupStates(groups []*Group) []GroupState {
	out := make([]GroupState, len(groups))
	for i, g := range groups {
		gs := GroupState{LR: g.LR}
		if len(g.Options) > 0 {
			gs.Options = make(map[string]float64, len(g.Options))
			for k, v := range g.Options {
				gs.Options[k] = v
			}
		}
		out[i] = gs
	}
	return out
}

// loadGroupStates restores per-group state saved by groupStates.
func loadGroupStates(groups []*Group, states []GroupState) error {
	if len(states) != len(groups) {
		return fmt.Errorf("optim: group count mismatch: have %d, state has %d", len(groups), len(states))
	}
	for i, g := range groups {
		g.LR = states[i].LR
		if states[i].Options != nil {
			g.Options = make(map[string]float64, len(states[i].Options))
			for k, v := range states[i].Options {
				g.Options[k] = v
			}
		}
	}
	return nil
}

// eachParam visits every parameter across groups with its global index.
func eachParam(groups []*Group, fn func(idx int, p *nn.Parameter)) {
	idx := 0
	for _, g := range groups {
		for _, p := range g.Params {
			fn(idx, p)
			idx++
		}
	}
}

// zeroGrads clears gradients on every parameter across groups.
func zeroGrads(groups []*Group) {
	eachParam(groups, func(_ int, p *nn.Parameter) {
		p.ZeroGrad()
	})
}

// validateGroups rejects empty or parameterless group lists at construction
// time.
func validateGroups(groups []*Group) error {
	if len(groups) == 0 {
		return fmt.Errorf("optim: no parameter groups")
	}
	n := 0
	for _, g := range groups {
		n += len(g.Params)
	}
	if n == 0 {
		return fmt.Errorf("optim: parameter groups contain no parameters")
	}
	return nil
}
