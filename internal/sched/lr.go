package sched

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/stride-ml/stride/internal/optim"
)

// MultiStepLR decays every optimizer group's learning rate by gamma at each
// milestone, with milestone multiplicity compounding as in MultiStep.
//
// The learning rates themselves live on the optimizer's groups and are
// persisted with the optimizer state; this schedule's own state is just its
// step counter and milestone configuration.
type MultiStepLR struct {
	opt        optim.Optimizer
	milestones milestoneCounter
	gamma      float64
	lastStep   int
}

type multiStepLRState struct {
	Milestones []int   `json:"milestones"`
	Gamma      float64 `json:"gamma"`
	LastStep   int     `json:"last_step"`
}

// NewMultiStepLR builds a learning-rate schedule attached to opt.
func NewMultiStepLR(opt optim.Optimizer, milestones []int, gamma float64) *MultiStepLR {
	return &MultiStepLR{
		opt:        opt,
		milestones: newMilestoneCounter(milestones),
		gamma:      gamma,
	}
}

// Step advances the schedule and, on an exact milestone, multiplies every
// group's learning rate by gamma^multiplicity.
func (s *MultiStepLR) Step() {
	s.lastStep++
	mult := s.milestones[s.lastStep]
	if mult == 0 {
		return
	}
	factor := math.Pow(s.gamma, float64(mult))
	for _, g := range s.opt.Groups() {
		g.LR *= factor
	}
}

// Values returns the current learning rate of each optimizer group, keyed
// by group index as "lr_<i>".
func (s *MultiStepLR) Values() map[string]float64 {
	groups := s.opt.Groups()
	out := make(map[string]float64, len(groups))
	for i, g := range groups {
		out[fmt.Sprintf("lr_%d", i)] = g.LR
	}
	return out
}

// StateDict serializes the milestone configuration and step counter.
func (s *MultiStepLR) StateDict() (json.RawMessage, error) {
	return json.Marshal(multiStepLRState{
		Milestones: s.milestones.expanded(),
		Gamma:      s.gamma,
		LastStep:   s.lastStep,
	})
}

// LoadStateDict restores the milestone configuration and step counter. The
// learning rates are restored separately through the optimizer state.
func (s *MultiStepLR) LoadStateDict(blob json.RawMessage) error {
	var state multiStepLRState
	if err := json.Unmarshal(blob, &state); err != nil {
		return err
	}
	s.milestones = newMilestoneCounter(state.Milestones)
	s.gamma = state.Gamma
	s.lastStep = state.LastStep
	return nil
}
