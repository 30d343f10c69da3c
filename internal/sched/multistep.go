package sched

import (
	"encoding/json"
	"log/slog"
	"math"
	"sort"

	"github.com/stride-ml/stride/internal/dotpath"
)

// MultiStep applies piecewise-constant geometric decay to a named subset of
// values reachable through dotted paths on a target object graph.
//
// Milestones form a multiset: a step listed with multiplicity k compounds
// the decay k times when that step is reached. Decay factors are not
// validated; a factor ≥ 1 grows the governed value, which is permitted.
//
// Two independent code paths change governed values. Step multiplies the
// current live value incrementally on each milestone hit; RecomputeFromBase
// rewrites every value from the bases captured at construction and is used
// once after a checkpoint restore to correct floating-point drift from the
// incremental path. They agree only up to float64 rounding.
type MultiStep struct {
	root       any
	milestones milestoneCounter
	gammas     map[string]float64
	base       map[string]float64
	lastStep   int
	logger     *slog.Logger
}

// multiStepState is the serialization form of MultiStep.
type multiStepState struct {
	BaseValues map[string]float64 `json:"base_values"`
	Milestones []int              `json:"milestones"`
	Gammas     map[string]float64 `json:"gammas"`
	LastStep   int                `json:"last_step"`
}

// NewMultiStep builds a milestone schedule over root.
//
// Base values are captured from the current value at each path in gammas,
// before any decay. Paths that do not resolve are dropped with a warning
// and permanently excluded from this schedule instance. A non-zero lastStep
// (resume without a checkpoint) immediately applies the decay accumulated
// by the milestones at or below it.
func NewMultiStep(root any, milestones []int, gammas map[string]float64, lastStep int, logger *slog.Logger) *MultiStep {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MultiStep{
		root:       root,
		milestones: newMilestoneCounter(milestones),
		gammas:     make(map[string]float64, len(gammas)),
		base:       make(map[string]float64, len(gammas)),
		logger:     logger,
	}

	var missing []string
	for path, gamma := range gammas {
		v, ok := dotpath.Lookup(root, path)
		if !ok {
			missing = append(missing, path)
			continue
		}
		m.gammas[path] = gamma
		m.base[path] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		logger.Warn("schedule paths do not resolve and will not be scheduled", "paths", missing)
	}

	m.RecomputeFromBase(lastStep)
	return m
}

// LastStep returns the number of steps this schedule has advanced.
func (m *MultiStep) LastStep() int {
	return m.lastStep
}

// Step advances the schedule by one step. If the new step count is an exact
// milestone, every governed value is multiplied by gamma^multiplicity
// relative to its current value.
func (m *MultiStep) Step() {
	m.lastStep++
	mult := m.milestones[m.lastStep]
	if mult == 0 {
		return
	}
	for path, gamma := range m.gammas {
		cur, ok := dotpath.Lookup(m.root, path)
		if !ok {
			continue
		}
		m.set(path, cur*math.Pow(gamma, float64(mult)))
	}
}

// RecomputeFromBase sets lastStep and rewrites every governed value from
// its base value using the total multiplicity of milestones at or below
// lastStep. Pure in base values, gammas, and lastStep: applying it twice
// yields the same values as once.
func (m *MultiStep) RecomputeFromBase(lastStep int) {
	m.lastStep = lastStep
	count := m.milestones.atOrBelow(lastStep)
	for path, gamma := range m.gammas {
		m.set(path, m.base[path]*math.Pow(gamma, float64(count)))
	}
}

func (m *MultiStep) set(path string, v float64) {
	if err := dotpath.Set(m.root, path, v); err != nil {
		// The path resolved at construction; losing it mid-run means the
		// target graph was restructured underneath us.
		m.logger.Warn("governed path is no longer writable", "path", path, "err", err)
	}
}

// Values returns the current value at every governed path.
func (m *MultiStep) Values() map[string]float64 {
	out := make(map[string]float64, len(m.gammas))
	for path := range m.gammas {
		if v, ok := dotpath.Lookup(m.root, path); ok {
			out[path] = v
		}
	}
	return out
}

// StateDict serializes base values, milestones, decay factors, and the step
// count. The target graph itself is not serialized.
func (m *MultiStep) StateDict() (json.RawMessage, error) {
	return json.Marshal(multiStepState{
		BaseValues: m.base,
		Milestones: m.milestones.expanded(),
		Gammas:     m.gammas,
		LastStep:   m.lastStep,
	})
}

// LoadStateDict restores serialized state and recomputes the live governed
// values from base.
func (m *MultiStep) LoadStateDict(blob json.RawMessage) error {
	var state multiStepState
	if err := json.Unmarshal(blob, &state); err != nil {
		return err
	}
	m.base = state.BaseValues
	m.milestones = newMilestoneCounter(state.Milestones)
	m.gammas = state.Gammas
	m.RecomputeFromBase(state.LastStep)
	return nil
}
