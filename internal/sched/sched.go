// Package sched implements the parameter schedules advanced by the training
// controller on each committed step.
//
// Two scheduler kinds exist: MultiStepLR, the standard per-optimizer-group
// learning-rate schedule, and MultiStep, a piecewise-constant geometric
// decay over arbitrary dotted-path-addressed hyperparameters. Combined
// aggregates an ordered list of either kind behind one interface so the
// controller can step, query, and persist them uniformly.
package sched

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Scheduler is the single interface both schedule kinds adapt to.
//
// State blobs are opaque to callers; only the scheduler that produced a blob
// can consume it.
type Scheduler interface {
	// Step advances the schedule by one committed training step.
	Step()

	// Values returns the schedule's current observable values, keyed by
	// governed path (MultiStep) or "lr_<i>" per optimizer group
	// (MultiStepLR).
	Values() map[string]float64

	// StateDict serializes the schedule state.
	StateDict() (json.RawMessage, error)

	// LoadStateDict restores previously serialized state.
	LoadStateDict(json.RawMessage) error
}

// Combined treats an ordered list of heterogeneous schedulers as one unit.
//
// Order is significant and observable: a later child sees state already
// mutated by an earlier one when both govern the same path, and serialized
// state is index-aligned with construction order.
type Combined struct {
	children []Scheduler
}

// NewCombined aggregates the given schedulers. The list may be empty, in
// which case every operation is a no-op.
func NewCombined(children ...Scheduler) *Combined {
	return &Combined{children: children}
}

// Step advances each child in list order.
func (c *Combined) Step() {
	for _, s := range c.children {
		s.Step()
	}
}

// Values merges each child's value map in list order. Key collisions are
// last-write-wins.
func (c *Combined) Values() map[string]float64 {
	maps := lo.Map(c.children, func(s Scheduler, _ int) map[string]float64 {
		return s.Values()
	})
	return lo.Assign(maps...)
}

// StateDict serializes every child into an ordered list of opaque blobs.
func (c *Combined) StateDict() ([]json.RawMessage, error) {
	blobs := make([]json.RawMessage, len(c.children))
	for i, s := range c.children {
		blob, err := s.StateDict()
		if err != nil {
			return nil, fmt.Errorf("sched: serializing child %d: %w", i, err)
		}
		blobs[i] = blob
	}
	return blobs, nil
}

// LoadStateDict restores every child from an index-aligned blob list, then
// recomputes MultiStep children from their base values to resolve any drift
// accumulated by step-wise multiplication before the snapshot.
func (c *Combined) LoadStateDict(blobs []json.RawMessage) error {
	if len(blobs) != len(c.children) {
		return fmt.Errorf("sched: scheduler count mismatch: have %d, state has %d", len(c.children), len(blobs))
	}
	for i, s := range c.children {
		if err := s.LoadStateDict(blobs[i]); err != nil {
			return fmt.Errorf("sched: restoring child %d: %w", i, err)
		}
	}
	for _, s := range c.children {
		if ms, ok := s.(*MultiStep); ok {
			ms.RecomputeFromBase(ms.LastStep())
		}
	}
	return nil
}

// milestoneCounter is a multiset of step milestones. A milestone listed
// twice compounds its decay twice.
type milestoneCounter map[int]int

func newMilestoneCounter(milestones []int) milestoneCounter {
	c := make(milestoneCounter, len(milestones))
	for _, m := range milestones {
		c[m]++
	}
	return c
}

// atOrBelow returns the total multiplicity of milestones ≤ step.
func (c milestoneCounter) atOrBelow(step int) int {
	n := 0
	for m, count := range c {
		if m <= step {
			n += count
		}
	}
	return n
}

// expanded returns the milestones as a sorted list with duplicates, the
// serialization form.
func (c milestoneCounter) expanded() []int {
	out := make([]int, 0, len(c))
	for m, count := range c {
		for i := 0; i < count; i++ {
			out = append(out, m)
		}
	}
	sort.Ints(out)
	return out
}
