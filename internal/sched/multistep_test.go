package sched_test

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stride-ml/stride/internal/dotpath"
	"github.com/stride-ml/stride/internal/sched"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
}

func value(t *testing.T, root any, path string) float64 {
	t.Helper()
	v, ok := dotpath.Lookup(root, path)
	if !ok {
		t.Fatalf("path %q does not resolve", path)
	}
	return v
}

func TestMultiStep_DecaysAtMilestone(t *testing.T) {
	root := dotpath.Floats{"sigma": 8.0}
	s := sched.NewMultiStep(root, []int{3}, map[string]float64{"sigma": 0.5}, 0, testLogger())

	for i := 0; i < 2; i++ {
		s.Step()
	}
	if got := value(t, root, "sigma"); got != 8.0 {
		t.Errorf("before milestone: got %f, want 8.0", got)
	}

	s.Step() // step 3
	if got := value(t, root, "sigma"); got != 4.0 {
		t.Errorf("at milestone: got %f, want 4.0", got)
	}

	s.Step() // past the milestone, no further decay
	if got := value(t, root, "sigma"); got != 4.0 {
		t.Errorf("after milestone: got %f, want 4.0", got)
	}
}

func TestMultiStep_RepeatedMilestoneCompounds(t *testing.T) {
	root := dotpath.Floats{"sigma": 8.0}
	s := sched.NewMultiStep(root, []int{10, 10}, map[string]float64{"sigma": 0.5}, 0, testLogger())

	for i := 0; i < 9; i++ {
		s.Step()
	}
	if got := value(t, root, "sigma"); got != 8.0 {
		t.Errorf("step 9: got %f, want 8.0", got)
	}

	s.Step() // milestone 10 with multiplicity 2: 8 * 0.5² = 2
	if got := value(t, root, "sigma"); got != 2.0 {
		t.Errorf("step 10: got %f, want 2.0", got)
	}
}

func TestMultiStep_NonZeroLastStepAppliesBacklog(t *testing.T) {
	root := dotpath.Floats{"sigma": 8.0}
	sched.NewMultiStep(root, []int{2, 4, 6}, map[string]float64{"sigma": 0.5}, 5, testLogger())

	// Milestones 2 and 4 are at or below 5: 8 * 0.5² = 2.
	if got := value(t, root, "sigma"); got != 2.0 {
		t.Errorf("constructed at step 5: got %f, want 2.0", got)
	}
}

func TestMultiStep_RecomputeFromBaseIsIdempotent(t *testing.T) {
	root := dotpath.Floats{"sigma": 9.0}
	s := sched.NewMultiStep(root, []int{1, 2, 3}, map[string]float64{"sigma": 1.0 / 3.0}, 0, testLogger())

	for i := 0; i < 3; i++ {
		s.Step()
	}
	s.RecomputeFromBase(s.LastStep())
	first := value(t, root, "sigma")
	s.RecomputeFromBase(s.LastStep())
	second := value(t, root, "sigma")

	if first != second {
		t.Errorf("recompute not idempotent: %.17g then %.17g", first, second)
	}
	// The pure recompute agrees with incremental stepping up to rounding.
	if math.Abs(first-9.0/27.0) > 1e-12 {
		t.Errorf("recomputed value: got %.17g, want %.17g", first, 9.0/27.0)
	}
}

func TestMultiStep_GrowthFactorAllowed(t *testing.T) {
	root := dotpath.Floats{"temp": 1.0}
	s := sched.NewMultiStep(root, []int{1}, map[string]float64{"temp": 2.0}, 0, testLogger())

	s.Step()
	if got := value(t, root, "temp"); got != 2.0 {
		t.Errorf("gamma > 1 should grow the value: got %f, want 2.0", got)
	}
}

func TestMultiStep_UnresolvablePathDropped(t *testing.T) {
	root := dotpath.Floats{"sigma": 8.0}
	s := sched.NewMultiStep(root, []int{1}, map[string]float64{
		"sigma":   0.5,
		"missing": 0.5,
	}, 0, testLogger())

	s.Step()

	vals := s.Values()
	if _, ok := vals["missing"]; ok {
		t.Error("unresolvable path should be dropped from the schedule")
	}
	if got := vals["sigma"]; got != 4.0 {
		t.Errorf("surviving path: got %f, want 4.0", got)
	}
}

func TestMultiStep_StateRoundTrip(t *testing.T) {
	root := dotpath.Floats{"sigma": 8.0}
	s := sched.NewMultiStep(root, []int{2, 5}, map[string]float64{"sigma": 0.5}, 0, testLogger())
	for i := 0; i < 3; i++ {
		s.Step()
	}
	blob, err := s.StateDict()
	if err != nil {
		t.Fatalf("StateDict: %v", err)
	}

	// Restore into a schedule over a fresh graph with a different live value.
	root2 := dotpath.Floats{"sigma": 100.0}
	s2 := sched.NewMultiStep(root2, nil, map[string]float64{"sigma": 0.9}, 0, testLogger())
	if err := s2.LoadStateDict(blob); err != nil {
		t.Fatalf("LoadStateDict: %v", err)
	}

	if s2.LastStep() != 3 {
		t.Errorf("restored lastStep: got %d, want 3", s2.LastStep())
	}
	// Recomputed from the serialized base 8.0, one milestone passed.
	if got := value(t, root2, "sigma"); got != 4.0 {
		t.Errorf("restored value: got %f, want 4.0", got)
	}

	// Remaining milestone still fires.
	s2.Step()
	s2.Step() // step 5
	if got := value(t, root2, "sigma"); got != 2.0 {
		t.Errorf("post-restore milestone: got %f, want 2.0", got)
	}
}

func TestMultiStep_NestedGraphPaths(t *testing.T) {
	inner := dotpath.Floats{"lr": 0.1}
	root := dotpath.Dict{
		"groups": dotpath.List{inner},
	}
	s := sched.NewMultiStep(root, []int{1}, map[string]float64{"groups.0.lr": 0.5}, 0, testLogger())

	s.Step()
	if got := inner["lr"]; math.Abs(got-0.05) > 1e-15 {
		t.Errorf("nested path mutation: got %f, want 0.05", got)
	}
}
