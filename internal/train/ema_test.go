package train

import (
	"math"
	"testing"

	"github.com/stride-ml/stride/internal/nn"
	"github.com/stride-ml/stride/internal/tensor"
)

func TestEMA_ShadowStartsAsCopy(t *testing.T) {
	p := nn.NewParameter("w", tensor.FromSlice([]float64{3.0}))
	e := NewEMA([]*nn.Parameter{p}, 0.9)

	p.Value().Data()[0] = 99
	if got := e.Shadow(0).Data()[0]; got != 3.0 {
		t.Errorf("shadow should be an independent copy: got %f, want 3.0", got)
	}
}

func TestEMA_Update(t *testing.T) {
	p := nn.NewParameter("w", tensor.FromSlice([]float64{0.0}))
	e := NewEMA([]*nn.Parameter{p}, 0.9)

	p.Value().Data()[0] = 10.0
	e.Update()
	// 0.9*0 + 0.1*10 = 1.0
	if got := e.Shadow(0).Data()[0]; math.Abs(got-1.0) > 1e-12 {
		t.Errorf("after one update: got %f, want 1.0", got)
	}

	e.Update()
	// 0.9*1 + 0.1*10 = 1.9
	if got := e.Shadow(0).Data()[0]; math.Abs(got-1.9) > 1e-12 {
		t.Errorf("after two updates: got %f, want 1.9", got)
	}
}

func TestEMA_StateRoundTrip(t *testing.T) {
	p := nn.NewParameter("w", tensor.FromSlice([]float64{0.0}))
	e := NewEMA([]*nn.Parameter{p}, 0.5)
	p.Value().Data()[0] = 4.0
	e.Update()

	state := e.StateDict()
	if got := state["w"]; len(got) != 1 || got[0] != 2.0 {
		t.Errorf("StateDict = %v, want w=[2]", state)
	}

	e2 := NewEMA([]*nn.Parameter{p}, 0.5)
	if err := e2.LoadStateDict(state); err != nil {
		t.Fatalf("LoadStateDict: %v", err)
	}
	if got := e2.Shadow(0).Data()[0]; got != 2.0 {
		t.Errorf("restored shadow: got %f, want 2.0", got)
	}
}

func TestEMA_LoadStateDict_Errors(t *testing.T) {
	p := nn.NewParameter("w", tensor.FromSlice([]float64{0.0}))
	e := NewEMA([]*nn.Parameter{p}, 0.5)

	if err := e.LoadStateDict(map[string][]float64{}); err == nil {
		t.Error("missing parameter should error")
	}
	if err := e.LoadStateDict(map[string][]float64{"w": {1, 2}}); err == nil {
		t.Error("length mismatch should error")
	}
}
