package tensor_test

import (
	"math"
	"testing"

	"github.com/stride-ml/stride/internal/tensor"
)

func TestVector_CloneIsIndependent(t *testing.T) {
	v := tensor.FromSlice([]float64{1, 2, 3})
	c := v.Clone()
	c.Data()[0] = 99

	if v.Data()[0] != 1 {
		t.Errorf("clone mutated the original: got %f, want 1", v.Data()[0])
	}
}

func TestVector_NewSharesStorage(t *testing.T) {
	backing := []float64{1, 2}
	v := tensor.New(backing)
	v.Data()[1] = 7

	if backing[1] != 7 {
		t.Errorf("New should share storage: got %f, want 7", backing[1])
	}
}

func TestVector_CopyFrom(t *testing.T) {
	dst := tensor.Zeros(3)
	src := tensor.FromSlice([]float64{4, 5, 6})

	if err := dst.CopyFrom(src); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if !dst.Equal(src) {
		t.Errorf("CopyFrom: got %v, want %v", dst.Data(), src.Data())
	}

	if err := dst.CopyFrom(tensor.Zeros(2)); err == nil {
		t.Error("CopyFrom with mismatched length should error")
	}
}

func TestVector_Lerp(t *testing.T) {
	shadow := tensor.FromSlice([]float64{1.0})
	target := tensor.FromSlice([]float64{2.0})

	if err := shadow.Lerp(target, 0.9); err != nil {
		t.Fatalf("Lerp: %v", err)
	}
	// 0.9*1.0 + 0.1*2.0 = 1.1
	if got := shadow.Data()[0]; math.Abs(got-1.1) > 1e-12 {
		t.Errorf("Lerp: got %f, want 1.1", got)
	}
}

func TestVector_AllFinite(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		want bool
	}{
		{"finite", []float64{1, -2, 0}, true},
		{"nan", []float64{1, math.NaN()}, false},
		{"posinf", []float64{math.Inf(1)}, false},
		{"neginf", []float64{math.Inf(-1)}, false},
		{"empty", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tensor.FromSlice(tt.data).AllFinite(); got != tt.want {
				t.Errorf("AllFinite(%v) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}

func TestVector_AbsMax(t *testing.T) {
	v := tensor.FromSlice([]float64{1, -5, 3})
	if got := v.AbsMax(); got != 5 {
		t.Errorf("AbsMax: got %f, want 5", got)
	}

	if got := tensor.Zeros(0).AbsMax(); got != 0 {
		t.Errorf("AbsMax of empty: got %f, want 0", got)
	}

	withNaN := tensor.FromSlice([]float64{1, math.NaN()})
	if got := withNaN.AbsMax(); !math.IsNaN(got) {
		t.Errorf("AbsMax with NaN element should be NaN, got %f", got)
	}
}
