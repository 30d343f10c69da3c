// Package tensor provides the flat numeric vector type used throughout the
// training-control core.
//
// The control loop never performs shaped tensor math; it only needs to hold
// parameter values and gradients, scan them for numerical health, and copy
// them into checkpoints and EMA shadows. A Vector is therefore a flat
// float64 buffer with exactly those capabilities.
package tensor

import (
	"fmt"
	"math"
)

// Vector is a flat, mutable float64 buffer.
//
// Vectors are reference types: a Vector created with New shares storage with
// the caller's slice. Use Clone to get an independent copy.
type Vector struct {
	data []float64
}

// New returns a Vector backed by the given slice. The slice is not copied;
// mutations through the Vector are visible to the caller and vice versa.
func New(data []float64) *Vector {
	return &Vector{data: data}
}

// FromSlice returns a Vector holding a copy of the given values.
func FromSlice(values []float64) *Vector {
	data := make([]float64, len(values))
	copy(data, values)
	return &Vector{data: data}
}

// Zeros returns a zero-initialized Vector of length n.
func Zeros(n int) *Vector {
	return &Vector{data: make([]float64, n)}
}

// Len returns the number of elements.
func (v *Vector) Len() int {
	return len(v.data)
}

// Data returns the underlying buffer for in-place element access.
func (v *Vector) Data() []float64 {
	return v.data
}

// Clone returns an independent copy of v.
func (v *Vector) Clone() *Vector {
	return FromSlice(v.data)
}

// CopyFrom overwrites v's elements with src's. Lengths must match.
func (v *Vector) CopyFrom(src *Vector) error {
	if len(src.data) != len(v.data) {
		return fmt.Errorf("tensor: length mismatch: dst %d, src %d", len(v.data), len(src.data))
	}
	copy(v.data, src.data)
	return nil
}

// Scale multiplies every element by alpha in place.
func (v *Vector) Scale(alpha float64) {
	for i := range v.data {
		v.data[i] *= alpha
	}
}

// Lerp moves every element of v toward the corresponding element of target:
//
//	v[i] = decay*v[i] + (1-decay)*target[i]
//
// This is the EMA shadow update. Lengths must match.
func (v *Vector) Lerp(target *Vector, decay float64) error {
	if len(target.data) != len(v.data) {
		return fmt.Errorf("tensor: length mismatch: dst %d, src %d", len(v.data), len(target.data))
	}
	for i := range v.data {
		v.data[i] = decay*v.data[i] + (1-decay)*target.data[i]
	}
	return nil
}

// AllFinite reports whether every element is finite (no NaN or Inf).
func (v *Vector) AllFinite() bool {
	for _, x := range v.data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// AbsMax returns the infinity norm: the maximum absolute element value.
// Returns 0 for an empty Vector. A NaN element makes the result NaN so that
// threshold comparisons fail closed.
func (v *Vector) AbsMax() float64 {
	m := 0.0
	for _, x := range v.data {
		if math.IsNaN(x) {
			return math.NaN()
		}
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

// Equal reports whether v and other have identical lengths and elements.
// NaN elements compare unequal, matching float64 semantics.
func (v *Vector) Equal(other *Vector) bool {
	if len(v.data) != len(other.data) {
		return false
	}
	for i := range v.data {
		if v.data[i] != other.data[i] {
			return false
		}
	}
	return true
}
