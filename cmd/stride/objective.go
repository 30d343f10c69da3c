package main

import (
	"context"
	"math"
	"math/rand"

	"github.com/stride-ml/stride/internal/nn"
	"github.com/stride-ml/stride/internal/tensor"
	"github.com/stride-ml/stride/internal/train"
)

// Demo problem constants: fit y = trueWeight*x + trueBias observed through
// Gaussian noise.
const (
	trueWeight = 3.0
	trueBias   = -1.0
	batchSize  = 32
)

// regression is the built-in demo: a one-dimensional linear model, its
// stochastic MSE objective, and its noiseless evaluator, all in one type.
// It stands in for the external model/objective/evaluation collaborators so
// the controller is runnable end to end from the CLI.
type regression struct {
	weight *nn.Parameter
	bias   *nn.Parameter

	rng      *rand.Rand
	noiseStd float64
}

func newRegression(seed int64) *regression {
	return &regression{
		weight:   nn.NewParameter("weight", tensor.Zeros(1)),
		bias:     nn.NewParameter("bias", tensor.Zeros(1)),
		rng:      rand.New(rand.NewSource(seed)),
		noiseStd: 0.5,
	}
}

// Parameters implements nn.Module.
func (r *regression) Parameters() []*nn.Parameter {
	return []*nn.Parameter{r.weight, r.bias}
}

// Field exposes schedulable hyperparameters to dotted-path lookup. The
// observation noise can be annealed with a milestone schedule on
// "objective.noise_std".
func (r *regression) Field(name string) (any, bool) {
	if name == "noise_std" {
		return r.noiseStd, true
	}
	return nil, false
}

// SetField implements the write side of dotpath.Obj.
func (r *regression) SetField(name string, v float64) bool {
	if name == "noise_std" {
		r.noiseStd = v
		return true
	}
	return false
}

// ComputeLoss draws a fresh noisy batch, computes the MSE loss, and leaves
// analytic gradients on the parameters.
func (r *regression) ComputeLoss(_ context.Context) (float64, map[string]float64, error) {
	w := r.weight.Value().Data()[0]
	b := r.bias.Value().Data()[0]

	var loss, gw, gb float64
	for i := 0; i < batchSize; i++ {
		x := r.rng.Float64()*4 - 2
		y := trueWeight*x + trueBias + r.rng.NormFloat64()*r.noiseStd
		e := w*x + b - y
		loss += e * e
		gw += 2 * e * x
		gb += 2 * e
	}
	loss /= batchSize
	gw /= batchSize
	gb /= batchSize

	r.weight.SetGrad(tensor.FromSlice([]float64{gw}))
	r.bias.SetGrad(tensor.FromSlice([]float64{gb}))
	return loss, map[string]float64{"train/noise_std": r.noiseStd}, nil
}

// Evaluate measures the noiseless MSE of the live parameters over a fixed
// grid.
func (r *regression) Evaluate(_ context.Context) (*train.Results, error) {
	w := r.weight.Value().Data()[0]
	b := r.bias.Value().Data()[0]

	const gridPoints = 101
	var mse float64
	for i := 0; i < gridPoints; i++ {
		x := -2 + 4*float64(i)/float64(gridPoints-1)
		e := w*x + b - (trueWeight*x + trueBias)
		mse += e * e
	}
	mse /= gridPoints

	return &train.Results{
		Metrics: map[string]float64{
			"eval/mse":    mse,
			"eval/weight": w,
			"eval/bias":   b,
		},
	}, nil
}

// normClipper rescales gradients so their global L2 norm does not exceed
// max, returning the pre-clip norm.
type normClipper struct {
	max float64
}

func (c normClipper) Clip(params []*nn.Parameter) float64 {
	var sum float64
	for _, p := range params {
		if grad := p.Grad(); grad != nil {
			for _, g := range grad.Data() {
				sum += g * g
			}
		}
	}
	norm := math.Sqrt(sum)
	if norm > c.max {
		scale := c.max / norm
		for _, p := range params {
			if grad := p.Grad(); grad != nil {
				grad.Scale(scale)
			}
		}
	}
	return norm
}
