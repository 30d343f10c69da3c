// Package config defines the immutable run configuration.
//
// A Run is decoded once from YAML at startup, normalized, validated
// eagerly, and then threaded by value into each component that needs it.
// There is no ambient configuration lookup anywhere else in the tree.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Optimizer selects and parameterizes the optimizer.
type Optimizer struct {
	// Algo is "sgd" or "adam".
	Algo     string    `yaml:"algo"`
	LR       float64   `yaml:"lr"`
	Momentum float64   `yaml:"momentum"` // sgd only
	Betas    []float64 `yaml:"betas"`    // adam only, two values
	Eps      float64   `yaml:"eps"`      // adam only
}

// Group explicitly partitions trainable parameters into an optimizer group
// with per-group options. Params lists parameter names.
type Group struct {
	Name    string             `yaml:"name"`
	Params  []string           `yaml:"params"`
	LR      float64            `yaml:"lr"`
	Options map[string]float64 `yaml:"options"`
}

// LRSchedule configures the per-group learning-rate schedule.
type LRSchedule struct {
	Milestones []int   `yaml:"milestones"`
	Gamma      float64 `yaml:"gamma"`
}

// ParamSchedule configures one milestone schedule over dotted-path-addressed
// hyperparameters.
type ParamSchedule struct {
	Milestones []int              `yaml:"milestones"`
	Gammas     map[string]float64 `yaml:"gammas"`
}

// Run is the full run configuration.
type Run struct {
	OutDir string `yaml:"out_dir"`
	Seed   int64  `yaml:"seed"`

	TrainSteps   int  `yaml:"train_steps"`
	EvalInterval int  `yaml:"eval_interval"` // defaults to TrainSteps
	LogInterval  int  `yaml:"log_interval"`  // defaults to TrainSteps
	CkptInterval int  `yaml:"ckpt_interval"` // defaults to TrainSteps
	EvalInit     bool `yaml:"eval_init"`

	UseEMA   bool    `yaml:"use_ema"`
	EMASteps int     `yaml:"ema_steps"` // defaults to 10
	EMADecay float64 `yaml:"ema_decay"` // defaults to 0.999

	MaxLoss   *float64 `yaml:"max_loss"`
	MaxGrad   *float64 `yaml:"max_grad"`
	ScaleLoss *float64 `yaml:"scale_loss"`
	GradClip  *float64 `yaml:"grad_clip"` // max L2 norm for the clip hook

	MetricsAddr string `yaml:"metrics_addr"`

	Optimizer      Optimizer       `yaml:"optimizer"`
	ParamGroups    []Group         `yaml:"param_groups"`
	LRSchedule     *LRSchedule     `yaml:"lr_schedule"`
	ParamSchedules []ParamSchedule `yaml:"param_schedules"`
}

// Load reads, decodes, normalizes, and validates a run configuration.
// Unknown YAML keys are an error: a misspelled option should fail the run
// at startup, not silently fall back to a default.
func Load(path string) (Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var run Run
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&run); err != nil {
		return Run{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	run.normalize()
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return run, nil
}

// normalize applies defaults. Unset intervals default to TrainSteps, i.e.
// "only at the end".
func (r *Run) normalize() {
	if r.OutDir == "" {
		r.OutDir = "."
	}
	if r.EvalInterval <= 0 {
		r.EvalInterval = r.TrainSteps
	}
	if r.LogInterval <= 0 {
		r.LogInterval = r.TrainSteps
	}
	if r.CkptInterval <= 0 {
		r.CkptInterval = r.TrainSteps
	}
	if r.EMASteps <= 0 {
		r.EMASteps = 10
	}
	if r.EMADecay == 0 {
		r.EMADecay = 0.999
	}
	if r.Optimizer.Algo == "" {
		r.Optimizer.Algo = "adam"
	}
	if r.Optimizer.LR == 0 {
		switch r.Optimizer.Algo {
		case "sgd":
			r.Optimizer.LR = 0.01
		default:
			r.Optimizer.LR = 0.001
		}
	}
}

// Validate rejects inconsistent configurations.
func (r Run) Validate() error {
	if r.TrainSteps <= 0 {
		return fmt.Errorf("train_steps must be positive, got %d", r.TrainSteps)
	}
	switch r.Optimizer.Algo {
	case "sgd", "adam":
	default:
		return fmt.Errorf("unknown optimizer algo %q", r.Optimizer.Algo)
	}
	if len(r.Optimizer.Betas) != 0 && len(r.Optimizer.Betas) != 2 {
		return fmt.Errorf("optimizer betas must have exactly two values, got %d", len(r.Optimizer.Betas))
	}
	if r.MaxLoss != nil && *r.MaxLoss <= 0 {
		return fmt.Errorf("max_loss must be positive, got %g", *r.MaxLoss)
	}
	if r.MaxGrad != nil && *r.MaxGrad <= 0 {
		return fmt.Errorf("max_grad must be positive, got %g", *r.MaxGrad)
	}
	if r.GradClip != nil && *r.GradClip <= 0 {
		return fmt.Errorf("grad_clip must be positive, got %g", *r.GradClip)
	}

	names := lo.Map(r.ParamGroups, func(g Group, _ int) string { return g.Name })
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return fmt.Errorf("duplicate param_groups names: %v", dup)
	}
	for _, g := range r.ParamGroups {
		if g.LR <= 0 {
			return fmt.Errorf("param group %q needs a positive lr, got %g", g.Name, g.LR)
		}
		if len(g.Params) == 0 {
			return fmt.Errorf("param group %q lists no parameters", g.Name)
		}
	}

	if r.LRSchedule != nil && r.LRSchedule.Gamma == 0 {
		return fmt.Errorf("lr_schedule gamma must be non-zero")
	}
	for i, ps := range r.ParamSchedules {
		if len(ps.Gammas) == 0 {
			return fmt.Errorf("param_schedules[%d] has no gammas", i)
		}
	}
	return nil
}
