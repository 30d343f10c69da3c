package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-ml/stride/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
out_dir: /tmp/run
seed: 42
train_steps: 100
eval_interval: 50
log_interval: 10
ckpt_interval: 25
eval_init: true
use_ema: true
ema_steps: 5
ema_decay: 0.99
max_loss: 100.0
max_grad: 50.0
scale_loss: 2.0
grad_clip: 1.0
optimizer:
  algo: sgd
  lr: 0.1
  momentum: 0.9
param_groups:
  - name: weights
    params: [weight]
    lr: 0.1
  - name: biases
    params: [bias]
    lr: 0.01
    options:
      momentum: 0.0
lr_schedule:
  milestones: [50, 75]
  gamma: 0.1
param_schedules:
  - milestones: [25, 25]
    gammas:
      objective.noise_std: 0.5
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/run", cfg.OutDir)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 100, cfg.TrainSteps)
	assert.Equal(t, 50, cfg.EvalInterval)
	assert.True(t, cfg.EvalInit)
	assert.Equal(t, 5, cfg.EMASteps)
	require.NotNil(t, cfg.MaxLoss)
	assert.Equal(t, 100.0, *cfg.MaxLoss)
	require.NotNil(t, cfg.GradClip)
	assert.Equal(t, 1.0, *cfg.GradClip)
	assert.Equal(t, "sgd", cfg.Optimizer.Algo)
	assert.Equal(t, 0.9, cfg.Optimizer.Momentum)
	require.Len(t, cfg.ParamGroups, 2)
	assert.Equal(t, 0.0, cfg.ParamGroups[1].Options["momentum"])
	require.NotNil(t, cfg.LRSchedule)
	assert.Equal(t, []int{50, 75}, cfg.LRSchedule.Milestones)
	require.Len(t, cfg.ParamSchedules, 1)
	assert.Equal(t, []int{25, 25}, cfg.ParamSchedules[0].Milestones)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "train_steps: 200\n"))
	require.NoError(t, err)

	// Unset intervals mean "only at the end".
	assert.Equal(t, 200, cfg.EvalInterval)
	assert.Equal(t, 200, cfg.LogInterval)
	assert.Equal(t, 200, cfg.CkptInterval)
	assert.Equal(t, ".", cfg.OutDir)
	assert.Equal(t, 10, cfg.EMASteps)
	assert.Equal(t, 0.999, cfg.EMADecay)
	assert.Equal(t, "adam", cfg.Optimizer.Algo)
	assert.Equal(t, 0.001, cfg.Optimizer.LR)
	assert.Nil(t, cfg.MaxLoss)
	assert.Nil(t, cfg.MaxGrad)
}

func TestLoad_SGDDefaultLR(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "train_steps: 1\noptimizer:\n  algo: sgd\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.01, cfg.Optimizer.LR)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	_, err := config.Load(writeConfig(t, "train_steps: 1\ntrain_stepz: 2\n"))
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero train_steps", "train_steps: 0\n"},
		{"negative train_steps", "train_steps: -5\n"},
		{"unknown algo", "train_steps: 1\noptimizer:\n  algo: rmsprop\n"},
		{"one beta", "train_steps: 1\noptimizer:\n  betas: [0.9]\n"},
		{"non-positive max_loss", "train_steps: 1\nmax_loss: 0\n"},
		{"non-positive max_grad", "train_steps: 1\nmax_grad: -1\n"},
		{"non-positive grad_clip", "train_steps: 1\ngrad_clip: 0\n"},
		{"duplicate group names", `
train_steps: 1
param_groups:
  - {name: g, params: [a], lr: 0.1}
  - {name: g, params: [b], lr: 0.1}
`},
		{"group without lr", `
train_steps: 1
param_groups:
  - {name: g, params: [a]}
`},
		{"group without params", `
train_steps: 1
param_groups:
  - {name: g, params: [], lr: 0.1}
`},
		{"zero lr_schedule gamma", `
train_steps: 1
lr_schedule:
  milestones: [1]
  gamma: 0
`},
		{"empty schedule gammas", `
train_steps: 1
param_schedules:
  - milestones: [1]
    gammas: {}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
		})
	}
}
