// Package train implements the training controller: the single-threaded
// loop that sequences gradient steps, gates each one on numerical health,
// advances schedules, and periodically evaluates and checkpoints so a run
// can resume exactly where it stopped.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/stride-ml/stride/internal/ckpt"
	"github.com/stride-ml/stride/internal/config"
	"github.com/stride-ml/stride/internal/metrics"
	"github.com/stride-ml/stride/internal/nn"
	"github.com/stride-ml/stride/internal/optim"
	"github.com/stride-ml/stride/internal/sched"
	"github.com/stride-ml/stride/internal/tensor"
)

// Objective is the external loss collaborator. ComputeLoss runs one
// forward/backward pass, leaves gradients on the trainable parameters, and
// returns the scalar loss with any training metrics it wants reported. It
// must not mutate controller state.
type Objective interface {
	ComputeLoss(ctx context.Context) (float64, map[string]float64, error)
}

// Results bundles what an evaluation produced.
type Results struct {
	Metrics map[string]float64
	Samples *tensor.Vector
}

// Evaluator is the external evaluation collaborator, invoked at
// evaluation-interval boundaries and once at training end.
type Evaluator interface {
	Evaluate(ctx context.Context) (*Results, error)
}

// GradClipper optionally rescales gradients in place before a committed
// optimizer step, returning the pre-clip norm it observed.
type GradClipper interface {
	Clip(params []*nn.Parameter) float64
}

// Progress is the resumable loop state. NSteps strictly increases by one
// every iteration regardless of the gate's outcome; NStepsSkipped increases
// only on a skipped iteration, so NStepsSkipped ≤ NSteps always holds.
type Progress struct {
	NSteps        int
	NStepsSkipped int
	Elapsed       time.Duration
}

// Deps are the collaborators a Trainer is wired with.
type Deps struct {
	// RunID identifies the run in logs, metrics, and checkpoints. A fresh
	// UUID is generated when empty.
	RunID     string
	Model     nn.Module
	Objective Objective
	Evaluator Evaluator
	Clipper   GradClipper // optional
	Optimizer optim.Optimizer
	Scheduler *sched.Combined // optional; nil means no schedules
	Store     *ckpt.Store
	Sink      *metrics.Sink
	Logger    *slog.Logger
}

// Trainer drives the training loop.
type Trainer struct {
	cfg       config.Run
	runID     string
	params    []*nn.Parameter
	objective Objective
	evaluator Evaluator
	clipper   GradClipper
	opt       optim.Optimizer
	scheduler *sched.Combined
	gate      Gate
	ema       *EMA
	store     *ckpt.Store
	sink      *metrics.Sink
	logger    *slog.Logger
	progress  Progress
}

// New wires a Trainer. Missing required collaborators are a construction
// error.
func New(cfg config.Run, deps Deps) (*Trainer, error) {
	switch {
	case deps.Model == nil:
		return nil, errors.New("train: model is required")
	case deps.Objective == nil:
		return nil, errors.New("train: objective is required")
	case deps.Evaluator == nil:
		return nil, errors.New("train: evaluator is required")
	case deps.Optimizer == nil:
		return nil, errors.New("train: optimizer is required")
	case deps.Store == nil:
		return nil, errors.New("train: checkpoint store is required")
	case deps.Sink == nil:
		return nil, errors.New("train: metrics sink is required")
	}
	if deps.Scheduler == nil {
		deps.Scheduler = sched.NewCombined()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	// A config built in code may bypass config.Load; unset intervals mean
	// "only at the end" here just as they do there.
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = cfg.TrainSteps
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = cfg.TrainSteps
	}
	if cfg.CkptInterval <= 0 {
		cfg.CkptInterval = cfg.TrainSteps
	}
	if cfg.EMASteps <= 0 {
		cfg.EMASteps = 10
	}

	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}

	t := &Trainer{
		cfg:       cfg,
		runID:     deps.RunID,
		params:    deps.Model.Parameters(),
		objective: deps.Objective,
		evaluator: deps.Evaluator,
		clipper:   deps.Clipper,
		opt:       deps.Optimizer,
		scheduler: deps.Scheduler,
		gate:      Gate{MaxLoss: cfg.MaxLoss, MaxGrad: cfg.MaxGrad},
		store:     deps.Store,
		sink:      deps.Sink,
		logger:    deps.Logger,
	}
	if cfg.UseEMA {
		t.ema = NewEMA(t.params, cfg.EMADecay)
	}
	return t, nil
}

// RunID returns this run's identifier.
func (t *Trainer) RunID() string {
	return t.runID
}

// Progress returns the current loop counters.
func (t *Trainer) Progress() Progress {
	return t.progress
}

// EMA returns the EMA shadow, or nil when use_ema is off.
func (t *Trainer) EMA() *EMA {
	return t.ema
}

// Run executes the training loop and returns the final evaluation results.
//
// With resume set, the most recent checkpoint (if any) is restored before
// the loop starts; without one the run starts from zero. Failures in the
// objective or evaluation collaborators are not retried; they terminate the
// run. The only defense against bad numerics is the health gate, which
// skips, never retries.
func (t *Trainer) Run(ctx context.Context, resume bool) (*Results, error) {
	if resume {
		if err := t.restore(); err != nil {
			return nil, err
		}
	}

	if t.progress.NSteps == 0 && t.cfg.EvalInit {
		if _, err := t.evaluate(ctx); err != nil {
			return nil, err
		}
	}

	t.logger.Info("starting training", "step", t.progress.NSteps, "train_steps", t.cfg.TrainSteps, "run_id", t.runID)
	for step := t.progress.NSteps; step < t.cfg.TrainSteps; step++ {
		m, err := t.step(ctx)
		if err != nil {
			return nil, err
		}

		m["train/time"] = t.progress.Elapsed.Seconds()
		m["train/step"] = float64(t.progress.NSteps)
		for k, v := range t.scheduler.Values() {
			m["params/"+k] = v
		}

		// The final step flushes unconditionally but defers its
		// evaluation and checkpoint to the terminal sequence below.
		last := t.progress.NSteps == t.cfg.TrainSteps

		if t.progress.NSteps%t.cfg.LogInterval == 0 || last {
			if err := t.sink.Flush(m); err != nil {
				return nil, err
			}
			t.logger.Info("train metrics",
				"step", t.progress.NSteps,
				"loss", m["train/loss"],
				"skipped_steps", t.progress.NStepsSkipped,
			)
		}

		if !last {
			if t.progress.NSteps%t.cfg.EvalInterval == 0 {
				if _, err := t.evaluate(ctx); err != nil {
					return nil, err
				}
			}
			if t.progress.NSteps%t.cfg.CkptInterval == 0 {
				if err := t.checkpoint(ckpt.StepTag(t.progress.NSteps)); err != nil {
					return nil, err
				}
			}
		}
	}

	t.logger.Info("finished training", "step", t.progress.NSteps, "skipped_steps", t.progress.NStepsSkipped)
	if err := t.checkpoint(ckpt.FinalTag); err != nil {
		return nil, err
	}
	return t.evaluate(ctx)
}

// step executes one training iteration: loss, gate, and (on commit)
// optimizer update, schedule advance, and EMA stride.
func (t *Trainer) step(ctx context.Context) (map[string]float64, error) {
	start := time.Now()
	t.opt.ZeroGrad()

	loss, m, err := t.objective.ComputeLoss(ctx)
	if err != nil {
		return nil, fmt.Errorf("train: objective at step %d: %w", t.progress.NSteps, err)
	}
	if m == nil {
		m = make(map[string]float64)
	}

	if t.cfg.ScaleLoss != nil {
		// The gate and the update both see the rescaled quantities, as if
		// the objective itself had been scaled.
		loss *= *t.cfg.ScaleLoss
		for _, p := range t.params {
			if grad := p.Grad(); grad != nil {
				grad.Scale(*t.cfg.ScaleLoss)
			}
		}
	}

	verdict := t.gate.Check(loss, t.params)
	if t.gate.MaxGrad != nil {
		m["train/max_grad"] = verdict.GradAbsMax
	}

	if verdict.Commit {
		if t.clipper != nil {
			m["train/grad_clip_norm"] = t.clipper.Clip(t.params)
		}
		t.opt.Step()
		t.scheduler.Step()
		committed := t.progress.NSteps - t.progress.NStepsSkipped + 1
		if t.ema != nil && committed%t.cfg.EMASteps == 0 {
			t.ema.Update()
		}
	} else {
		t.progress.NStepsSkipped++
		t.logger.Debug("skipped step",
			"step", t.progress.NSteps, "loss_ok", verdict.LossOK, "grad_ok", verdict.GradOK)
	}

	noGrad := 0
	for _, p := range t.params {
		if p.Grad() == nil {
			noGrad++
		}
	}

	elapsed := time.Since(start)
	m["train/loss"] = loss
	m["train/time_per_step"] = elapsed.Seconds()
	m["train/skipped_steps"] = float64(t.progress.NStepsSkipped)
	m["train/no_grad"] = float64(noGrad)

	t.sink.ObserveStep(loss, verdict.Commit, elapsed.Seconds())
	t.progress.Elapsed += elapsed
	t.progress.NSteps++
	return m, nil
}

// evaluate invokes the evaluation collaborator and logs its metrics.
// Evaluation results go to the structured log, not the training-metrics
// sink; the sink holds one record per training flush.
func (t *Trainer) evaluate(ctx context.Context) (*Results, error) {
	t.logger.Info("evaluating", "step", t.progress.NSteps,
		"elapsed_min", math.Floor(t.progress.Elapsed.Minutes()))
	res, err := t.evaluator.Evaluate(ctx)
	if err != nil {
		return nil, fmt.Errorf("train: evaluation at step %d: %w", t.progress.NSteps, err)
	}
	if res != nil && len(res.Metrics) > 0 {
		attrs := make([]any, 0, 2*len(res.Metrics)+2)
		attrs = append(attrs, "step", t.progress.NSteps)
		for k, v := range res.Metrics {
			attrs = append(attrs, k, v)
		}
		t.logger.Info("eval metrics", attrs...)
	}
	return res, nil
}

// checkpoint writes a snapshot tagged with tag.
func (t *Trainer) checkpoint(tag string) error {
	schedState, err := t.scheduler.StateDict()
	if err != nil {
		return err
	}

	params := make(map[string][]float64, len(t.params))
	for _, p := range t.params {
		params[p.Name()] = p.Value().Clone().Data()
	}

	snap := &ckpt.Snapshot{
		RunID:          t.runID,
		NSteps:         t.progress.NSteps,
		NStepsSkipped:  t.progress.NStepsSkipped,
		ElapsedSeconds: t.progress.Elapsed.Seconds(),
		Params:         params,
		Optimizer:      t.opt.StateDict(),
		Schedule:       schedState,
	}
	if t.ema != nil {
		snap.EMAParams = t.ema.StateDict()
	}

	_, err = t.store.Save(snap, tag)
	return err
}

// restore loads the most recent checkpoint, if one exists, into the
// parameters, optimizer, schedules, and progress counters. Restored
// milestone schedules are recomputed from base by the combined scheduler.
func (t *Trainer) restore() error {
	path, err := t.store.Latest()
	if errors.Is(err, ckpt.ErrNoCheckpoint) {
		t.logger.Info("no checkpoint found, starting from zero")
		return nil
	}
	if err != nil {
		return err
	}

	snap, err := t.store.Load(path)
	if err != nil {
		return err
	}

	for _, p := range t.params {
		buf, ok := snap.Params[p.Name()]
		if !ok {
			return fmt.Errorf("train: checkpoint %s is missing parameter %q", path, p.Name())
		}
		if err := p.Value().CopyFrom(tensor.New(buf)); err != nil {
			return fmt.Errorf("train: checkpoint %s: parameter %q: %w", path, p.Name(), err)
		}
	}
	if t.ema != nil {
		if snap.EMAParams != nil {
			if err := t.ema.LoadStateDict(snap.EMAParams); err != nil {
				return fmt.Errorf("train: checkpoint %s: %w", path, err)
			}
		} else {
			// The snapshot predates EMA (the prior leg ran without it); the
			// shadow must start from the restored values, not the ones the
			// trainer was constructed with.
			t.ema = NewEMA(t.params, t.cfg.EMADecay)
		}
	}
	if err := t.opt.LoadStateDict(snap.Optimizer); err != nil {
		return fmt.Errorf("train: checkpoint %s: %w", path, err)
	}
	if err := t.scheduler.LoadStateDict(snap.Schedule); err != nil {
		return fmt.Errorf("train: checkpoint %s: %w", path, err)
	}

	t.progress = Progress{
		NSteps:        snap.NSteps,
		NStepsSkipped: snap.NStepsSkipped,
		Elapsed:       time.Duration(snap.ElapsedSeconds * float64(time.Second)),
	}
	t.logger.Info("resumed from checkpoint", "path", path, "step", snap.NSteps)
	return nil
}
