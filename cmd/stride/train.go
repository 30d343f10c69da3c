package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/stride-ml/stride/internal/ckpt"
	"github.com/stride-ml/stride/internal/config"
	"github.com/stride-ml/stride/internal/dotpath"
	"github.com/stride-ml/stride/internal/logger"
	"github.com/stride-ml/stride/internal/metrics"
	"github.com/stride-ml/stride/internal/nn"
	"github.com/stride-ml/stride/internal/optim"
	"github.com/stride-ml/stride/internal/sched"
	"github.com/stride-ml/stride/internal/train"
)

func newTrainCmd() *cobra.Command {
	var (
		configPath string
		resume     bool
		quiet      bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the built-in demo objective under the training controller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.OutDir, 0750); err != nil {
				return fmt.Errorf("creating out_dir %s: %w", cfg.OutDir, err)
			}

			logFile, err := os.OpenFile(filepath.Join(cfg.OutDir, "train.log"),
				os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return fmt.Errorf("opening run log: %w", err)
			}
			defer logFile.Close()
			log := logger.New(logger.Options{Debug: debug, Quiet: quiet, Writer: logFile})

			runID := uuid.NewString()
			reg := prometheus.NewRegistry()
			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				go func() {
					if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
						log.Error("metrics listener stopped", "err", err)
					}
				}()
			}

			sink, err := metrics.New(filepath.Join(cfg.OutDir, "metrics.jsonl"), runID, reg)
			if err != nil {
				return err
			}
			defer sink.Close()

			store, err := ckpt.New(filepath.Join(cfg.OutDir, "checkpoints"), log)
			if err != nil {
				return err
			}
			defer store.Close()

			model := newRegression(cfg.Seed)

			groups, err := buildGroups(cfg, model)
			if err != nil {
				return err
			}
			opt, err := buildOptimizer(cfg, groups)
			if err != nil {
				return err
			}
			scheduler := buildScheduler(cfg, opt, model, log)

			var clipper train.GradClipper
			if cfg.GradClip != nil {
				clipper = normClipper{max: *cfg.GradClip}
			}

			trainer, err := train.New(cfg, train.Deps{
				RunID:     runID,
				Model:     model,
				Objective: model,
				Evaluator: model,
				Clipper:   clipper,
				Optimizer: opt,
				Scheduler: scheduler,
				Store:     store,
				Sink:      sink,
				Logger:    log,
			})
			if err != nil {
				return err
			}

			results, err := trainer.Run(cmd.Context(), resume)
			if err != nil {
				return err
			}
			log.Info("run complete", "run_id", runID, "eval/mse", results.Metrics["eval/mse"])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the run configuration YAML")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the most recent checkpoint if one exists")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress console logging")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// buildGroups partitions the model's parameters per cfg.ParamGroups, or
// wraps everything in one group when no partition is configured. Every
// trainable parameter must land in exactly one group.
func buildGroups(cfg config.Run, model nn.Module) ([]*optim.Group, error) {
	if len(cfg.ParamGroups) == 0 {
		return optim.SingleGroup(model, cfg.Optimizer.LR), nil
	}

	byName := make(map[string]*nn.Parameter)
	for _, p := range model.Parameters() {
		byName[p.Name()] = p
	}

	assigned := make(map[string]string)
	groups := make([]*optim.Group, 0, len(cfg.ParamGroups))
	for _, gc := range cfg.ParamGroups {
		g := &optim.Group{Name: gc.Name, LR: gc.LR, Options: gc.Options}
		for _, name := range gc.Params {
			p, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("param group %q references unknown parameter %q", gc.Name, name)
			}
			if prev, taken := assigned[name]; taken {
				return nil, fmt.Errorf("parameter %q is in both groups %q and %q", name, prev, gc.Name)
			}
			assigned[name] = gc.Name
			g.Params = append(g.Params, p)
		}
		groups = append(groups, g)
	}
	for name := range byName {
		if _, ok := assigned[name]; !ok {
			return nil, fmt.Errorf("param_groups do not cover parameter %q", name)
		}
	}
	return groups, nil
}

func buildOptimizer(cfg config.Run, groups []*optim.Group) (optim.Optimizer, error) {
	switch cfg.Optimizer.Algo {
	case "sgd":
		return optim.NewSGD(groups, optim.SGDConfig{Momentum: cfg.Optimizer.Momentum})
	case "adam":
		adamCfg := optim.AdamConfig{Eps: cfg.Optimizer.Eps}
		if len(cfg.Optimizer.Betas) == 2 {
			adamCfg.Betas = [2]float64{cfg.Optimizer.Betas[0], cfg.Optimizer.Betas[1]}
		}
		return optim.NewAdam(groups, adamCfg)
	default:
		// Unreachable: config.Validate rejects unknown algos.
		return nil, fmt.Errorf("unknown optimizer algo %q", cfg.Optimizer.Algo)
	}
}

// buildScheduler assembles the combined scheduler: the LR schedule first,
// then the milestone schedules in configuration order. Milestone schedules
// address the optimizer groups under "groups" and the demo objective under
// "objective" (e.g. "groups.0.lr", "objective.noise_std").
func buildScheduler(cfg config.Run, opt optim.Optimizer, model *regression, log *slog.Logger) *sched.Combined {
	var children []sched.Scheduler
	if cfg.LRSchedule != nil {
		children = append(children, sched.NewMultiStepLR(opt, cfg.LRSchedule.Milestones, cfg.LRSchedule.Gamma))
	}
	root := dotpath.Dict{
		"groups":    dotpath.Slice(opt.Groups()),
		"objective": model,
	}
	for _, ps := range cfg.ParamSchedules {
		children = append(children, sched.NewMultiStep(root, ps.Milestones, ps.Gammas, 0, log))
	}
	return sched.NewCombined(children...)
}
