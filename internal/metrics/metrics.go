// Package metrics owns the durable metrics sink and the Prometheus
// instrumentation for a training run.
//
// The durable sink is an append-only JSON Lines file: one object per flush,
// containing every metric known at that point. See https://jsonlines.org/.
package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink writes metric records to a JSONL file and mirrors the per-step
// signals into Prometheus collectors.
type Sink struct {
	file  *os.File
	runID string

	committedSteps prometheus.Counter
	skippedSteps   prometheus.Counter
	loss           prometheus.Gauge
	stepSeconds    prometheus.Histogram
}

// New opens (appending) the JSONL file at path and registers the run's
// collectors with reg. A nil reg keeps the collectors unregistered, which
// is convenient in tests.
func New(path, runID string, reg prometheus.Registerer) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("metrics: opening %s: %w", path, err)
	}

	s := &Sink{
		file:  f,
		runID: runID,
		committedSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stride_committed_steps_total",
			Help: "Training steps whose optimizer update was applied.",
		}),
		skippedSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stride_skipped_steps_total",
			Help: "Training steps withheld by the health gate.",
		}),
		loss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stride_train_loss",
			Help: "Most recent training loss.",
		}),
		stepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stride_step_duration_seconds",
			Help:    "Wall-clock time per training iteration.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(s.committedSteps, s.skippedSteps, s.loss, s.stepSeconds)
	}
	return s, nil
}

// Flush appends one record to the JSONL file. Non-finite values are encoded
// as null: a skipped step's NaN loss is expected data, not an encoding
// failure.
func (s *Sink) Flush(record map[string]float64) error {
	out := make(map[string]any, len(record)+1)
	for k, v := range record {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[k] = nil
			continue
		}
		out[k] = v
	}
	out["run_id"] = s.runID

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("metrics: encoding record: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("metrics: appending record: %w", err)
	}
	return nil
}

// ObserveStep updates the Prometheus collectors for one iteration.
func (s *Sink) ObserveStep(loss float64, committed bool, seconds float64) {
	if committed {
		s.committedSteps.Inc()
	} else {
		s.skippedSteps.Inc()
	}
	if !math.IsNaN(loss) && !math.IsInf(loss, 0) {
		s.loss.Set(loss)
	}
	s.stepSeconds.Observe(seconds)
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	return s.file.Close()
}
