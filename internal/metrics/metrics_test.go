package metrics_test

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/stride-ml/stride/internal/metrics"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestSink_OneLinePerFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	sink, err := metrics.New(path, "run-1", nil)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Flush(map[string]float64{"train/loss": 1.5, "train/step": 10}))
	require.NoError(t, sink.Flush(map[string]float64{"train/loss": 1.2, "train/step": 20}))

	records := readLines(t, path)
	require.Len(t, records, 2)
	require.Equal(t, 1.5, records[0]["train/loss"])
	require.Equal(t, 20.0, records[1]["train/step"])
	for _, rec := range records {
		require.Equal(t, "run-1", rec["run_id"])
	}
}

func TestSink_NonFiniteEncodedAsNull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	sink, err := metrics.New(path, "run-1", nil)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Flush(map[string]float64{
		"train/loss":     math.NaN(),
		"train/max_grad": math.Inf(1),
		"train/step":     5,
	}))

	rec := readLines(t, path)[0]
	require.Contains(t, rec, "train/loss")
	require.Nil(t, rec["train/loss"])
	require.Nil(t, rec["train/max_grad"])
	require.Equal(t, 5.0, rec["train/step"])
}

func TestSink_AppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")

	first, err := metrics.New(path, "run-1", nil)
	require.NoError(t, err)
	require.NoError(t, first.Flush(map[string]float64{"train/step": 1}))
	require.NoError(t, first.Close())

	// A resumed run reopens the same file and keeps appending.
	second, err := metrics.New(path, "run-2", nil)
	require.NoError(t, err)
	require.NoError(t, second.Flush(map[string]float64{"train/step": 2}))
	require.NoError(t, second.Close())

	records := readLines(t, path)
	require.Len(t, records, 2)
	require.Equal(t, "run-1", records[0]["run_id"])
	require.Equal(t, "run-2", records[1]["run_id"])
}

func TestSink_ObserveStepCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	reg := prometheus.NewRegistry()
	sink, err := metrics.New(path, "run-1", reg)
	require.NoError(t, err)
	defer sink.Close()

	sink.ObserveStep(1.5, true, 0.01)
	sink.ObserveStep(math.NaN(), false, 0.01)
	sink.ObserveStep(1.2, true, 0.02)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	require.Equal(t, 2.0, values["stride_committed_steps_total"])
	require.Equal(t, 1.0, values["stride_skipped_steps_total"])
	// The NaN loss must not disturb the gauge.
	require.Equal(t, 1.2, values["stride_train_loss"])
}
