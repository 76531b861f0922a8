package sweep

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/psantana5/rocm-bench/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.ERROR, false)
}

// benchOutput synthesises a complete v1 summary for one trial
func benchOutput(e2eLat, thr, ttft, itl float64) string {
	return fmt.Sprintf(`serving benchmark running
===== Benchmark Summary =====
Prefill. latency: 0.5 sec, throughput: 2000.0 token/s
Decode. median latency: 0.02 sec, median throughput: 3000.0 token/s
E2E. latency: %v sec, throughput: %v token/s
TTFT: %v
ITL: %v
`, e2eLat, thr, ttft, itl)
}

// TestSweep_BestOfN tests the selection rule: minimum latency wins and its
// companion fields come from the same trial, never mixed across trials
func TestSweep_BestOfN(t *testing.T) {
	dir := t.TempDir()
	exec := NewExecutor(3, dir, "llama70b_mi300_20250831", testLogger())

	// point 4: latencies 50, 47, 52 -> best is trial 1
	// point 1: latencies 10, <failed>, 9 -> best is trial 2 from 2 valid
	outputs := map[string]string{
		"4/0": benchOutput(50, 100, 111, 11),
		"4/1": benchOutput(47, 105, 222, 22),
		"4/2": benchOutput(52, 98, 333, 33),
		"1/0": benchOutput(10, 400, 444, 44),
		"1/2": benchOutput(9, 410, 555, 55),
	}

	results, err := exec.Run(context.Background(), []int{4, 1}, func(ctx context.Context, point, trial int) (string, error) {
		out, ok := outputs[fmt.Sprintf("%d/%d", point, trial)]
		if !ok {
			return "crashed before summary", errors.New("benchmark died")
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 point results, got %d", len(results))
	}

	p4 := results[0]
	if p4.Best == nil || p4.Best.E2ELatency != 47 {
		t.Fatalf("Expected best latency 47 for point 4, got %+v", p4.Best)
	}
	if p4.BestTrial != 1 {
		t.Errorf("Expected best trial 1, got %d", p4.BestTrial)
	}
	if p4.Best.TTFT != 222 || p4.Best.ITL != 22 {
		t.Errorf("Companion fields must come from the min-latency trial: got TTFT=%v ITL=%v", p4.Best.TTFT, p4.Best.ITL)
	}

	p1 := results[1]
	if p1.ValidTrials != 2 {
		t.Errorf("Expected 2 valid trials for point 1, got %d", p1.ValidTrials)
	}
	if p1.Best == nil || p1.Best.E2ELatency != 9 {
		t.Fatalf("Expected best latency 9 for point 1, got %+v", p1.Best)
	}
	if p1.Best.TTFT != 555 {
		t.Errorf("Expected TTFT from the best trial (555), got %v", p1.Best.TTFT)
	}
}

// TestSweep_IdempotentResume tests that re-invoking the sweep with prior
// logs on disk performs zero additional trials
func TestSweep_IdempotentResume(t *testing.T) {
	dir := t.TempDir()
	points := []int{2, 1}

	first := NewExecutor(3, dir, "task_mi300_20250831", testLogger())
	_, err := first.Run(context.Background(), points, func(ctx context.Context, point, trial int) (string, error) {
		return benchOutput(float64(point), 100, 1, 1), nil
	})
	if err != nil {
		t.Fatalf("First sweep failed: %v", err)
	}

	second := NewExecutor(3, dir, "task_mi300_20250831", testLogger())
	results, err := second.Run(context.Background(), points, func(ctx context.Context, point, trial int) (string, error) {
		t.Fatalf("Trial (%d,%d) re-executed despite completed log", point, trial)
		return "", nil
	})
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}

	for _, pr := range results {
		if pr.Executed != 0 {
			t.Errorf("Point %d: expected 0 executed trials, got %d", pr.ConfigValue, pr.Executed)
		}
		if pr.Resumed != 3 {
			t.Errorf("Point %d: expected 3 resumed trials, got %d", pr.ConfigValue, pr.Resumed)
		}
		if pr.Best == nil {
			t.Errorf("Point %d: expected metrics from resumed logs", pr.ConfigValue)
		}
	}
}

// TestSweep_FailedTrialsAreRetriedOnResume tests that only trials whose
// log carries the terminal marker are skipped
func TestSweep_FailedTrialsAreRetriedOnResume(t *testing.T) {
	dir := t.TempDir()

	first := NewExecutor(2, dir, "task_mi300_20250831", testLogger())
	_, err := first.Run(context.Background(), []int{1}, func(ctx context.Context, point, trial int) (string, error) {
		return "died", errors.New("oom")
	})
	if err != nil {
		t.Fatalf("First sweep failed: %v", err)
	}

	executed := 0
	second := NewExecutor(2, dir, "task_mi300_20250831", testLogger())
	results, err := second.Run(context.Background(), []int{1}, func(ctx context.Context, point, trial int) (string, error) {
		executed++
		return benchOutput(5, 100, 1, 1), nil
	})
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}

	if executed != 2 {
		t.Errorf("Expected both incomplete trials to re-run, got %d", executed)
	}
	if results[0].ValidTrials != 2 {
		t.Errorf("Expected 2 valid trials after retry, got %d", results[0].ValidTrials)
	}
}

// TestSweep_NoValidTrials tests the explicit NA outcome: a point where
// every trial failed reports nil metrics, never zeros
func TestSweep_NoValidTrials(t *testing.T) {
	exec := NewExecutor(2, t.TempDir(), "task_mi300_20250831", testLogger())

	results, err := exec.Run(context.Background(), []int{8}, func(ctx context.Context, point, trial int) (string, error) {
		return "no summary here", errors.New("crash")
	})
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if results[0].Best != nil {
		t.Errorf("Expected nil metrics for a point with zero valid trials, got %+v", results[0].Best)
	}
	if results[0].BestTrial != -1 {
		t.Errorf("Expected BestTrial -1, got %d", results[0].BestTrial)
	}
}

// TestSweep_CollectReadsLogsOnly tests offline re-aggregation from disk
func TestSweep_CollectReadsLogsOnly(t *testing.T) {
	dir := t.TempDir()

	first := NewExecutor(2, dir, "task_mi300_20250831", testLogger())
	_, err := first.Run(context.Background(), []int{4}, func(ctx context.Context, point, trial int) (string, error) {
		return benchOutput(float64(10+trial), 100, 1, 1), nil
	})
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	collector := NewExecutor(2, dir, "task_mi300_20250831", testLogger())
	results := collector.Collect([]int{4})

	if len(results) != 1 || results[0].Best == nil {
		t.Fatalf("Expected collected metrics, got %+v", results)
	}
	if results[0].Best.E2ELatency != 10 {
		t.Errorf("Expected best latency 10, got %v", results[0].Best.E2ELatency)
	}
}
