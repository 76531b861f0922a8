package extract

import (
	"errors"
	"testing"

	"github.com/psantana5/rocm-bench/pkg/models"
)

// sample builds a complete v1 summary section
func sample() string {
	return `progress line
Prefill. latency: 9.99 sec, throughput: 1.0 token/s
===== Benchmark Summary =====
Prefill. latency: 1.23 sec, throughput: 100.0 token/s
Decode. median latency: 0.031 sec, median throughput: 3200.5 token/s
E2E. latency: 4.56 sec, throughput: 890.1 token/s
TTFT: 120.5
ITL: 14.2
`
}

// TestParse_LastMatchWins tests that a later summary line overrides an
// earlier one within the section, since tools print intermediate progress
// before the final authoritative numbers
func TestParse_LastMatchWins(t *testing.T) {
	text := sample() + `
Prefill. latency: 1.00 sec, throughput: 120.0 token/s
`
	m, err := Parse(FormatV1, text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if m.PrefillLatency != 1.00 {
		t.Errorf("Expected prefill latency 1.00, got %v", m.PrefillLatency)
	}
	if m.PrefillThroughput != 120.0 {
		t.Errorf("Expected prefill throughput 120.0, got %v", m.PrefillThroughput)
	}
}

// TestParse_IgnoresTextBeforeMarker tests that lines before the section
// marker never contribute matches
func TestParse_IgnoresTextBeforeMarker(t *testing.T) {
	m, err := Parse(FormatV1, sample())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if m.PrefillLatency != 1.23 {
		t.Errorf("Expected prefill latency 1.23 (not the pre-marker 9.99), got %v", m.PrefillLatency)
	}
	if m.E2ELatency != 4.56 || m.E2EThroughput != 890.1 {
		t.Errorf("Unexpected E2E values: %v / %v", m.E2ELatency, m.E2EThroughput)
	}
	if m.TTFT != 120.5 || m.ITL != 14.2 {
		t.Errorf("Unexpected TTFT/ITL: %v / %v", m.TTFT, m.ITL)
	}
}

// TestParse_MissingMarker tests that output without the section marker is
// an explicit incomplete extraction, not a zeroed result
func TestParse_MissingMarker(t *testing.T) {
	_, err := Parse(FormatV1, "E2E. latency: 4.56 sec, throughput: 890.1 token/s\n")
	if err == nil {
		t.Fatal("Expected error for missing section marker")
	}

	var inc *models.ExtractionIncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("Expected ExtractionIncompleteError, got %T", err)
	}
}

// TestParse_MissingField tests that a missing required field names itself
func TestParse_MissingField(t *testing.T) {
	text := `===== Benchmark Summary =====
Prefill. latency: 1.23 sec, throughput: 100.0 token/s
Decode. median latency: 0.031 sec, median throughput: 3200.5 token/s
E2E. latency: 4.56 sec, throughput: 890.1 token/s
TTFT: 120.5
`
	_, err := Parse(FormatV1, text)

	var inc *models.ExtractionIncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("Expected ExtractionIncompleteError, got %v", err)
	}
	if len(inc.Missing) != 1 || inc.Missing[0] != "itl" {
		t.Errorf("Expected missing [itl], got %v", inc.Missing)
	}
}

// TestParse_UnknownFormat tests the format tag is honoured
func TestParse_UnknownFormat(t *testing.T) {
	if _, err := Parse(Format("v99"), sample()); err == nil {
		t.Error("Expected error for unknown format")
	}
}

// TestParseAccuracy tests the gate marker extraction, including the
// fail-closed default on absence
func TestParseAccuracy(t *testing.T) {
	if v, ok := ParseAccuracy("warmup\nAccuracy: 0.79\nAccuracy: 0.81\n"); !ok || v != 0.81 {
		t.Errorf("Expected last accuracy 0.81, got %v (ok=%v)", v, ok)
	}

	if _, ok := ParseAccuracy("no marker here"); ok {
		t.Error("Expected ok=false when marker is absent")
	}
}
