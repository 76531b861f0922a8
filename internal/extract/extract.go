// Package extract parses raw benchmark subprocess output into structured
// metrics. The subprocess text is the only data channel back from a trial,
// so every pattern the system knows about benchmark output lives here.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/psantana5/rocm-bench/pkg/models"
)

// Format tags the output layout of the benchmark tool. The tool's text
// output can change across releases; a new layout gets a new tag and its
// own pattern table instead of loosening the existing one.
type Format string

// FormatV1 is the summary layout printed by current benchmark builds.
const FormatV1 Format = "v1"

// sectionMarkerV1 starts the authoritative summary section. Progress lines
// printed before it are ignored.
const sectionMarkerV1 = "===== Benchmark Summary ====="

const floatPattern = `([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)`

// fieldSpec is one extractable field: a label pattern with one or two
// capture groups (latency, or latency paired with a throughput printed
// later on the same line).
type fieldSpec struct {
	name    string
	pattern *regexp.Regexp
	paired  bool
}

var v1Fields = []fieldSpec{
	{"prefill", regexp.MustCompile(`Prefill\. latency:\s*` + floatPattern + `[^\n]*?throughput:\s*` + floatPattern), true},
	{"decode", regexp.MustCompile(`Decode\. median latency:\s*` + floatPattern + `[^\n]*?median throughput:\s*` + floatPattern), true},
	{"e2e", regexp.MustCompile(`E2E\. latency:\s*` + floatPattern + `[^\n]*?throughput:\s*` + floatPattern), true},
	{"ttft", regexp.MustCompile(`TTFT:\s*` + floatPattern), false},
	{"itl", regexp.MustCompile(`ITL:\s*` + floatPattern), false},
}

var accuracyPattern = regexp.MustCompile(`Accuracy:\s*` + floatPattern)

// Metrics holds the structured fields extracted from one trial's output.
// Latencies are seconds, throughputs tokens/sec, TTFT/ITL milliseconds.
type Metrics struct {
	PrefillLatency    float64
	PrefillThroughput float64
	DecodeLatency     float64
	DecodeThroughput  float64
	E2ELatency        float64
	E2EThroughput     float64
	TTFT              float64
	ITL               float64
}

// Parse extracts metrics from raw subprocess output in the given format.
// Extraction is last-match-wins per field within the summary section,
// because tools print intermediate progress before the final authoritative
// summary. A missing section marker or any missing required field yields an
// ExtractionIncompleteError; callers decide the fallback.
func Parse(format Format, text string) (*Metrics, error) {
	if format != FormatV1 {
		return nil, &models.ExtractionIncompleteError{
			Format:  string(format),
			Missing: []string{"unknown format"},
		}
	}

	idx := strings.Index(text, sectionMarkerV1)
	if idx < 0 {
		return nil, &models.ExtractionIncompleteError{
			Format:  string(format),
			Missing: []string{"section marker"},
		}
	}
	section := text[idx+len(sectionMarkerV1):]

	m := &Metrics{}
	var missing []string

	for _, f := range v1Fields {
		matches := f.pattern.FindAllStringSubmatch(section, -1)
		if len(matches) == 0 {
			missing = append(missing, f.name)
			continue
		}
		last := matches[len(matches)-1]

		lat, err := strconv.ParseFloat(last[1], 64)
		if err != nil {
			missing = append(missing, f.name)
			continue
		}

		var thr float64
		if f.paired {
			thr, err = strconv.ParseFloat(last[2], 64)
			if err != nil {
				missing = append(missing, f.name)
				continue
			}
		}

		switch f.name {
		case "prefill":
			m.PrefillLatency, m.PrefillThroughput = lat, thr
		case "decode":
			m.DecodeLatency, m.DecodeThroughput = lat, thr
		case "e2e":
			m.E2ELatency, m.E2EThroughput = lat, thr
		case "ttft":
			m.TTFT = lat
		case "itl":
			m.ITL = lat
		}
	}

	if len(missing) > 0 {
		return nil, &models.ExtractionIncompleteError{Format: string(format), Missing: missing}
	}

	return m, nil
}

// ParseAccuracy finds the last "Accuracy: <value>" marker in correctness
// workload output. Absence returns ok=false; the gate fails closed on it.
func ParseAccuracy(text string) (float64, bool) {
	matches := accuracyPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SectionMarker returns the literal summary marker for a format, for tools
// that synthesise benchmark output (tests, replay).
func SectionMarker(format Format) string {
	if format == FormatV1 {
		return sectionMarkerV1
	}
	return ""
}
