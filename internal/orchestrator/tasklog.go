package orchestrator

import (
	"fmt"
	"os"
	"time"
)

// taskLog is the per-task daily log. Its text is the interface both the
// next day's classifier and human operators grep, so every terminal state
// writes an unambiguous marker here.
type taskLog struct {
	f *os.File
}

// openTaskLog opens (appending) the daily log for a task
func openTaskLog(path string) (*taskLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open task log %s: %w", path, err)
	}
	return &taskLog{f: f}, nil
}

// Printf appends a timestamped line
func (t *taskLog) Printf(format string, args ...interface{}) {
	if t == nil || t.f == nil {
		return
	}
	fmt.Fprintf(t.f, "[%s] ", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(t.f, format, args...)
	fmt.Fprintln(t.f)
}

// Marker appends a bare marker line, untimestamped so it stays a literal
// grep target
func (t *taskLog) Marker(marker string) {
	if t == nil || t.f == nil {
		return
	}
	fmt.Fprintln(t.f, marker)
}

// Close closes the underlying file
func (t *taskLog) Close() error {
	if t == nil || t.f == nil {
		return nil
	}
	return t.f.Close()
}
