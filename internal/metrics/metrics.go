// Package metrics is the backend-neutral instrumentation surface.
//
// Sync code records through the package-level helpers; a command installs a
// concrete Backend with SetBackend. Until then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Labels are the dimensions attached to one observation.
type Labels map[string]string

// Backend receives observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names.
const (
	RecordsTotal         = "spreadtap_records_total"
	FilesTotal           = "spreadtap_files_total"
	TableDurationSeconds = "spreadtap_table_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush forwards to the installed backend.
func Flush() error { return current().Flush() }

// RecordRecords counts n records of kind ("emitted", "sampled", "skipped").
func RecordRecords(table, kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"table": table, "kind": kind})
}

// RecordFile counts one processed file with its status ("ok", "failed",
// "skipped").
func RecordFile(table, status string) {
	current().IncCounter(FilesTotal, 1, Labels{"table": table, "status": status})
}

// RecordTable observes how long a table phase ("discover", "sync") took.
func RecordTable(table, phase, status string, d time.Duration) {
	current().ObserveHistogram(TableDurationSeconds, d.Seconds(),
		Labels{"table": table, "phase": phase, "status": status})
}
