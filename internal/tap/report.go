package tap

import (
	"errors"
	"fmt"
	"time"
)

// Status is how a table's run ended.
type Status string

const (
	// StatusOK: every candidate file was processed.
	StatusOK Status = "ok"
	// StatusTruncated: the record budget ran out before the last file.
	StatusTruncated Status = "truncated"
	// StatusSkipped: the table was not run (no config block, discovery error).
	StatusSkipped Status = "skipped"
	// StatusFailed: the table stopped on an error; its checkpoint is at the
	// last fully processed file.
	StatusFailed Status = "failed"
)

// Outcome is the result for one table.
type Outcome struct {
	Table    string
	Status   Status
	Err      error
	Files    int
	Records  int
	Duration time.Duration
}

// Reason returns the error text, or "" when there is none.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Report collects the outcomes of one discover or sync pass.
type Report struct {
	RunID    string
	Outcomes []Outcome
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Outcome returns the outcome recorded for table.
func (r *Report) Outcome(table string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Table == table {
			return o, true
		}
	}
	return Outcome{}, false
}

// Count returns how many outcomes have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Err joins the errors of failed tables. Skipped and truncated tables do
// not make a run fail.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("table %s: %w", o.Table, o.Err))
		}
	}
	return errors.Join(errs...)
}
