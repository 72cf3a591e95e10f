package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"spreadtap/pkg/records"
)

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a JSON-pointer-like location such
// as "tables[2].pattern".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// ErrInvalid is wrapped by the error returned from Check.
var ErrInvalid = errors.New("config: invalid")

// Validate checks every table entry and returns all findings. It never stops
// at the first problem so operators can fix a config in one pass.
func Validate(c *Config) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if c == nil || len(c.Tables) == 0 {
		add(SeverityError, "tables", "at least one table is required")
		return issues
	}

	names := make(map[string]int, len(c.Tables))
	for i, t := range c.Tables {
		p := fmt.Sprintf("tables[%d]", i)

		if strings.TrimSpace(t.Path) == "" {
			add(SeverityError, p+".path", "is required")
		}
		if t.CrawlConfig {
			// Expanded into concrete tables before any run.
			continue
		}
		if strings.TrimSpace(t.Name) == "" {
			add(SeverityError, p+".name", "is required")
		} else if prev, dup := names[t.Name]; dup {
			add(SeverityError, p+".name", "duplicates tables[%d].name %q", prev, t.Name)
		} else {
			names[t.Name] = i
		}

		if t.Pattern == "" {
			add(SeverityError, p+".pattern", "is required")
		} else if _, err := regexp.Compile(t.Pattern); err != nil {
			add(SeverityError, p+".pattern", "does not compile: %v", err)
		}

		if t.StartDate == "" {
			add(SeverityError, p+".start_date", "is required")
		} else if _, _, ok := records.ParseTimestamp(t.StartDate); !ok {
			add(SeverityError, p+".start_date", "%q is not an ISO-8601 timestamp", t.StartDate)
		}

		if t.KeyProperties == nil {
			add(SeverityError, p+".key_properties", "is required (may be empty)")
		}

		switch t.Format {
		case FormatCSV, FormatExcel, FormatJSON, FormatDetect:
		case "":
			add(SeverityError, p+".format", "is required")
		default:
			add(SeverityError, p+".format", "%q must be one of csv, excel, json, detect", t.Format)
		}

		switch strings.ToLower(t.InvalidFormatAction) {
		case "", ActionIgnore, ActionFail:
		default:
			add(SeverityError, p+".invalid_format_action", "%q must be ignore or fail", t.InvalidFormatAction)
		}

		if t.Delimiter != "" && t.Delimiter != "detect" && t.Delimiter != `\t` && t.Delimiter != "tab" {
			if n := len([]rune(t.Delimiter)); n != 1 {
				add(SeverityError, p+".delimiter", "must be a single character, got %q", t.Delimiter)
			}
		}
		if t.Quotechar != "" && t.Quotechar != `"` {
			add(SeverityError, p+".quotechar", "only '\"' is supported, got %q", t.Quotechar)
		}
		if t.Encoding != "" {
			if _, err := htmlindex.Get(t.Encoding); err != nil {
				add(SeverityError, p+".encoding", "unknown encoding %q", t.Encoding)
			}
		}

		if t.SampleRate < 0 {
			add(SeverityError, p+".sample_rate", "must be positive")
		}
		if t.MaxSamplingRead < 0 {
			add(SeverityError, p+".max_sampling_read", "must be positive")
		}
		if t.MaxSampledFiles < 0 {
			add(SeverityError, p+".max_sampled_files", "must be positive")
		}
		if t.MaxRecordsPerRun != nil && *t.MaxRecordsPerRun == 0 {
			add(SeverityError, p+".max_records_per_run", "must be -1 (unbounded) or positive")
		}
		if t.MaxRecordsPerRun != nil && *t.MaxRecordsPerRun < -1 {
			add(SeverityWarning, p+".max_records_per_run", "negative values other than -1 are treated as unbounded")
		}

		for field, ov := range t.SchemaOverrides {
			if len(ov.Type.Types()) == 0 {
				add(SeverityError, p+".schema_overrides."+field, "type is required")
			}
		}

		if t.Format == FormatExcel && len(t.FieldNames) > 0 {
			add(SeverityWarning, p+".field_names", "ignored for excel tables")
		}
	}

	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Check validates c and returns an error wrapping ErrInvalid that lists every
// error-severity issue. Warnings do not fail Check.
func Check(c *Config) error {
	var msgs []string
	for _, iss := range Validate(c) {
		if iss.Severity == SeverityError {
			msgs = append(msgs, iss.Path+": "+iss.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
