// Package config defines the table configuration read from the tap config
// file, its validation rules, and the runtime knobs read from the process
// environment.
//
// A config file (JSON or YAML) declares one entry per logical table:
//
//	{
//	  "tables": [{
//	    "path": "s3://bucket/exports",
//	    "name": "orders",
//	    "pattern": "orders/.*\\.csv",
//	    "start_date": "2020-01-01T00:00:00Z",
//	    "key_properties": ["id"],
//	    "format": "csv"
//	  }]
//	}
//
// Optional knobs have documented defaults exposed through accessor methods so
// callers never re-implement the defaulting rules.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"spreadtap/internal/schema"
	"spreadtap/pkg/records"
)

const (
	DefaultSampleRate      = 10
	DefaultMaxSamplingRead = 1000
	DefaultMaxSampledFiles = 5
	Unbounded              = -1
)

// Supported values of TableSpec.Format.
const (
	FormatCSV    = "csv"
	FormatExcel  = "excel"
	FormatJSON   = "json"
	FormatDetect = "detect"
)

// Supported values of TableSpec.InvalidFormatAction.
const (
	ActionIgnore = "ignore"
	ActionFail   = "fail"
)

// Config is the full tap configuration.
type Config struct {
	Tables []TableSpec `json:"tables" yaml:"tables"`
}

// TableSpec declares one logical table. It is immutable for a run.
type TableSpec struct {
	Path          string   `json:"path" yaml:"path"`
	Name          string   `json:"name" yaml:"name"`
	Pattern       string   `json:"pattern" yaml:"pattern"`
	StartDate     string   `json:"start_date" yaml:"start_date"`
	KeyProperties []string `json:"key_properties" yaml:"key_properties"`
	Format        string   `json:"format" yaml:"format"`

	InvalidFormatAction string   `json:"invalid_format_action,omitempty" yaml:"invalid_format_action,omitempty"`
	UniversalNewlines   *bool    `json:"universal_newlines,omitempty" yaml:"universal_newlines,omitempty"`
	Selected            *bool    `json:"selected,omitempty" yaml:"selected,omitempty"`
	FieldNames          []string `json:"field_names,omitempty" yaml:"field_names,omitempty"`
	SearchPrefix        string   `json:"search_prefix,omitempty" yaml:"search_prefix,omitempty"`
	WorksheetName       string   `json:"worksheet_name,omitempty" yaml:"worksheet_name,omitempty"`
	Delimiter           string   `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	Quotechar           string   `json:"quotechar,omitempty" yaml:"quotechar,omitempty"`
	Encoding            string   `json:"encoding,omitempty" yaml:"encoding,omitempty"`

	SampleRate       int  `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	MaxSamplingRead  int  `json:"max_sampling_read,omitempty" yaml:"max_sampling_read,omitempty"`
	MaxSampledFiles  int  `json:"max_sampled_files,omitempty" yaml:"max_sampled_files,omitempty"`
	MaxRecordsPerRun *int `json:"max_records_per_run,omitempty" yaml:"max_records_per_run,omitempty"`

	PreferNumberVsInteger bool `json:"prefer_number_vs_integer,omitempty" yaml:"prefer_number_vs_integer,omitempty"`
	FullTableReplace      bool `json:"full_table_replace,omitempty" yaml:"full_table_replace,omitempty"`

	SchemaOverrides map[string]schema.Override `json:"schema_overrides,omitempty" yaml:"schema_overrides,omitempty"`

	// CrawlConfig asks the crawler to expand this entry into one table per
	// directory found under Path.
	CrawlConfig bool `json:"crawl_config,omitempty" yaml:"crawl_config,omitempty"`
}

// Start returns the parsed start_date. Validate guarantees it parses.
func (t TableSpec) Start() time.Time {
	ts, _, _ := records.ParseTimestamp(t.StartDate)
	return ts
}

func (t TableSpec) SampleRateOrDefault() int {
	if t.SampleRate > 0 {
		return t.SampleRate
	}
	return DefaultSampleRate
}

func (t TableSpec) MaxSamplingReadOrDefault() int {
	if t.MaxSamplingRead > 0 {
		return t.MaxSamplingRead
	}
	return DefaultMaxSamplingRead
}

func (t TableSpec) MaxSampledFilesOrDefault() int {
	if t.MaxSampledFiles > 0 {
		return t.MaxSampledFiles
	}
	return DefaultMaxSampledFiles
}

// RecordBudget returns max_records_per_run, or Unbounded.
func (t TableSpec) RecordBudget() int {
	if t.MaxRecordsPerRun == nil || *t.MaxRecordsPerRun < 0 {
		return Unbounded
	}
	return *t.MaxRecordsPerRun
}

// FailOnInvalidFormat reports whether decode errors abort the table.
// The default is to fail.
func (t TableSpec) FailOnInvalidFormat() bool {
	return !strings.EqualFold(t.InvalidFormatAction, ActionIgnore)
}

func (t TableSpec) UniversalNewlinesOrDefault() bool {
	return t.UniversalNewlines == nil || *t.UniversalNewlines
}

// DelimiterRune returns the configured delimiter. Zero means "sniff".
func (t TableSpec) DelimiterRune() rune {
	switch t.Delimiter {
	case "":
		return ','
	case "detect":
		return 0
	case `\t`, "tab":
		return '\t'
	}
	r := []rune(t.Delimiter)
	return r[0]
}

// TableByName returns the table with the given name.
func (c *Config) TableByName(name string) (TableSpec, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

// Load reads a config file. Files ending in .yaml or .yml are decoded as
// YAML, everything else as JSON. Load does not validate.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: decode yaml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: decode json %s: %w", path, err)
		}
	}
	return &c, nil
}

// Write encodes c as indented JSON to path.
func Write(path string, c *Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}
