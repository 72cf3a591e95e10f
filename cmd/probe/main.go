// Command probe bootstraps a spreadtap table entry by sampling one file.
//
// It reads a bounded stride of records from the file, infers a schema with the
// same rules discovery uses, suggests a key, and emits either:
//
//   - a config file holding one table that matches exactly this file, or
//   - a plain-text field report (-report) for interactive inspection.
//
// The file may be given as any root the tap understands followed by the
// object key, e.g. "s3://bucket/exports/orders.csv", or as a local path.
// The table name defaults to the normalized file name without extension.
//
// Output modes
//
//   - Default mode: prints JSON config to stdout.
//   - Report mode (-report): prints one line per inferred field plus the key
//     suggestion and suppresses config output.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"spreadtap/internal/config"
	"spreadtap/internal/probe"
	"spreadtap/internal/schema"
	"spreadtap/internal/source"
	_ "spreadtap/internal/source/all"
)

func main() {
	var (
		// flagURL is the file to sample: a URL understood by one of the
		// source backends, or a bare local path.
		flagURL = flag.String("url", "", "URL or path of the file to sample (CSV, Excel or JSON)")

		// flagName overrides the table name. It is normalized the same way
		// crawled directory names are.
		flagName = flag.String("name", "", "Table name; defaults to the normalized file name")

		// flagFormat forces a format instead of detecting it from the key and
		// the first bytes of the file.
		flagFormat = flag.String("format", config.FormatDetect, "File format: csv|excel|json|detect")

		flagStart = flag.String("start-date", "1970-01-01T00:00:00Z", "start_date written into the table entry")

		// flagRate and flagMax bound the sample. They are written into the
		// generated table so discovery samples the same way.
		flagRate = flag.Int("sample-rate", config.DefaultSampleRate, "Keep every Nth record")
		flagMax  = flag.Int("max-records", config.DefaultMaxSamplingRead, "Stop after this many sampled records")

		flagPreferNumber = flag.Bool("prefer-number", false, "Publish native floats as number instead of integer")
		flagPretty       = flag.Bool("pretty", true, "Pretty-print JSON output")
		flagReport       = flag.Bool("report", false, "Print a field report (suppresses JSON output)")
		flagVerbose      = flag.Bool("v", false, "Log sampling progress to stderr")
	)
	flag.Parse()

	if strings.TrimSpace(*flagURL) == "" {
		fmt.Fprintln(os.Stderr, "missing -url")
		flag.Usage()
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *flagVerbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
			defer func() { _ = logger.Sync() }()
		}
	}

	// Probing should be fast; a slow or unreachable source fails instead of
	// hanging.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	res, err := run(ctx, options{
		URL:          *flagURL,
		Name:         *flagName,
		Format:       *flagFormat,
		StartDate:    *flagStart,
		SampleRate:   *flagRate,
		MaxRecords:   *flagMax,
		PreferNumber: *flagPreferNumber,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("probe: %v", err)
	}

	if *flagReport {
		if err := writeReport(os.Stdout, res); err != nil {
			log.Fatalf("write report: %v", err)
		}
		return
	}

	enc := json.NewEncoder(os.Stdout)
	if *flagPretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(&config.Config{Tables: []config.TableSpec{res.Table}}); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}

type options struct {
	URL          string
	Name         string
	Format       string
	StartDate    string
	SampleRate   int
	MaxRecords   int
	PreferNumber bool
	Logger       *zap.Logger
}

// result is what one probe run learned about a file.
type result struct {
	Table   config.TableSpec
	Schema  *schema.Table
	Sampled int
}

func run(ctx context.Context, opt options) (result, error) {
	root, key, err := splitLocation(opt.URL)
	if err != nil {
		return result{}, err
	}

	name := opt.Name
	if name == "" {
		name = strings.TrimSuffix(key, path.Ext(key))
	}
	name = probe.NormalizeName(name)
	if name == "" {
		name = "table"
	}

	spec := config.TableSpec{
		Path:                  root,
		Name:                  name,
		Pattern:               "^" + regexp.QuoteMeta(key) + "$",
		StartDate:             opt.StartDate,
		KeyProperties:         []string{},
		Format:                opt.Format,
		SampleRate:            opt.SampleRate,
		MaxSamplingRead:       opt.MaxRecords,
		PreferNumberVsInteger: opt.PreferNumber,
	}
	if err := config.Check(&config.Config{Tables: []config.TableSpec{spec}}); err != nil {
		return result{}, err
	}

	store, err := source.Open(ctx, root, source.Options{Logger: opt.Logger})
	if err != nil {
		return result{}, err
	}
	sample, err := probe.Sample(ctx, store, spec, []source.Object{{Key: key}}, probe.OptionsFor(spec, opt.Logger))
	if err != nil {
		return result{}, err
	}
	if keys := probe.SuggestKey(sample); keys != nil {
		spec.KeyProperties = keys
	}
	return result{
		Table:   spec,
		Schema:  probe.Infer(sample, opt.PreferNumber),
		Sampled: len(sample),
	}, nil
}

// splitLocation separates the store root from the object key.
func splitLocation(u string) (root, key string, err error) {
	u = strings.TrimSpace(u)
	if i := strings.Index(u, "://"); i > 0 {
		j := strings.LastIndex(u, "/")
		if j <= i+2 || j == len(u)-1 {
			return "", "", fmt.Errorf("%q does not name a file", u)
		}
		return u[:j], u[j+1:], nil
	}
	if u == "" || strings.HasSuffix(u, string(filepath.Separator)) {
		return "", "", errors.New("missing file path")
	}
	return filepath.Dir(u), filepath.Base(u), nil
}

func writeReport(w io.Writer, res result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "field report: %s (%d records sampled)\n", res.Table.Name, res.Sampled)
	fmt.Fprintln(tw, "FIELD\tTYPE\tNULLABLE")
	for _, n := range res.Schema.Names() {
		f, _ := res.Schema.Field(n)
		fmt.Fprintf(tw, "%s\t%s\t%t\n", n, strings.Join(typeNames(f.NonNull()), "|"), f.IsNullable())
	}
	key := "none"
	if len(res.Table.KeyProperties) > 0 {
		key = strings.Join(res.Table.KeyProperties, ",")
	}
	fmt.Fprintf(tw, "suggested key: %s\n", key)
	return tw.Flush()
}

func typeNames(ts []schema.FieldType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
