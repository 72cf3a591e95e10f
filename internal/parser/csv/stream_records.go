// Package csv streams delimited text into records.
package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"spreadtap/pkg/records"
)

// Options controls how a delimited file is read.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune

	// FieldNames, when set, names the columns and the first line is treated
	// as data rather than a header.
	FieldNames []string
}

// StreamRecords reads r and calls emit once per data row, in file order.
//
// Header cells are trimmed and a leading UTF-8 BOM is dropped. Empty header
// cells are ignored along with their column. Rows shorter than the header
// yield Null for the missing columns; extra cells are dropped. Empty cells
// are Null.
//
// A malformed row is reported to onErr with its line number; when onErr
// returns nil the row is skipped and streaming continues, otherwise that
// error is returned. A nil onErr aborts on the first malformed row. An
// error returned by emit stops the stream and is returned as is.
func StreamRecords(
	ctx context.Context,
	r io.Reader,
	opt Options,
	emit func(*records.Record) error,
	onErr func(line int, err error) error,
) error {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header := opt.FieldNames
	if len(header) == 0 {
		hdr, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("csv: read header: %w", err)
		}
		header = make([]string, len(hdr))
		for i, h := range hdr {
			if i == 0 {
				h = strings.TrimPrefix(h, "\uFEFF")
			}
			header[i] = strings.TrimSpace(h)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			line, _ := cr.FieldPos(0)
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			if onErr == nil {
				return fmt.Errorf("csv: line %d: %w", line, err)
			}
			if herr := onErr(line, err); herr != nil {
				return herr
			}
			continue
		}

		rec := records.New(len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(row) {
				rec.Set(name, records.Text(row[i]))
			} else {
				rec.Set(name, records.Null())
			}
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
}

var sniffCandidates = []rune{',', '\t', ';', '|'}

// Sniff guesses the delimiter of a text sample. It picks the candidate that
// occurs a constant, non-zero number of times on every complete line of the
// sample, preferring the highest count; failing that, the most frequent
// candidate on the first line. It returns ',' when nothing matches.
func Sniff(sample []byte) rune {
	lines := bytes.Split(sample, []byte("\n"))
	if len(lines) > 1 {
		// The last piece may be cut mid-line.
		lines = lines[:len(lines)-1]
	}
	var kept [][]byte
	for _, l := range lines {
		if l = bytes.TrimRight(l, "\r"); len(l) > 0 {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return ','
	}

	best, bestCount := rune(0), 0
	for _, c := range sniffCandidates {
		n := bytes.Count(kept[0], []byte(string(c)))
		if n == 0 {
			continue
		}
		consistent := true
		for _, l := range kept[1:] {
			if bytes.Count(l, []byte(string(c))) != n {
				consistent = false
				break
			}
		}
		if consistent && n > bestCount {
			best, bestCount = c, n
		}
	}
	if best != 0 {
		return best
	}

	for _, c := range sniffCandidates {
		if n := bytes.Count(kept[0], []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	if best == 0 {
		return ','
	}
	return best
}
