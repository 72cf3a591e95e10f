// Package format turns a raw table file into a stream of records according
// to the table's format settings.
package format

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"spreadtap/internal/config"
	csvparser "spreadtap/internal/parser/csv"
	excelparser "spreadtap/internal/parser/excel"
	jsonparser "spreadtap/internal/parser/json"
	"spreadtap/pkg/records"
)

// ErrUnknownFormat is returned for a format name no decoder handles.
var ErrUnknownFormat = errors.New("format: unknown format")

const sniffSize = 4096

// Emit receives one decoded record.
type Emit func(*records.Record) error

// OnError receives a recoverable record-level decode error. Returning nil
// skips the record; returning an error aborts the file with it.
type OnError func(line int, err error) error

// Detect resolves the "detect" format from the key's extension, falling back
// to the leading bytes of the content.
func Detect(key string, head []byte) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv", ".tsv", ".txt":
		return config.FormatCSV
	case ".xlsx", ".xlsm":
		return config.FormatExcel
	case ".json", ".jsonl", ".ndjson":
		return config.FormatJSON
	}

	trimmed := bytes.TrimLeft(bytes.TrimPrefix(head, []byte("\xef\xbb\xbf")), " \t\r\n")
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return config.FormatExcel
	case len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['):
		return config.FormatJSON
	default:
		return config.FormatCSV
	}
}

// Decode reads r, the content of key, and calls emit for every record.
//
// Keys ending in ".gz" are decompressed first and the format is detected
// from the remaining name. Text formats honour the table's encoding and, for
// CSV, universal_newlines and delimiter settings.
func Decode(ctx context.Context, r io.Reader, key string, spec config.TableSpec, emit Emit, onErr OnError) error {
	if strings.HasSuffix(strings.ToLower(key), ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("format: open gzip %s: %w", key, err)
		}
		defer zr.Close()
		r = zr
		key = key[:len(key)-len(".gz")]
	}

	br := bufio.NewReaderSize(r, sniffSize)

	fmtName := strings.ToLower(spec.Format)
	if fmtName == "" || fmtName == config.FormatDetect {
		head, _ := br.Peek(sniffSize)
		fmtName = Detect(key, head)
	}

	switch fmtName {
	case config.FormatExcel:
		return excelparser.StreamRecords(ctx, br, excelparser.Options{Sheet: spec.WorksheetName}, emit, onErr)

	case config.FormatJSON:
		text, err := decodeText(br, spec.Encoding)
		if err != nil {
			return err
		}
		return jsonparser.StreamRecords(ctx, text, jsonparser.Options{}, emit, onErr)

	case config.FormatCSV:
		text, err := decodeText(br, spec.Encoding)
		if err != nil {
			return err
		}
		if spec.UniversalNewlinesOrDefault() {
			text = transform.NewReader(text, NewlineNormalizer())
		}
		tb := bufio.NewReaderSize(text, sniffSize)
		comma := spec.DelimiterRune()
		if comma == 0 {
			head, _ := tb.Peek(sniffSize)
			comma = csvparser.Sniff(head)
		}
		return csvparser.StreamRecords(ctx, tb, csvparser.Options{
			Comma:      comma,
			FieldNames: spec.FieldNames,
		}, emit, onErr)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, spec.Format)
	}
}

// decodeText wraps r in a decoder for the named character set. Empty or
// UTF-8 encodings return r unchanged.
func decodeText(r io.Reader, encoding string) (io.Reader, error) {
	if encoding == "" {
		return r, nil
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("format: encoding %q: %w", encoding, err)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
