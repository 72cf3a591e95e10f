// Package excel streams worksheet rows from .xlsx workbooks into records.
package excel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"spreadtap/pkg/records"
)

// ErrSheetNotFound is returned when the requested worksheet does not exist.
var ErrSheetNotFound = errors.New("excel: worksheet not found")

// Options selects the worksheet to read.
type Options struct {
	// Sheet is the worksheet name. Empty means the first sheet.
	Sheet string
}

// StreamRecords reads one worksheet of the workbook in r. The first row is
// the header; every following non-blank row becomes a record.
//
// Cells keep their stored type where the workbook records one: booleans
// become Bool, numbers formatted as dates become Timestamp, everything else
// is Text for type inference to classify.
func StreamRecords(
	ctx context.Context,
	r io.Reader,
	opt Options,
	emit func(*records.Record) error,
	onErr func(line int, err error) error,
) error {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return fmt.Errorf("excel: open workbook: %w", err)
	}
	defer f.Close()

	sheet := opt.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return fmt.Errorf("%w: workbook has no sheets", ErrSheetNotFound)
		}
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("excel: read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	c := newCellReader(f, sheet)

	var header []string
	rowNum := 0
	for rows.Next() {
		rowNum++
		if err := ctx.Err(); err != nil {
			return err
		}

		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			if onErr == nil {
				return fmt.Errorf("excel: row %d: %w", rowNum, err)
			}
			if herr := onErr(rowNum, err); herr != nil {
				return herr
			}
			continue
		}

		if header == nil {
			header = make([]string, len(cols))
			for i, h := range cols {
				header[i] = strings.TrimSpace(h)
			}
			continue
		}
		if blank(cols) {
			continue
		}

		rec := records.New(len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i >= len(cols) {
				rec.Set(name, records.Null())
				continue
			}
			rec.Set(name, c.value(i+1, rowNum, cols[i]))
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("excel: iterate sheet %q: %w", sheet, err)
	}
	return nil
}

func blank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// cellReader resolves the stored type of raw cell values.
type cellReader struct {
	f         *excelize.File
	sheet     string
	date1904  bool
	dateStyle map[int]bool
}

func newCellReader(f *excelize.File, sheet string) *cellReader {
	c := &cellReader{f: f, sheet: sheet, dateStyle: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		c.date1904 = *props.Date1904
	}
	return c
}

func (c *cellReader) value(col, row int, raw string) records.Value {
	if raw == "" {
		return records.Null()
	}
	num, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return records.Text(raw)
	}

	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return records.Text(raw)
	}

	if raw == "0" || raw == "1" {
		if typ, err := c.f.GetCellType(c.sheet, axis); err == nil && typ == excelize.CellTypeBool {
			return records.Bool(raw == "1")
		}
	}

	if c.isDate(axis) {
		if t, err := excelize.ExcelDateToTime(num, c.date1904); err == nil {
			return records.Timestamp(t.UTC().Round(time.Millisecond))
		}
	}
	return records.Text(raw)
}

func (c *cellReader) isDate(axis string) bool {
	id, err := c.f.GetCellStyle(c.sheet, axis)
	if err != nil || id == 0 {
		return false
	}
	if d, ok := c.dateStyle[id]; ok {
		return d
	}
	d := false
	if st, err := c.f.GetStyle(id); err == nil && st != nil {
		d = isDateFormat(st.NumFmt, st.CustomNumFmt)
	}
	c.dateStyle[id] = d
	return d
}

// isDateFormat reports whether a number format renders a date or time.
// Built-in ids 14-22 and 45-47 are date/time formats; custom formats are
// checked for date tokens outside quoted literals.
func isDateFormat(id int, custom *string) bool {
	if custom != nil && *custom != "" {
		inQuote := false
		for _, r := range strings.ToLower(*custom) {
			switch {
			case r == '"':
				inQuote = !inQuote
			case inQuote:
			case r == 'y' || r == 'd' || r == 'h' || r == 's':
				return true
			}
		}
		return false
	}
	return (id >= 14 && id <= 22) || (id >= 45 && id <= 47)
}
