// Package json streams JSON documents into records.
package json

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"spreadtap/pkg/records"
)

// Options controls JSON flattening.
type Options struct {
	// Separator joins the path of nested object keys. Default ".".
	Separator string
	// ArrayJoin joins arrays of strings into one text value. Default ",".
	ArrayJoin string
}

func (o Options) sep() string {
	if o.Separator == "" {
		return "."
	}
	return o.Separator
}

func (o Options) join() string {
	if o.ArrayJoin == "" {
		return ","
	}
	return o.ArrayJoin
}

// StreamRecords decodes r and calls emit once per record object.
//
// Accepted layouts:
//   - a root array of objects;
//   - a root object holding an array field (envelope): the first array-valued
//     field is streamed and the rest of the object is skipped. Only a lone
//     root object is an envelope, and it is held in memory while read;
//   - a single root object with no array field: one record;
//   - root objects one after another (JSON Lines), optionally after a root
//     array; nested arrays are then plain values.
//
// Object key order is preserved. Nested objects are flattened into
// "parent.child" names. Arrays of strings become joined text; other arrays
// are kept as their JSON text.
//
// An array element that is not an object is reported to onErr with its
// 1-based element position and skipped when onErr returns nil. Syntax errors
// leave the decoder unusable and are always returned.
func StreamRecords(
	ctx context.Context,
	r io.Reader,
	opt Options,
	emit func(*records.Record) error,
	onErr func(line int, err error) error,
) error {
	br := bufio.NewReader(r)
	c, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("json: read root token: %w", err)
	}

	s := &streamer{
		ctx:   ctx,
		dec:   json.NewDecoder(br),
		opt:   opt,
		emit:  emit,
		onErr: onErr,
	}
	s.dec.UseNumber()

	// A leading object is an envelope only when nothing follows it, so it is
	// buffered until the next root value (if any) is visible.
	if c == '{' {
		var raw json.RawMessage
		if err := s.dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: read root object: %w", err)
		}
		if err := s.bufferedObject(raw, !s.dec.More()); err != nil {
			return err
		}
	}

	for {
		tok, err := s.dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("json: read root token: %w", err)
		}

		d, ok := tok.(json.Delim)
		if !ok {
			return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
		}
		switch d {
		case '[':
			if err := s.streamArray(); err != nil {
				return err
			}
		case '{':
			if err := s.rootObject(false); err != nil {
				return err
			}
		default:
			return fmt.Errorf("json: unexpected root delimiter %q", d)
		}
	}
}

// peekNonSpace skips leading whitespace and returns the next byte without
// consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		c, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c, br.UnreadByte()
	}
}

type streamer struct {
	ctx   context.Context
	dec   *json.Decoder
	opt   Options
	emit  func(*records.Record) error
	onErr func(line int, err error) error
	n     int
}

// streamArray streams the elements of an array whose '[' was consumed, and
// consumes the closing ']'.
func (s *streamer) streamArray() error {
	for s.dec.More() {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		s.n++

		tok, err := s.dec.Token()
		if err != nil {
			return fmt.Errorf("json: read array element: %w", err)
		}
		if tok == nil {
			continue
		}
		if d, ok := tok.(json.Delim); ok && d == '{' {
			rec := records.New(8)
			if err := s.readObject(rec, ""); err != nil {
				return err
			}
			if err := s.emit(rec); err != nil {
				return err
			}
			continue
		}

		if err := skipValueFromFirstToken(s.dec, tok); err != nil {
			return err
		}
		elemErr := fmt.Errorf("json: array element not an object (got %s)", describe(tok))
		if s.onErr == nil {
			return elemErr
		}
		if herr := s.onErr(s.n, elemErr); herr != nil {
			return herr
		}
	}
	return expectDelim(s.dec, ']')
}

// rootObject handles an object at the top level. Only the first root value
// may act as an envelope; later ones are JSON Lines records.
func (s *streamer) rootObject(envelopeAllowed bool) error {
	if !envelopeAllowed {
		s.n++
		rec := records.New(8)
		if err := s.readObject(rec, ""); err != nil {
			return err
		}
		return s.emit(rec)
	}

	rec := records.New(8)
	for s.dec.More() {
		key, err := readKey(s.dec)
		if err != nil {
			return err
		}
		tok, err := s.dec.Token()
		if err != nil {
			return fmt.Errorf("json: read value of %q: %w", key, err)
		}
		if d, ok := tok.(json.Delim); ok && d == '[' {
			envelope, err := s.arrayField(rec, key)
			if err != nil {
				return err
			}
			if envelope {
				return s.skipRest()
			}
			continue
		}
		if err := s.setValue(rec, key, tok); err != nil {
			return err
		}
	}
	if err := expectDelim(s.dec, '}'); err != nil {
		return err
	}
	s.n++
	return s.emit(rec)
}

// bufferedObject handles a root object that was decoded ahead of time.
func (s *streamer) bufferedObject(raw json.RawMessage, envelopeAllowed bool) error {
	outer := s.dec
	defer func() { s.dec = outer }()

	s.dec = json.NewDecoder(bytes.NewReader(raw))
	s.dec.UseNumber()
	if err := expectDelim(s.dec, '{'); err != nil {
		return err
	}
	return s.rootObject(envelopeAllowed)
}

// arrayField handles an array member of a root object whose '[' was
// consumed. If the first element is an object the array is an envelope: it
// is streamed as records and true is returned. Otherwise the array is
// stored on rec as a value of the single root record.
func (s *streamer) arrayField(rec *records.Record, key string) (bool, error) {
	if !s.dec.More() {
		if err := expectDelim(s.dec, ']'); err != nil {
			return false, err
		}
		rec.Set(key, records.Null())
		return false, nil
	}

	tok, err := s.dec.Token()
	if err != nil {
		return false, fmt.Errorf("json: read array element: %w", err)
	}
	if d, ok := tok.(json.Delim); ok && d == '{' {
		s.n++
		first := records.New(8)
		if err := s.readObject(first, ""); err != nil {
			return false, err
		}
		if err := s.emit(first); err != nil {
			return false, err
		}
		return true, s.streamArray()
	}

	head, err := materializeFromToken(s.dec, tok)
	if err != nil {
		return false, err
	}
	rest, err := materializeArray(s.dec)
	if err != nil {
		return false, err
	}
	rec.Set(key, s.arrayValue(append([]any{head}, rest...)))
	return false, nil
}

// skipRest skips the remaining members of the envelope object and its '}'.
func (s *streamer) skipRest() error {
	for s.dec.More() {
		if _, err := s.dec.Token(); err != nil {
			return fmt.Errorf("json: skip envelope key: %w", err)
		}
		if err := skipNextValue(s.dec); err != nil {
			return err
		}
	}
	return expectDelim(s.dec, '}')
}

// readObject reads the members of an object whose '{' was consumed into rec,
// prefixing names with prefix.
func (s *streamer) readObject(rec *records.Record, prefix string) error {
	for s.dec.More() {
		key, err := readKey(s.dec)
		if err != nil {
			return err
		}
		tok, err := s.dec.Token()
		if err != nil {
			return fmt.Errorf("json: read value of %q: %w", key, err)
		}
		if err := s.setValue(rec, prefix+key, tok); err != nil {
			return err
		}
	}
	return expectDelim(s.dec, '}')
}

func (s *streamer) setValue(rec *records.Record, name string, tok json.Token) error {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return s.readObject(rec, name+s.opt.sep())
		case '[':
			arr, err := materializeArray(s.dec)
			if err != nil {
				return err
			}
			rec.Set(name, s.arrayValue(arr))
			return nil
		default:
			return fmt.Errorf("json: unexpected delimiter %q", t)
		}
	default:
		rec.Set(name, scalar(tok))
		return nil
	}
}

// arrayValue flattens arrays of strings to joined text. Anything else is
// kept as its JSON encoding.
func (s *streamer) arrayValue(arr []any) records.Value {
	if len(arr) == 0 {
		return records.Null()
	}
	ss := make([]string, 0, len(arr))
	for _, it := range arr {
		if it == nil {
			continue
		}
		str, ok := it.(string)
		if !ok {
			b, err := json.Marshal(arr)
			if err != nil {
				return records.Null()
			}
			return records.Text(string(b))
		}
		ss = append(ss, str)
	}
	return records.Text(strings.Join(ss, s.opt.join()))
}

// scalar converts a decoded scalar token. Numbers that fit int64 become Int.
func scalar(tok json.Token) records.Value {
	switch t := tok.(type) {
	case nil:
		return records.Null()
	case bool:
		return records.Bool(t)
	case string:
		return records.Text(t)
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return records.Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return records.Float(f)
		}
		return records.Text(string(t))
	default:
		return records.Text(fmt.Sprint(t))
	}
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("json: read object key: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("json: object key not a string (got %T)", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

func describe(tok json.Token) string {
	switch t := tok.(type) {
	case json.Delim:
		if t == '[' {
			return "array"
		}
		return string(t)
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", tok)
	}
}

// skipNextValue skips the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	return skipValueFromFirstToken(dec, tok)
}

func skipValueFromFirstToken(dec *json.Decoder, tok json.Token) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, '}')
	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, ']')
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// materializeArray decodes the rest of an array whose '[' was consumed.
func materializeArray(dec *json.Decoder) ([]any, error) {
	var arr []any
	for dec.More() {
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("json: decode array item: %w", err)
		}
		arr = append(arr, v)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return arr, nil
}

// materializeFromToken builds a Go value for a scalar or array whose first
// token was already read.
func materializeFromToken(dec *json.Decoder, tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	if d == '[' {
		return materializeArray(dec)
	}
	return nil, fmt.Errorf("json: unexpected delimiter %q", d)
}
