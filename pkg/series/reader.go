// Package series moves observation sequences in and out of the scalar filter.
//
// Read decodes observations from text, CSV or JSON. Run feeds them through a
// filter as one batch while recording every step and watching residuals.
// Write renders the result as plain text, JSON or a table.
package series

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Format is an observation encoding.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates an input format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatText, FormatCSV, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown input format %q", s)
}

// ReadOptions selects values inside structured input.
type ReadOptions struct {
	// Column is the 0-based CSV column holding observations.
	Column int
	// Path is a gjson path. For a JSON array of objects it is applied to
	// each element; for a JSON object it must select an array of numbers.
	Path string
}

// ErrNoObservations is returned when the input holds no values.
var ErrNoObservations = errors.New("no observations in input")

// Read decodes all observations from r.
func Read(r io.Reader, format Format, opts ReadOptions) ([]float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}

	if format == FormatAuto || format == "" {
		format = detectFormat(data)
	}

	var out []float64
	switch format {
	case FormatText:
		out, err = readText(data)
	case FormatCSV:
		out, err = readCSV(data, opts.Column)
	case FormatJSON:
		out, err = readJSON(data, opts.Path)
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoObservations
	}
	return out, nil
}

// detectFormat picks json for a leading '[' or '{', csv if any line has a
// comma, and text otherwise.
func detectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return FormatJSON
	}
	if bytes.IndexByte(trimmed, ',') >= 0 {
		return FormatCSV
	}
	return FormatText
}

func readText(data []byte) ([]float64, error) {
	var out []float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		for _, field := range strings.Fields(text) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid observation %q", line, field)
			}
			out = append(out, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan observations: %w", err)
	}
	return out, nil
}

func readCSV(data []byte, column int) ([]float64, error) {
	if column < 0 {
		return nil, fmt.Errorf("invalid csv column %d", column)
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var out []float64
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		if column >= len(fields) {
			return nil, fmt.Errorf("row %d: no column %d (row has %d)", row, column, len(fields))
		}
		field := strings.TrimSpace(fields[column])
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			if row == 1 && len(out) == 0 {
				continue // header
			}
			return nil, fmt.Errorf("row %d: invalid observation %q", row, field)
		}
		out = append(out, v)
	}
	return out, nil
}

func readJSON(data []byte, path string) ([]float64, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON input")
	}

	root := gjson.ParseBytes(data)
	var elems []gjson.Result
	switch {
	case root.IsArray() && path != "":
		for _, e := range root.Array() {
			elems = append(elems, e.Get(path))
		}
	case root.IsArray():
		elems = root.Array()
	case root.IsObject() && path != "":
		sel := root.Get(path)
		if !sel.IsArray() {
			return nil, fmt.Errorf("path %q does not select an array", path)
		}
		elems = sel.Array()
	case root.IsObject():
		return nil, errors.New("JSON object input needs a path to the observations")
	default:
		return nil, errors.New("JSON input must be an array or an object")
	}

	out := make([]float64, len(elems))
	for i, e := range elems {
		if e.Type != gjson.Number {
			return nil, fmt.Errorf("element %d: %q is not a number", i, e.Raw)
		}
		out[i] = e.Float()
	}
	return out, nil
}
