package frame

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ReadCSV reads a table from CSV with a header row of column names.
// Empty cells read as NaN. A leading unnamed index column (as written by
// pandas) is dropped.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", ErrInvalidData)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	skip := 0
	if len(header) > 0 && strings.TrimSpace(header[0]) == "" {
		skip = 1
	}
	cols := make([]string, 0, len(header)-skip)
	for _, h := range header[skip:] {
		cols = append(cols, strings.TrimSpace(h))
	}
	t, err := newTable(cols)
	if err != nil {
		return nil, err
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row := make([]float64, len(cols))
		for i, cell := range rec[skip:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				row[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %q: %v", ErrInvalidData, line, cols[i], err)
			}
			row[i] = v
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// WriteCSV writes the table with a header row.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.cols); err != nil {
		return err
	}
	rec := make([]string, len(t.cols))
	for _, r := range t.rows {
		for i, v := range r {
			rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
