// Package frame holds the per-frame feature table and its codecs.
//
// A Table is a small column-named, row-major float64 matrix. Every row of a
// stored table belongs to one frame, named by the time column.
package frame

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Canonical feature columns produced by a locator and by linking.
const (
	ColX        = "x"
	ColY        = "y"
	ColZ        = "z"
	ColMass     = "mass"
	ColSize     = "size"
	ColEcc      = "ecc"
	ColSignal   = "signal"
	ColRawMass  = "raw_mass"
	ColEP       = "ep"
	ColFrame    = "frame"
	ColParticle = "particle"
)

// FeatureColumns is the column layout of a located-feature table, in order.
var FeatureColumns = []string{ColY, ColX, ColMass, ColSize, ColEcc, ColSignal, ColRawMass, ColEP, ColFrame}

// ErrInvalidData is returned when rows or columns are inconsistent.
var ErrInvalidData = errors.New("invalid data")

// Table is an ordered set of feature rows. Every row holds one float64 per
// column, aligned to Columns().
type Table struct {
	cols  []string
	index map[string]int
	rows  [][]float64
}

// NewTable creates an empty table with the given columns.
// Duplicate column names panic.
func NewTable(cols ...string) *Table {
	t, err := newTable(cols)
	if err != nil {
		panic("frame: " + err.Error())
	}
	return t
}

func newTable(cols []string) (*Table, error) {
	t := &Table{
		cols:  make([]string, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	copy(t.cols, cols)
	for i, c := range cols {
		if _, dup := t.index[c]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidData, c)
		}
		t.index[c] = i
	}
	return t, nil
}

// AppendRow adds a row. The number of values must match the column count.
func (t *Table) AppendRow(vals ...float64) error {
	if len(vals) != len(t.cols) {
		return fmt.Errorf("%w: row has %d values, table has %d columns", ErrInvalidData, len(vals), len(t.cols))
	}
	row := make([]float64, len(vals))
	copy(row, vals)
	t.rows = append(t.rows, row)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Columns returns a copy of the column names.
func (t *Table) Columns() []string {
	out := make([]string, len(t.cols))
	copy(out, t.cols)
	return out
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Require returns ErrInvalidData naming the first missing column.
func (t *Table) Require(cols ...string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return fmt.Errorf("%w: missing column %q", ErrInvalidData, c)
		}
	}
	return nil
}

// Column returns a copy of a column's values, or nil if absent.
func (t *Table) Column(name string) []float64 {
	ci, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]float64, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[ci]
	}
	return out
}

// Value returns one cell. Missing columns read as NaN.
func (t *Table) Value(row int, name string) float64 {
	ci, ok := t.index[name]
	if !ok {
		return math.NaN()
	}
	return t.rows[row][ci]
}

// Row returns a copy of one row.
func (t *Table) Row(i int) []float64 {
	out := make([]float64, len(t.cols))
	copy(out, t.rows[i])
	return out
}

// WithColumn returns a copy of t with the named column set to values,
// appending the column if it is not present.
func (t *Table) WithColumn(name string, values []float64) (*Table, error) {
	if len(values) != len(t.rows) {
		return nil, fmt.Errorf("%w: column %q has %d values, table has %d rows", ErrInvalidData, name, len(values), len(t.rows))
	}
	cols := t.cols
	ci, ok := t.index[name]
	if !ok {
		cols = append(t.Columns(), name)
		ci = len(cols) - 1
	}
	out := NewTable(cols...)
	out.rows = make([][]float64, len(t.rows))
	for i, r := range t.rows {
		row := make([]float64, len(cols))
		copy(row, r)
		row[ci] = values[i]
		out.rows[i] = row
	}
	return out, nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := NewTable(t.cols...)
	out.rows = make([][]float64, len(t.rows))
	for i, r := range t.rows {
		out.rows[i] = append([]float64(nil), r...)
	}
	return out
}

// Equal reports whether both tables have the same columns in the same order
// and the same cells. NaN cells compare equal to each other.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.cols) != len(o.cols) || len(t.rows) != len(o.rows) {
		return false
	}
	for i := range t.cols {
		if t.cols[i] != o.cols[i] {
			return false
		}
	}
	for i := range t.rows {
		for j := range t.rows[i] {
			a, b := t.rows[i][j], o.rows[i][j]
			if a != b && !(math.IsNaN(a) && math.IsNaN(b)) {
				return false
			}
		}
	}
	return true
}

// FrameIndex returns the single frame value shared by every row in tcol.
func (t *Table) FrameIndex(tcol string) (int, error) {
	ci, ok := t.index[tcol]
	if !ok {
		return 0, fmt.Errorf("%w: missing column %q", ErrInvalidData, tcol)
	}
	if len(t.rows) == 0 {
		return 0, fmt.Errorf("%w: empty table has no frame index", ErrInvalidData)
	}
	first := t.rows[0][ci]
	for _, r := range t.rows[1:] {
		if r[ci] != first {
			return 0, fmt.Errorf("%w: mixed frame indices %v and %v", ErrInvalidData, first, r[ci])
		}
	}
	return toFrame(first)
}

// SplitByFrame groups rows by their tcol value, in ascending frame order.
func (t *Table) SplitByFrame(tcol string) ([]*Table, error) {
	ci, ok := t.index[tcol]
	if !ok {
		return nil, fmt.Errorf("%w: missing column %q", ErrInvalidData, tcol)
	}
	groups := make(map[int]*Table)
	for _, r := range t.rows {
		f, err := toFrame(r[ci])
		if err != nil {
			return nil, err
		}
		g, ok := groups[f]
		if !ok {
			g = NewTable(t.cols...)
			groups[f] = g
		}
		g.rows = append(g.rows, append([]float64(nil), r...))
	}
	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]*Table, len(keys))
	for i, k := range keys {
		out[i] = groups[k]
	}
	return out, nil
}

// Concat joins tables row-wise. The result has the union of all columns in
// first-seen order; cells of columns a table lacks are NaN.
func Concat(tables ...*Table) *Table {
	var cols []string
	seen := make(map[string]bool)
	for _, t := range tables {
		for _, c := range t.cols {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	out := NewTable(cols...)
	for _, t := range tables {
		for _, r := range t.rows {
			row := make([]float64, len(cols))
			for i, c := range cols {
				if ci, ok := t.index[c]; ok {
					row[i] = r[ci]
				} else {
					row[i] = math.NaN()
				}
			}
			out.rows = append(out.rows, row)
		}
	}
	return out
}

func toFrame(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: frame index %v is not an integer", ErrInvalidData, v)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: negative frame index %v", ErrInvalidData, v)
	}
	return int(v), nil
}
