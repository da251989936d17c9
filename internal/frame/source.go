package frame

// Source yields frame tables one at a time in frame order.
type Source interface {
	// Next advances to the next frame, returning false when exhausted or on error.
	Next() bool
	// Table returns the current frame's table.
	Table() *Table
	// Err returns the error that stopped iteration, if any.
	Err() error
}

// SliceSource is a Source over in-memory tables.
type SliceSource struct {
	tables []*Table
	pos    int
}

// NewSliceSource creates a Source yielding tables in the given order.
func NewSliceSource(tables ...*Table) *SliceSource {
	return &SliceSource{tables: tables, pos: -1}
}

func (s *SliceSource) Next() bool {
	if s.pos+1 >= len(s.tables) {
		s.pos = len(s.tables)
		return false
	}
	s.pos++
	return true
}

func (s *SliceSource) Table() *Table {
	if s.pos < 0 || s.pos >= len(s.tables) {
		return nil
	}
	return s.tables[s.pos]
}

func (s *SliceSource) Err() error {
	return nil
}
