package store

import (
	"errors"
	"fmt"

	"github.com/freeeve/framestore/internal/frame"
)

// Iterator walks a snapshot of a store's frame keys in ascending order,
// loading each table only when it is reached. Frames deleted after the
// snapshot are skipped. It implements frame.Source.
type Iterator struct {
	frames []int
	pos    int
	load   func(idx int) (*frame.Table, error)

	cur    *frame.Table
	curIdx int
	err    error
}

func newIterator(frames []int, load func(idx int) (*frame.Table, error)) *Iterator {
	return &Iterator{frames: frames, load: load, curIdx: NoFrame}
}

// Next loads the next frame. It returns false when exhausted or on error.
func (it *Iterator) Next() bool {
	for it.err == nil && it.pos < len(it.frames) {
		idx := it.frames[it.pos]
		it.pos++
		t, err := it.load(idx)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			it.err = fmt.Errorf("iterate frame %d: %w", idx, err)
			break
		}
		it.cur, it.curIdx = t, idx
		return true
	}
	it.cur, it.curIdx = nil, NoFrame
	return false
}

// Frame returns the current frame index.
func (it *Iterator) Frame() int {
	return it.curIdx
}

// Table returns the current frame's table.
func (it *Iterator) Table() *frame.Table {
	return it.cur
}

// Err returns the error that stopped iteration.
func (it *Iterator) Err() error {
	return it.err
}

// Remaining returns the number of snapshot keys not yet visited.
func (it *Iterator) Remaining() int {
	return len(it.frames) - it.pos
}

// prepareTable resolves the frame index of t and returns the copy to store.
func prepareTable(tcol string, t *frame.Table, idx int, explicit bool) (int, *frame.Table, error) {
	if t == nil {
		return 0, nil, fmt.Errorf("%w: nil table", ErrInvalidData)
	}
	if explicit {
		if err := checkIndex(idx); err != nil {
			return 0, nil, err
		}
	}

	if !t.HasColumn(tcol) {
		if !explicit {
			return 0, nil, fmt.Errorf("%w: missing column %q and no frame index given", ErrInvalidData, tcol)
		}
		fill := make([]float64, t.Len())
		for i := range fill {
			fill[i] = float64(idx)
		}
		out, err := t.WithColumn(tcol, fill)
		return idx, out, err
	}

	if t.Len() == 0 {
		if !explicit {
			return 0, nil, fmt.Errorf("%w: empty table and no frame index given", ErrInvalidData)
		}
		return idx, t.Clone(), nil
	}

	f, err := t.FrameIndex(tcol)
	if err != nil {
		return 0, nil, err
	}
	if err := checkIndex(f); err != nil {
		return 0, nil, err
	}
	if explicit && f != idx {
		return 0, nil, fmt.Errorf("%w: table is frame %d, put as frame %d", ErrInvalidData, f, idx)
	}
	return f, t.Clone(), nil
}

func checkIndex(idx int) error {
	if idx < 0 || int64(idx) > MaxFrameIndex {
		return fmt.Errorf("%w: frame index %d out of range", ErrInvalidData, idx)
	}
	return nil
}

// dump concatenates the first n frames of it (all when n <= 0).
func dump(it *Iterator, n int) (*frame.Table, error) {
	var tables []*frame.Table
	for (n <= 0 || len(tables) < n) && it.Next() {
		tables = append(tables, it.Table())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return frame.Concat(tables...), nil
}
