package store

import (
	"errors"
	"fmt"

	"github.com/freeeve/framestore/internal/frame"
)

// ErrNotFound is returned when a frame is not in the store.
var ErrNotFound = errors.New("frame not found")

// ErrInvalidData is returned for tables with mixed or missing frame indices
// or missing required columns.
var ErrInvalidData = frame.ErrInvalidData

// ErrIO wraps failures of the underlying storage.
var ErrIO = errors.New("storage i/o failure")

// ErrClosed is returned when a closed store is used or closed again.
var ErrClosed = errors.New("store is closed")

// NoFrame is the MaxFrame of an empty store.
const NoFrame = -1

// MaxFrameIndex is the largest frame index a store accepts.
const MaxFrameIndex int64 = 1<<32 - 1

// Stats holds statistics about a store.
type Stats struct {
	TotalReads   uint64
	TotalWrites  uint64
	TotalDeletes uint64
	Flushes      uint64

	Frames        int
	PendingFrames int
	PendingBytes  int64

	// File-backed stores only
	FileBytes int64
	DeadBytes int64

	CacheHits   uint64
	CacheMisses uint64
}

// FramewiseStore maps frame indices to feature tables.
//
// A store handle is not safe for concurrent writers; callers serialise
// Put/PutFrame/Delete. Reads may run alongside a background flusher.
type FramewiseStore interface {
	// Put stores or replaces the table of the frame named by its time column.
	Put(t *frame.Table) error
	// PutFrame stores or replaces the table of frame idx. If the table carries
	// the time column it must agree with idx; otherwise the column is added.
	PutFrame(idx int, t *frame.Table) error
	// Get returns the table of frame idx, or ErrNotFound.
	Get(idx int) (*frame.Table, error)
	// Delete removes frame idx, or returns ErrNotFound.
	Delete(idx int) error
	// Frames returns the present frame indices in ascending order.
	Frames() ([]int, error)
	// Iterator returns a lazy ascending iterator starting at the first frame.
	Iterator() (*Iterator, error)
	// MaxFrame returns the highest frame index, or NoFrame when empty.
	MaxFrame() (int, error)
	// TColumn returns the name of the time (frame) column.
	TColumn() string
	// Dump concatenates the first n frames, or all frames when n <= 0.
	// The result is held in memory in full; avoid on large stores.
	Dump(n int) (*frame.Table, error)
	// Flush persists pending writes.
	Flush() error
	// Stats returns current store statistics.
	Stats() Stats
	// Close flushes pending writes and releases the store.
	Close() error
}

// With opens a store, runs fn with it and always closes it, also when fn
// fails or panics. Errors from fn and Close are joined.
func With(open func() (FramewiseStore, error), fn func(FramewiseStore) error) (err error) {
	s, err := open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(s)
}

// ioError wraps an OS error so that both errors.Is(err, ErrIO) and the
// original error match.
func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

