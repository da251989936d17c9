package store

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/freeeve/framestore/internal/frame"
)

// MemStore keeps all frames in memory. Nothing is persisted.
type MemStore struct {
	mu     sync.RWMutex
	tcol   string
	tables map[int]*frame.Table
	keys   *roaring.Bitmap
	closed bool
	stats  *StatsCollector
}

// NewMemStore creates an empty in-memory store. An empty tcol selects
// frame.ColFrame.
func NewMemStore(tcol string) *MemStore {
	if tcol == "" {
		tcol = frame.ColFrame
	}
	return &MemStore{
		tcol:   tcol,
		tables: make(map[int]*frame.Table),
		keys:   roaring.New(),
		stats:  NewStatsCollector(),
	}
}

func (s *MemStore) Put(t *frame.Table) error {
	return s.put(0, t, false)
}

func (s *MemStore) PutFrame(idx int, t *frame.Table) error {
	return s.put(idx, t, true)
}

func (s *MemStore) put(idx int, t *frame.Table, explicit bool) error {
	idx, stored, err := prepareTable(s.tcol, t, idx, explicit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.stats.IncrementWrites()
	s.tables[idx] = stored
	s.keys.Add(uint32(idx))
	return nil
}

func (s *MemStore) Get(idx int) (*frame.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.stats.IncrementReads()
	t, ok := s.tables[idx]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemStore) Delete(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tables[idx]; !ok {
		return ErrNotFound
	}
	s.stats.IncrementDeletes()
	delete(s.tables, idx)
	s.keys.Remove(uint32(idx))
	return nil
}

func (s *MemStore) Frames() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return bitmapFrames(s.keys), nil
}

func (s *MemStore) Iterator() (*Iterator, error) {
	frames, err := s.Frames()
	if err != nil {
		return nil, err
	}
	return newIterator(frames, s.Get), nil
}

func (s *MemStore) MaxFrame() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return NoFrame, ErrClosed
	}
	return bitmapMax(s.keys), nil
}

func (s *MemStore) TColumn() string {
	return s.tcol
}

func (s *MemStore) Dump(n int) (*frame.Table, error) {
	it, err := s.Iterator()
	if err != nil {
		return nil, err
	}
	return dump(it, n)
}

// Flush is a no-op; it only checks the handle is open.
func (s *MemStore) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats.Stats()
	st.Frames = int(s.keys.GetCardinality())
	return st
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.tables = nil
	s.keys.Clear()
	return nil
}

func bitmapFrames(rb *roaring.Bitmap) []int {
	arr := rb.ToArray()
	out := make([]int, len(arr))
	for i, v := range arr {
		out[i] = int(v)
	}
	return out
}

func bitmapMax(rb *roaring.Bitmap) int {
	if rb.IsEmpty() {
		return NoFrame
	}
	return int(rb.Maximum())
}
