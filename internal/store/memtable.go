package store

import (
	"sort"
	"sync"

	"github.com/freeeve/framestore/internal/frame"
)

// pendingFrame is a buffered write: a table to store, or a deletion when
// table is nil.
type pendingFrame struct {
	table *frame.Table
	size  int64
}

// Memtable is an in-memory buffer of frame writes awaiting flush.
type Memtable struct {
	mu      sync.RWMutex
	entries map[int]pendingFrame
	bytes   int64
}

// NewMemtable creates a new memtable
func NewMemtable() *Memtable {
	return &Memtable{
		entries: make(map[int]pendingFrame),
	}
}

// Put buffers a table for a frame, replacing any earlier pending write.
func (m *Memtable) Put(idx int, t *frame.Table) {
	m.set(idx, pendingFrame{table: t, size: estimateSize(t)})
}

// Delete buffers a deletion for a frame.
func (m *Memtable) Delete(idx int) {
	m.set(idx, pendingFrame{size: recordHeaderSize})
}

func (m *Memtable) set(idx int, e pendingFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[idx]; ok {
		m.bytes -= old.size
	}
	m.entries[idx] = e
	m.bytes += e.size
}

// Get returns the pending write for a frame. deleted is true when the
// pending write is a deletion; ok is false when nothing is pending.
func (m *Memtable) Get(idx int) (t *frame.Table, deleted, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[idx]
	if !ok {
		return nil, false, false
	}
	return e.table, e.table == nil, true
}

// Size returns the estimated uncompressed size of pending writes in bytes
func (m *Memtable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

// Count returns the number of pending frames
func (m *Memtable) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// memRecord is a drained memtable entry.
type memRecord struct {
	frame int
	table *frame.Table // nil for a deletion
}

// Flush returns all pending writes sorted by frame and clears the memtable
func (m *Memtable) Flush() []memRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return nil
	}

	result := make([]memRecord, 0, len(m.entries))
	for idx, e := range m.entries {
		result = append(result, memRecord{frame: idx, table: e.table})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].frame < result[j].frame
	})

	m.entries = make(map[int]pendingFrame)
	m.bytes = 0

	return result
}

// estimateSize approximates the encoded size of a table block.
func estimateSize(t *frame.Table) int64 {
	cols := t.Columns()
	size := int64(recordHeaderSize + 10 + len(cols)*t.Len()*8)
	for _, c := range cols {
		size += int64(2 + len(c))
	}
	return size
}
