package archive

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryArchive keeps objects in memory. It is meant for tests.
type MemoryArchive struct {
	mu      sync.RWMutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		objects: make(map[string][]byte),
		meta:    make(map[string]map[string]string),
	}
}

func (m *MemoryArchive) Put(ctx context.Context, name string, r io.Reader, size int64, meta map[string]string) error {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return io.ErrUnexpectedEOF
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	m.meta[name] = meta
	return nil
}

func (m *MemoryArchive) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Meta returns the metadata stored with name.
func (m *MemoryArchive) Meta(name string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta[name]
}

func (m *MemoryArchive) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryArchive) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	delete(m.meta, name)
	return nil
}
