package store

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Heap is a shared set of named in-memory streams.  Opening the same name
// twice (or reopening a database through the same heap) observes prior
// writes, which makes Heap the storage of choice for tests and ephemeral
// databases.
type Heap struct {
	mu   sync.Mutex
	bufs map[string]*memStore
}

// NewHeap returns an empty heap.
func NewHeap() *Heap {
	return &Heap{bufs: make(map[string]*memStore)}
}

// Opener opens the named stream, creating it on first use.  The method
// value satisfies the Opener type.
func (h *Heap) Opener(name string) (Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.bufs[name]
	if !ok {
		m = &memStore{name: name}
		h.bufs[name] = m
	}
	return m, nil
}

type memStore struct {
	name string
	mu   sync.RWMutex
	buf  []byte
}

func (m *memStore) ReadAt(off uint64, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off+uint64(n) > uint64(len(m.buf)) {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "store: read %s @%d+%d of %d", m.name, off, n, len(m.buf))
	}
	out := make([]byte, n)
	copy(out, m.buf[off:])
	return out, nil
}

func (m *memStore) WriteAt(off uint64, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if end := off + uint64(len(p)); end > uint64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], p)
	return nil
}

func (m *memStore) Len() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.buf)), nil
}

func (m *memStore) Sync() error { return nil }

func (m *memStore) Close() error { return nil }
