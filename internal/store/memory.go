package store

import (
	"context"
	"sync"
)

// Operation names accepted by the memory stores' FailOn.
const (
	OpPut     = "put"
	OpGet     = "get"
	OpDelete  = "delete"
	OpSaveAll = "save"
	OpLoadAll = "load"
)

// MemoryBlobStore is a map-backed BlobStore for tests and ephemeral runs.
// Failures can be injected per operation.
type MemoryBlobStore struct {
	mu       sync.RWMutex
	items    map[string][]byte
	failures map[string]error
	stats    MemoryStats
}

// MemoryStats counts calls made against a memory store.
type MemoryStats struct {
	Puts    int
	Gets    int
	Deletes int
}

// NewMemoryBlobStore creates an empty memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		items:    make(map[string][]byte),
		failures: make(map[string]error),
	}
}

// FailOn makes every subsequent op return err. A nil err clears the failure.
func (m *MemoryBlobStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Put stores a copy of data under id.
func (m *MemoryBlobStore) Put(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Puts++
	if err := m.failures[OpPut]; err != nil {
		return err
	}
	m.items[id] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the blob stored under id.
func (m *MemoryBlobStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if id == "" {
		return nil, false, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Gets++
	if err := m.failures[OpGet]; err != nil {
		return nil, false, err
	}
	data, ok := m.items[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Delete removes the blob stored under id.
func (m *MemoryBlobStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Deletes++
	if err := m.failures[OpDelete]; err != nil {
		return err
	}
	delete(m.items, id)
	return nil
}

// Contains reports whether id is stored, without counting as a Get.
func (m *MemoryBlobStore) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.items[id]
	return ok
}

// Len returns the number of stored blobs.
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}

// Stats returns call counters.
func (m *MemoryBlobStore) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats
}

// Close is a no-op.
func (m *MemoryBlobStore) Close() error {
	return nil
}

// MemoryMetadataStore is an in-memory MetadataStore that also records every
// snapshot it was asked to save.
type MemoryMetadataStore struct {
	mu       sync.Mutex
	current  []Record
	saved    bool
	saves    [][]Record
	failures map[string]error
}

// NewMemoryMetadataStore creates an empty memory metadata store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{failures: make(map[string]error)}
}

// FailOn makes every subsequent op return err. A nil err clears the failure.
func (m *MemoryMetadataStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Seed sets the stored snapshot without recording a save.
func (m *MemoryMetadataStore) Seed(records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = append([]Record(nil), records...)
	m.saved = true
}

// SaveAll replaces the stored snapshot.
func (m *MemoryMetadataStore) SaveAll(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[OpSaveAll]; err != nil {
		return err
	}
	snapshot := append([]Record(nil), records...)
	m.current = snapshot
	m.saved = true
	m.saves = append(m.saves, snapshot)
	return nil
}

// LoadAll returns a copy of the stored snapshot.
func (m *MemoryMetadataStore) LoadAll(ctx context.Context) ([]Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[OpLoadAll]; err != nil {
		return nil, false, err
	}
	if !m.saved {
		return nil, false, nil
	}
	return append([]Record(nil), m.current...), true, nil
}

// Saves returns every snapshot passed to SaveAll, oldest first.
func (m *MemoryMetadataStore) Saves() [][]Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([][]Record(nil), m.saves...)
}

// Close is a no-op.
func (m *MemoryMetadataStore) Close() error {
	return nil
}
