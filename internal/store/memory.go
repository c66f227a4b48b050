package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend keeps records in process memory. History is lost on
// restart; used in tests and with STORE_DRIVER=memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	boards map[string][]Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		boards: make(map[string][]Record),
	}
}

func (m *MemoryBackend) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.boards[rec.BoardID]
	i := sort.Search(len(records), func(i int) bool { return records[i].Sequence >= rec.Sequence })
	if i < len(records) && records[i].Sequence == rec.Sequence {
		return fmt.Errorf("insert %s#%d: duplicate sequence", rec.BoardID, rec.Sequence)
	}

	// concurrent writers may finish out of order
	records = append(records, Record{})
	copy(records[i+1:], records[i:])
	rec.Event = rec.Event.Clone()
	records[i] = rec
	m.boards[rec.BoardID] = records
	return nil
}

func (m *MemoryBackend) OrderedSelect(_ context.Context, boardID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.boards[boardID]
	out := make([]Record, len(records))
	for i, rec := range records {
		rec.Event = rec.Event.Clone()
		out[i] = rec
	}
	return out, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
