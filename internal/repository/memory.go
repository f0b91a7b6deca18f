package repository

import (
	"context"
	"sort"
	"sync"

	"flowatlas/internal/domain"
)

// Memory is an in-process Repository for tests and ephemeral runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]domain.TopologyRecord
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]domain.TopologyRecord)}
}

func (m *Memory) GetTopology(_ context.Context, appCode string) (*domain.TopologyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[appCode]
	if !ok {
		return nil, nil
	}
	copied := cloneRecord(rec)
	return &copied, nil
}

func (m *Memory) ListTopologies(_ context.Context) ([]domain.TopologyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.TopologyRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppCode < out[j].AppCode })
	return out, nil
}

func (m *Memory) UpsertTopology(_ context.Context, rec *domain.TopologyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.AppCode] = cloneRecord(*rec)
	return nil
}

func (m *Memory) DeleteTopology(_ context.Context, appCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, appCode)
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]domain.TopologyRecord)
	return nil
}

func (m *Memory) Close() error { return nil }

// cloneRecord copies the record's slices so callers cannot mutate stored
// state through a returned pointer.
func cloneRecord(rec domain.TopologyRecord) domain.TopologyRecord {
	copied := rec
	copied.Dependencies = append([]domain.Dependency(nil), rec.Dependencies...)
	copied.Characteristics = append([]string(nil), rec.Characteristics...)
	return copied
}
