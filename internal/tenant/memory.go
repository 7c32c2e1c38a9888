package tenant

import (
	"context"
	"sync"
)

// MemorySnapshotRepository keeps the tenant snapshot in process memory. Used
// in development deployments without a durable store, and in tests.
type MemorySnapshotRepository struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewMemorySnapshotRepository creates an empty in-memory repository.
func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{}
}

func (m *MemorySnapshotRepository) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &snap
	return nil
}

func (m *MemorySnapshotRepository) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, ErrSnapshotNotFound
	}
	snap := *m.snap
	return &snap, nil
}
