package checkpoint

import (
	"context"
	"sync/atomic"

	"github.com/BaSui01/nodeflow/workflow"
)

// MemoryStore adds a lifecycle to workflow.MemoryCheckpointStore.
type MemoryStore struct {
	*workflow.MemoryCheckpointStore
	closed atomic.Bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{MemoryCheckpointStore: workflow.NewMemoryCheckpointStore()}
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}
