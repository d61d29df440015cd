package vectorindex

import (
	"context"
	"sync"
)

// MemoryIndex is an in-memory Index for tests and for deployments without a
// vector store configured.
type MemoryIndex struct {
	mu       sync.Mutex
	payloads map[string]map[string]any

	// FailNext, when set, makes the next update return an error. Used to
	// exercise mirror-failure tolerance in lifecycle tests.
	FailNext error
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{payloads: make(map[string]map[string]any)}
}

func (m *MemoryIndex) UpdatePayload(ctx context.Context, memoryID string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}

	existing, ok := m.payloads[memoryID]
	if !ok {
		existing = make(map[string]any)
		m.payloads[memoryID] = existing
	}
	for k, v := range payload {
		existing[k] = v
	}
	return nil
}

// Payload returns a copy of the stored payload for a point.
func (m *MemoryIndex) Payload(memoryID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.payloads[memoryID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (m *MemoryIndex) Close() error { return nil }
