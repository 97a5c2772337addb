package eventstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and for running the gateway
// without a configured Mongo backend. Writes are append-only and safe for
// concurrent use.
type MemoryStore struct {
	mu              sync.Mutex
	modelInferences []ModelInferenceRow
	inferences      []InferenceRow
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) WriteModelInference(ctx context.Context, row *ModelInferenceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelInferences = append(s.modelInferences, *row)
	return nil
}

func (s *MemoryStore) WriteInference(ctx context.Context, row *InferenceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inferences = append(s.inferences, *row)
	return nil
}

// ModelInferences returns a snapshot of every ModelInferenceRow written so
// far, in write order.
func (s *MemoryStore) ModelInferences() []ModelInferenceRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ModelInferenceRow, len(s.modelInferences))
	copy(out, s.modelInferences)
	return out
}

// Inferences returns a snapshot of every InferenceRow written so far, in
// write order.
func (s *MemoryStore) Inferences() []InferenceRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InferenceRow, len(s.inferences))
	copy(out, s.inferences)
	return out
}

// InferenceByID returns the first InferenceRow written for id, if any.
func (s *MemoryStore) InferenceByID(id string) (InferenceRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.inferences {
		if row.InferenceID == id {
			return row, true
		}
	}
	return InferenceRow{}, false
}
