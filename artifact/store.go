package artifact

import (
	"context"
	"sync"
)

// Store is the pluggable backing for the artifact registry. The default is
// in-memory; deployments needing durability plug in a persistent store.
type Store interface {
	Put(ctx context.Context, artifact *Artifact) error
	Get(ctx context.Context, id string) (*Artifact, bool, error)
	List(ctx context.Context) ([]*Artifact, error)
	// Delete removes an artifact. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the default in-process store. Artifacts are shared by
// pointer; their own locks serialize content updates.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]*Artifact)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, artifact *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.ID] = artifact
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Artifact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	return a, ok, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		out = append(out, a)
	}
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, id)
	return nil
}
