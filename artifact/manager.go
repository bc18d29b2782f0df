package artifact

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// Manager is the artifact registry. It enforces single-writer-per-update
// semantics through per-artifact locks and refuses content updates on
// expired artifacts while still allowing reads.
type Manager struct {
	store  Store
	clock  types.Clock
	logger *zap.Logger

	// locks serializes manager-level updates per artifact id, covering
	// stores that return copies rather than shared pointers.
	locks sync.Map // string -> *sync.Mutex

	cleanupMu sync.Mutex
}

// NewManager creates an artifact manager over the given store. A nil store
// defaults to in-memory; a nil clock defaults to the system clock.
func NewManager(store Store, clock types.Clock, logger *zap.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		clock:  clock,
		logger: logger.With(zap.String("component", "artifact_manager")),
	}
}

// Register adds an artifact to the registry. The artifact must be
// well-formed.
func (m *Manager) Register(ctx context.Context, a *Artifact) error {
	if a == nil {
		return types.NewError(types.ErrValidation, "artifact must not be nil")
	}
	if violations := a.Validate(); len(violations) > 0 {
		return types.NewError(types.ErrValidation, violations[0])
	}

	if err := m.store.Put(ctx, a); err != nil {
		return fmt.Errorf("register artifact %s: %w", a.ID, err)
	}

	m.logger.Info("artifact registered",
		zap.String("id", a.ID),
		zap.String("title", a.Metadata.Title),
		zap.String("version", a.CurrentVersion),
	)
	return nil
}

// Get retrieves an artifact by id. Unknown ids fail with NOT_FOUND. Expired
// artifacts remain readable.
func (m *Manager) Get(ctx context.Context, id string) (*Artifact, error) {
	a, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", id, err)
	}
	if !ok {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("artifact not found: %s", id))
	}
	return a, nil
}

// List returns registered artifacts, optionally filtered by tag. An empty
// tag matches everything.
func (m *Manager) List(ctx context.Context, tag string) ([]*Artifact, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	if tag == "" {
		return all, nil
	}
	filtered := make([]*Artifact, 0, len(all))
	for _, a := range all {
		if a.HasTag(tag) {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// Delete removes an artifact. Deleting an unknown id is a no-op, not an
// error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	m.logger.Info("artifact deleted", zap.String("id", id))
	return nil
}

// UpdateContent updates an artifact's content through the registry:
// snapshot, replace, version bump, and write-back, serialized per artifact.
// Updates to expired artifacts fail with ARTIFACT_EXPIRED.
func (m *Manager) UpdateContent(ctx context.Context, id string, newContent any, author, changeNotes string, opts ...UpdateOption) (*Artifact, error) {
	lock := m.artifactLock(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.IsExpired(m.clock) {
		return nil, types.NewError(types.ErrArtifactExpired,
			fmt.Sprintf("artifact expired: %s", id))
	}

	a.UpdateContent(newContent, author, changeNotes, opts...)

	if err := m.store.Put(ctx, a); err != nil {
		return nil, fmt.Errorf("persist artifact %s: %w", id, err)
	}

	m.logger.Debug("artifact content updated",
		zap.String("id", id),
		zap.String("version", a.CurrentVersion),
		zap.String("author", author),
	)
	return a, nil
}

// Checkpoint records an explicit version snapshot for an artifact without
// changing its content. Checkpointing an expired artifact fails with
// ARTIFACT_EXPIRED.
func (m *Manager) Checkpoint(ctx context.Context, id, author, changeNotes string) (*Artifact, error) {
	lock := m.artifactLock(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.IsExpired(m.clock) {
		return nil, types.NewError(types.ErrArtifactExpired,
			fmt.Sprintf("artifact expired: %s", id))
	}

	a.CreateNewVersion(author, changeNotes)

	if err := m.store.Put(ctx, a); err != nil {
		return nil, fmt.Errorf("persist artifact %s: %w", id, err)
	}
	return a, nil
}

// Cleanup removes expired artifacts and returns how many were deleted.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	all, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup artifacts: %w", err)
	}

	deleted := 0
	for _, a := range all {
		if !a.IsExpired(m.clock) {
			continue
		}
		if err := m.store.Delete(ctx, a.ID); err != nil {
			m.logger.Warn("failed to delete expired artifact",
				zap.String("id", a.ID),
				zap.Error(err),
			)
			continue
		}
		deleted++
	}

	m.logger.Info("artifact cleanup completed", zap.Int("deleted", deleted))
	return deleted, nil
}

func (m *Manager) artifactLock(id string) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
