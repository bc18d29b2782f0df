// Package artifact provides versioned, expirable named content objects
// produced and consumed by agents, with a manager registry over a pluggable
// store.
package artifact

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentmesh/types"
)

// Metadata describes an artifact for discovery and attribution.
type Metadata struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
	Tags        []string  `json:"tags,omitempty"`
}

// Version is an append-only snapshot of artifact state at checkpoint time.
type Version struct {
	Version     string    `json:"version"`
	Content     any       `json:"content"`
	Author      string    `json:"author"`
	ChangeNotes string    `json:"change_notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Artifact is a versioned named content object. Writes are serialized by a
// per-artifact lock; readers observe either the pre- or post-update state,
// never a torn one. Access content and versions through the accessor methods.
type Artifact struct {
	ID             string     `json:"id"`
	Content        any        `json:"content"`
	Metadata       Metadata   `json:"metadata"`
	CurrentVersion string     `json:"current_version"`
	Versions       []Version  `json:"versions"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	mu sync.RWMutex
}

// initialVersion is the version assigned at creation time.
const initialVersion = "1.0.0"

// Option configures artifact creation.
type Option func(*Artifact)

// WithID overrides the generated artifact id.
func WithID(id string) Option {
	return func(a *Artifact) { a.ID = id }
}

// WithExpiresAt sets an absolute expiry instant.
func WithExpiresAt(at time.Time) Option {
	return func(a *Artifact) { a.ExpiresAt = &at }
}

// WithTags sets the discovery tags.
func WithTags(tags ...string) Option {
	return func(a *Artifact) { a.Metadata.Tags = tags }
}

// New creates an artifact at version 1.0.0 with an empty version history.
func New(title, author string, content any, opts ...Option) *Artifact {
	a := &Artifact{
		ID:      uuid.New().String(),
		Content: content,
		Metadata: Metadata{
			Title:     title,
			Author:    author,
			CreatedAt: time.Now().UTC(),
		},
		CurrentVersion: initialVersion,
		Versions:       make([]Version, 0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IsExpired reports whether the artifact is past its expiry at the clock's
// current instant. Artifacts without expiry never expire.
func (a *Artifact) IsExpired(clock types.Clock) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ExpiresAt == nil {
		return false
	}
	return clock.Now().After(*a.ExpiresAt)
}

// CreateNewVersion appends a snapshot of the current content and version to
// the history. It is the explicit checkpoint operation and does not change
// the content itself.
func (a *Artifact) CreateNewVersion(author, changeNotes string) Version {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(author, changeNotes)
}

// UpdateOption configures a content update.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	major bool
}

// WithMajorBump requests a major instead of a minor version increment.
func WithMajorBump() UpdateOption {
	return func(o *updateOptions) { o.major = true }
}

// UpdateContent atomically snapshots the prior state into the version
// history, replaces the content, and bumps the version (minor by default,
// major on request).
func (a *Artifact) UpdateContent(newContent any, author, changeNotes string, opts ...UpdateOption) Version {
	options := &updateOptions{}
	for _, opt := range opts {
		opt(options)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := a.snapshotLocked(author, changeNotes)
	a.Content = newContent
	a.CurrentVersion = bumpVersion(a.CurrentVersion, options.major)
	return snapshot
}

func (a *Artifact) snapshotLocked(author, changeNotes string) Version {
	v := Version{
		Version:     a.CurrentVersion,
		Content:     a.Content,
		Author:      author,
		ChangeNotes: changeNotes,
		CreatedAt:   time.Now().UTC(),
	}
	a.Versions = append(a.Versions, v)
	return v
}

// GetContent returns the current content and version atomically.
func (a *Artifact) GetContent() (any, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Content, a.CurrentVersion
}

// VersionCount returns the number of recorded snapshots.
func (a *Artifact) VersionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.Versions)
}

// History returns a copy of the version history in append order.
func (a *Artifact) History() []Version {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Version(nil), a.Versions...)
}

// HasTag reports whether the artifact carries the given discovery tag.
func (a *Artifact) HasTag(tag string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, t := range a.Metadata.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate returns the list of invariant violations; empty means valid.
func (a *Artifact) Validate() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var violations []string
	if a.ID == "" {
		violations = append(violations, "artifact id must not be empty")
	}
	if a.CurrentVersion == "" {
		violations = append(violations, "current version must not be empty")
	}
	if _, _, _, err := parseVersion(a.CurrentVersion); err != nil {
		violations = append(violations, fmt.Sprintf("invalid semantic version: %q", a.CurrentVersion))
	}
	return violations
}

// bumpVersion increments a semantic version string. Unparseable versions
// restart at the initial version rather than failing the update.
func bumpVersion(v string, major bool) string {
	maj, min, _, err := parseVersion(v)
	if err != nil {
		return initialVersion
	}
	if major {
		return fmt.Sprintf("%d.0.0", maj+1)
	}
	return fmt.Sprintf("%d.%d.0", maj, min+1)
}

func parseVersion(v string) (major, minor, patch int, err error) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("malformed version %q", v)
	}
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, err
	}
	if minor, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, err
	}
	if patch, err = strconv.Atoi(parts[2]); err != nil {
		return 0, 0, 0, err
	}
	return major, minor, patch, nil
}
