package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// artifactRecord is the relational row shape for durable artifact backing.
// The artifact itself is stored as a JSON document; only the id is indexed.
type artifactRecord struct {
	ID        string `gorm:"primaryKey"`
	Payload   []byte
	UpdatedAt time.Time
}

func (artifactRecord) TableName() string {
	return "artifacts"
}

// GormStore is a durable Store backed by a gorm-managed database. It is the
// pluggable alternative to MemoryStore; artifacts are serialized per write
// and deserialized per read, so callers always receive private copies.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a durable store over an existing gorm handle and
// migrates the artifact table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store: db cannot be nil")
	}
	if err := db.AutoMigrate(&artifactRecord{}); err != nil {
		return nil, fmt.Errorf("gorm store: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewSQLiteStore opens a sqlite-backed store at the given DSN. Use
// ":memory:" for an ephemeral database.
func NewSQLiteStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("gorm store: open sqlite: %w", err)
	}
	return NewGormStore(db)
}

// Put implements Store.
func (s *GormStore) Put(ctx context.Context, artifact *Artifact) error {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("gorm store: encode artifact %s: %w", artifact.ID, err)
	}
	record := artifactRecord{
		ID:        artifact.ID,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Save(&record).Error
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, id string) (*Artifact, bool, error) {
	var record artifactRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var a Artifact
	if err := json.Unmarshal(record.Payload, &a); err != nil {
		return nil, false, fmt.Errorf("gorm store: decode artifact %s: %w", id, err)
	}
	return &a, true, nil
}

// List implements Store.
func (s *GormStore) List(ctx context.Context) ([]*Artifact, error) {
	var records []artifactRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]*Artifact, 0, len(records))
	for _, record := range records {
		var a Artifact
		if err := json.Unmarshal(record.Payload, &a); err != nil {
			return nil, fmt.Errorf("gorm store: decode artifact %s: %w", record.ID, err)
		}
		out = append(out, &a)
	}
	return out, nil
}

// Delete implements Store. Deleting an unknown id is a no-op.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&artifactRecord{}, "id = ?", id).Error
}
