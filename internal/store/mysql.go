package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"richtext-ot/internal/tree"
)

// ErrNotFound is returned when no snapshot exists for a document.
var ErrNotFound = errors.New("snapshot not found")

// duplicateEntry is MySQL's error number for a unique key violation.
const duplicateEntry = 1062

// Snapshot is one persisted version of a document.
type Snapshot struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_document_version"`
	Version    int    `gorm:"not null;uniqueIndex:idx_document_version"`
	Content    string `gorm:"type:longtext;not null"`
	CreatedAt  time.Time
}

// InitMySQL opens the database and migrates the snapshot table.
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate snapshots: %w", err)
	}
	return db, nil
}

// SnapshotStore keeps document snapshots in MySQL.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore creates a store on an open database.
func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists doc as docID at version. Saving the same version twice is
// not an error.
func (s *SnapshotStore) Save(ctx context.Context, docID string, version int, doc *tree.Node) error {
	data, err := tree.Serialize(doc)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Create(&Snapshot{
		DocumentID: docID,
		Version:    version,
		Content:    string(data),
	}).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntry {
			return nil
		}
		return fmt.Errorf("failed to save snapshot %s@%d: %w", docID, version, err)
	}
	return nil
}

// Latest returns the newest snapshot of docID and its version.
func (s *SnapshotStore) Latest(ctx context.Context, docID string) (*tree.Node, int, error) {
	var snap Snapshot
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("version DESC").
		First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to load snapshot %s: %w", docID, err)
	}

	doc, err := tree.Deserialize([]byte(snap.Content))
	if err != nil {
		return nil, 0, err
	}
	return doc, snap.Version, nil
}
