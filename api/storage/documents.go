package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a document is not present in a store.
var ErrNotFound = errors.New("document not found")

// Kind names a family of documents sharing a store.
type Kind string

const (
	// AnalysisResults are written by image analysis jobs.
	AnalysisResults Kind = "analysis"
	// AdviserResults are written by adviser jobs.
	AdviserResults Kind = "adviser"
	// ProvenanceResults are written by provenance checker jobs.
	ProvenanceResults Kind = "provenance"
	// BuildAnalysisResults are written by build log analysis jobs.
	BuildAnalysisResults Kind = "build-analysis"
	// BuildLogs holds build logs submitted by users.
	BuildLogs Kind = "buildlog"
	// AnalysisByDigest maps image digests to the analysis scheduled for them.
	AnalysisByDigest Kind = "analysis-by-digest"
)

type document struct {
	Kind      string         `gorm:"primaryKey;size:64"`
	ID        string         `gorm:"primaryKey;size:255"`
	Content   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (document) TableName() string {
	return "documents"
}

// DocumentStore stores JSON documents of one kind keyed by identifier.
type DocumentStore interface {
	Store(ctx context.Context, id string, content interface{}) error
	Retrieve(ctx context.Context, id string) (map[string]interface{}, error)
	List(ctx context.Context) ([]string, error)
}

// SQLDocumentStore is a DocumentStore backed by the shared gorm database.
type SQLDocumentStore struct {
	db   *gorm.DB
	kind Kind
}

// NewDocumentStore creates a store for the given document kind.
func NewDocumentStore(db *gorm.DB, kind Kind) *SQLDocumentStore {
	return &SQLDocumentStore{db: db, kind: kind}
}

// Kind returns the kind of documents kept by the store.
func (s *SQLDocumentStore) Kind() Kind {
	return s.kind
}

// Store upserts a document, replacing any previous content under the same id.
func (s *SQLDocumentStore) Store(ctx context.Context, id string, content interface{}) error {
	serialized, err := json.Marshal(content)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %s document %s", s.kind, id)
	}
	doc := document{Kind: string(s.kind), ID: id, Content: datatypes.JSON(serialized)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(&doc).Error
	return errors.Wrapf(err, "failed to store %s document %s", s.kind, id)
}

// Retrieve returns the document stored under id, or ErrNotFound.
func (s *SQLDocumentStore) Retrieve(ctx context.Context, id string) (map[string]interface{}, error) {
	var doc document
	err := s.db.WithContext(ctx).Where("kind = ? AND id = ?", string(s.kind), id).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to retrieve %s document %s", s.kind, id)
	}

	content := map[string]interface{}{}
	if err := json.Unmarshal(doc.Content, &content); err != nil {
		return nil, errors.Wrapf(err, "malformed %s document %s", s.kind, id)
	}
	return content, nil
}

// List returns the identifiers of all stored documents in a stable order.
func (s *SQLDocumentStore) List(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := s.db.WithContext(ctx).Model(&document{}).
		Where("kind = ?", string(s.kind)).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s documents", s.kind)
	}
	return ids, nil
}
