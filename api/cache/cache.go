// Package cache maps request fingerprints to the job handles scheduled for them.
package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCacheMiss is returned by Get when no record exists for a key. A record that exists but is
// stale is still returned; freshness is decided by the caller through Record.Fresh.
var ErrCacheMiss = errors.New("cache miss")

// Names of the request caches.
const (
	Analyses      = "analyses"
	Adviser       = "adviser"
	Provenance    = "provenance"
	BuildAnalyses = "build-analyses"
)

// Record is the value stored for a fingerprint.
type Record struct {
	AnalysisID string `json:"analysis_id"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// NewRecord creates a record for the given job handle stamped with now.
func NewRecord(analysisID string, now time.Time) Record {
	return Record{AnalysisID: analysisID, Timestamp: now.Unix()}
}

// Fresh reports whether the record is still usable at now. A zero ttl never expires.
func (r Record) Fresh(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return true
	}
	return time.Unix(r.Timestamp, 0).Add(ttl).After(now)
}

// Store is a key/value store of cache records with last-write-wins semantics.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, record Record) error
	// Evict removes the record under key only when it still refers to analysisID.
	Evict(ctx context.Context, key string, analysisID string) (bool, error)
}

type entry struct {
	Cache      string `gorm:"primaryKey;size:64"`
	CacheKey   string `gorm:"primaryKey;size:255"`
	AnalysisID string `gorm:"not null;size:255"`
	RecordedAt int64
}

func (entry) TableName() string {
	return "cache_records"
}

// Migrate creates or updates the cache record table.
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&entry{}), "failed to migrate cache store")
}

// SQLStore is a Store persisted through gorm. Every named cache shares one table.
type SQLStore struct {
	db   *gorm.DB
	name string
}

// NewSQLStore creates a store for the named cache.
func NewSQLStore(db *gorm.DB, name string) *SQLStore {
	return &SQLStore{db: db, name: name}
}

// Name returns the cache name.
func (s *SQLStore) Name() string {
	return s.name
}

// Get returns the record stored under key, or ErrCacheMiss.
func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	var e entry
	err := s.db.WithContext(ctx).Where("cache = ? AND cache_key = ?", s.name, key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s cache", s.name)
	}
	return &Record{AnalysisID: e.AnalysisID, Timestamp: e.RecordedAt}, nil
}

// Put upserts the record under key.
func (s *SQLStore) Put(ctx context.Context, key string, record Record) error {
	e := entry{Cache: s.name, CacheKey: key, AnalysisID: record.AnalysisID, RecordedAt: record.Timestamp}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache"}, {Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"analysis_id", "recorded_at"}),
	}).Create(&e).Error
	return errors.Wrapf(err, "failed to write %s cache", s.name)
}

// Evict removes the record under key when it still holds analysisID.
func (s *SQLStore) Evict(ctx context.Context, key string, analysisID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("cache = ? AND cache_key = ? AND analysis_id = ?", s.name, key, analysisID).
		Delete(&entry{})
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "failed to evict from %s cache", s.name)
	}
	return result.RowsAffected > 0, nil
}
