package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	db, err := Open(&config.Environment{
		DatabaseType: config.DatabaseSQLite,
		DatabaseDSN:  fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open(&config.Environment{DatabaseType: "mongo"})
	assert.Error(t, err)
}

func TestStoreRetrieve(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore(openTestDB(t), AdviserResults)

	content := map[string]interface{}{
		"metadata": map[string]interface{}{"document_id": "adviser-abc"},
		"result":   map[string]interface{}{"report": []interface{}{"a", "b"}},
	}
	require.NoError(t, store.Store(ctx, "adviser-abc", content))

	retrieved, err := store.Retrieve(ctx, "adviser-abc")
	require.NoError(t, err)
	assert.Equal(t, content, retrieved)
}

func TestStoreReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore(openTestDB(t), BuildLogs)

	require.NoError(t, store.Store(ctx, "buildlog-1", map[string]interface{}{"log": "first"}))
	require.NoError(t, store.Store(ctx, "buildlog-1", map[string]interface{}{"log": "second"}))

	retrieved, err := store.Retrieve(ctx, "buildlog-1")
	require.NoError(t, err)
	assert.Equal(t, "second", retrieved["log"])
}

func TestRetrieveNotFound(t *testing.T) {
	store := NewDocumentStore(openTestDB(t), AnalysisResults)

	_, err := store.Retrieve(context.Background(), "package-extract-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByKind(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	analyses := NewDocumentStore(db, AnalysisResults)
	adviser := NewDocumentStore(db, AdviserResults)

	require.NoError(t, analyses.Store(ctx, "package-extract-b", map[string]interface{}{}))
	require.NoError(t, analyses.Store(ctx, "package-extract-a", map[string]interface{}{}))
	require.NoError(t, adviser.Store(ctx, "adviser-a", map[string]interface{}{}))

	ids, err := analyses.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"package-extract-a", "package-extract-b"}, ids)

	ids, err = NewDocumentStore(db, ProvenanceResults).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
