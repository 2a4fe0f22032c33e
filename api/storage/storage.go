// Package storage holds the result stores jobs report into and the database connection they
// share with the request caches.
package storage

import (
	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database selected by the environment and migrates the document schema.
func Open(env *config.Environment) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch env.DatabaseType {
	case config.DatabasePostgres:
		dialector = postgres.Open(env.DatabaseDSN)
	case config.DatabaseSQLite:
		dialector = sqlite.Open(env.DatabaseDSN)
	default:
		return nil, errors.Errorf("unsupported database type %q", env.DatabaseType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s database", env.DatabaseType)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the document table.
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&document{}), "failed to migrate document store")
}
