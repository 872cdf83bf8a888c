package database

import (
	"log/slog"
	"media-analysis-backend/internal/database/versions/migration_0"
	"media-analysis-backend/internal/database/versions/migration_1"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID:      "0",
			Migrate: migration_0.Migration,
		},
		{
			ID:       "1",
			Migrate:  migration_1.Migration,
			Rollback: migration_1.Rollback,
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Runs instead of the migration list when no previous migration is
		// recorded, creating the latest schema directly.
		slog.Info("clean database detected, running full schema initialization")

		return txn.AutoMigrate(&AnalysisResult{})
	})

	return migrator
}
