package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

type AnalysisResult struct {
	SpeedPassed *bool
}

const ownerCreatedIndex = "idx_results_owner_created"

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&AnalysisResult{}, "SpeedPassed"); err != nil {
		return fmt.Errorf("error adding SpeedPassed column: %w", err)
	}

	if err := db.Exec("CREATE INDEX IF NOT EXISTS " + ownerCreatedIndex + " ON analysis_results (owner_id, creation_time)").Error; err != nil {
		return fmt.Errorf("error creating owner/creation index: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Exec("DROP INDEX IF EXISTS " + ownerCreatedIndex).Error; err != nil {
		return fmt.Errorf("error dropping owner/creation index: %w", err)
	}

	if err := db.Migrator().DropColumn(&AnalysisResult{}, "SpeedPassed"); err != nil {
		return fmt.Errorf("error dropping SpeedPassed column: %w", err)
	}

	return nil
}
