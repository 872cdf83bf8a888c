package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"media-analysis-backend/internal/taskerr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveResult inserts result unless a row for the same task id already exists.
// It reports whether a new row was written, so a redelivered task leaves the
// first stored result untouched.
func SaveResult(ctx context.Context, db *gorm.DB, result *AnalysisResult) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "task_id"}}, DoNothing: true}).
		Create(result)
	if res.Error != nil {
		slog.Error("error saving analysis result", "task_id", result.TaskId, "error", res.Error)
		return false, taskerr.New(taskerr.Internal, "save result", res.Error)
	}
	if res.RowsAffected == 0 {
		slog.Warn("analysis result already stored, ignoring duplicate", "task_id", result.TaskId)
		return false, nil
	}
	return true, nil
}

// GetResult loads the result for taskId. Results of other owners are reported
// as not found.
func GetResult(ctx context.Context, db *gorm.DB, ownerId, taskId string) (*AnalysisResult, error) {
	var result AnalysisResult
	if err := db.WithContext(ctx).Where("task_id = ? AND owner_id = ?", taskId, ownerId).First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, taskerr.Errorf(taskerr.NotFound, "get result", "result for task %s not found", taskId)
		}
		slog.Error("error loading analysis result", "task_id", taskId, "error", err)
		return nil, taskerr.New(taskerr.Internal, "get result", fmt.Errorf("error loading result: %w", err))
	}
	return &result, nil
}

// ResultOwner returns the owner a result for taskId is stored under. The bool
// is false when no result exists for taskId.
func ResultOwner(ctx context.Context, db *gorm.DB, taskId string) (string, bool, error) {
	var result AnalysisResult
	err := db.WithContext(ctx).Select("owner_id").Where("task_id = ?", taskId).Take(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		slog.Error("error looking up result owner", "task_id", taskId, "error", err)
		return "", false, taskerr.New(taskerr.Internal, "result owner", fmt.Errorf("error loading result: %w", err))
	}
	return result.OwnerId, true, nil
}
