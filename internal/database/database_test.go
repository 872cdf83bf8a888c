package database_test

import (
	"context"
	"media-analysis-backend/internal/database"
	"media-analysis-backend/internal/taskerr"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := database.NewSqliteDatabase("file::memory:")
	require.NoError(t, err)
	return db
}

func fptr(v float64) *float64 {
	return &v
}

func TestSaveResultIsIdempotent(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	first := &database.AnalysisResult{
		TaskId:            "task-1",
		OwnerId:           "owner-1",
		Verdict:           "FAKE",
		TemporalDeltaMean: fptr(0.02),
		BaselineTargetFps: 30,
		CreationTime:      time.Now().UTC(),
	}
	created, err := database.SaveResult(ctx, db, first)
	require.NoError(t, err)
	assert.True(t, created)

	duplicate := &database.AnalysisResult{
		TaskId:            "task-1",
		OwnerId:           "owner-1",
		Verdict:           "REAL",
		BaselineTargetFps: 60,
		CreationTime:      time.Now().UTC(),
	}
	created, err = database.SaveResult(ctx, db, duplicate)
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	require.NoError(t, db.Model(&database.AnalysisResult{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := database.GetResult(ctx, db, "owner-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "FAKE", stored.Verdict)
	assert.Equal(t, 30.0, stored.BaselineTargetFps)
	require.NotNil(t, stored.TemporalDeltaMean)
	assert.Equal(t, 0.02, *stored.TemporalDeltaMean)
}

func TestGetResultIsOwnerScoped(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := database.SaveResult(ctx, db, &database.AnalysisResult{
		TaskId:       "task-2",
		OwnerId:      "owner-1",
		Verdict:      "REAL",
		CreationTime: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = database.GetResult(ctx, db, "owner-2", "task-2")
	assert.True(t, taskerr.Is(err, taskerr.NotFound))

	_, err = database.GetResult(ctx, db, "owner-1", "missing")
	assert.True(t, taskerr.Is(err, taskerr.NotFound))
}

func TestResultOwner(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, found, err := database.ResultOwner(ctx, db, "task-3")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = database.SaveResult(ctx, db, &database.AnalysisResult{
		TaskId:       "task-3",
		OwnerId:      "owner-1",
		Verdict:      "FAKE",
		CreationTime: time.Now().UTC(),
	})
	require.NoError(t, err)

	owner, found, err := database.ResultOwner(ctx, db, "task-3")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "owner-1", owner)
}
