package integrationtests

import (
	"context"
	"media-analysis-backend/internal/database"
	"media-analysis-backend/internal/taskerr"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestPostgresResults(t *testing.T) {
	skipIfShort(t)

	db := createDB(t)
	ctx := context.Background()

	passed := true
	result := &database.AnalysisResult{
		TaskId:               "task-pg",
		OwnerId:              "owner",
		Filename:             "clip.mp4",
		ContentType:          "video/mp4",
		Verdict:              "FAKE",
		Mode:                 "video",
		Detector:             "ensemble",
		Options:              datatypes.JSON(`{"mode": "video"}`),
		MeasuredFps:          fptr(31.5),
		SpeedPassed:          &passed,
		Series:               datatypes.JSON(`{"Values": [0.1, 0.4], "Min": 0, "Max": 1}`),
		BaselineTargetFps:    25,
		BaselineMaxLatencyMs: 40,
		CreationTime:         time.Now().UTC(),
	}

	created, err := database.SaveResult(ctx, db, result)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = database.SaveResult(ctx, db, &database.AnalysisResult{
		TaskId:       "task-pg",
		OwnerId:      "owner",
		Verdict:      "REAL",
		CreationTime: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, created, "a redelivered task must not overwrite the stored result")

	stored, err := database.GetResult(ctx, db, "owner", "task-pg")
	require.NoError(t, err)
	assert.Equal(t, "FAKE", stored.Verdict)
	assert.JSONEq(t, `{"mode": "video"}`, string(stored.Options))
	assert.JSONEq(t, `{"Values": [0.1, 0.4], "Min": 0, "Max": 1}`, string(stored.Series))
	require.NotNil(t, stored.SpeedPassed)
	assert.True(t, *stored.SpeedPassed)
	assert.Equal(t, 31.5, *stored.MeasuredFps)

	_, err = database.GetResult(ctx, db, "someone-else", "task-pg")
	assert.True(t, taskerr.Is(err, taskerr.NotFound))
}

func TestPostgresMigrationsAreRepeatable(t *testing.T) {
	skipIfShort(t)

	db := createDB(t)
	require.NoError(t, database.GetMigrator(db).Migrate())

	assert.True(t, db.Migrator().HasColumn(&database.AnalysisResult{}, "SpeedPassed"))
	assert.True(t, db.Migrator().HasIndex(&database.AnalysisResult{}, "idx_results_owner_created"))
}
