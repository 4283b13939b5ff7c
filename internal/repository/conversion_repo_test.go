package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chunmedia/chunconv/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func newRecord(jobID string) *models.Conversion {
	return &models.Conversion{
		JobID:      jobID,
		InputPath:  "/in.mkv",
		OutputPath: "/out.mp4",
		Container:  "mp4",
		VideoCodec: "h265",
		AudioCodec: "aac",
		Decision:   "accepted_with_substitution",
		Status:     models.ConversionStatusQueued,
	}
}

func TestConversionRepo_CreateAndGet(t *testing.T) {
	repo := NewConversionRepository(setupTestDB(t))
	ctx := context.Background()

	record := newRecord("01HQZX3V9K0000000000000001")
	require.NoError(t, repo.Create(ctx, record))
	assert.False(t, record.ID.IsZero())

	found, err := repo.GetByJobID(ctx, record.JobID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, record.InputPath, found.InputPath)
	assert.Equal(t, models.ConversionStatusQueued, found.Status)

	missing, err := repo.GetByJobID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConversionRepo_Update(t *testing.T) {
	repo := NewConversionRepository(setupTestDB(t))
	ctx := context.Background()

	record := newRecord("01HQZX3V9K0000000000000002")
	require.NoError(t, repo.Create(ctx, record))

	record.MarkRunning()
	require.NoError(t, repo.Update(ctx, record))
	record.MarkFinished(models.ConversionStatusFailed, "unknown encoder")
	require.NoError(t, repo.Update(ctx, record))

	found, err := repo.GetByJobID(ctx, record.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionStatusFailed, found.Status)
	assert.Equal(t, "unknown encoder", found.Error)
	assert.NotNil(t, found.StartedAt)
	assert.NotNil(t, found.FinishedAt)
}

func TestConversionRepo_ListByStatus(t *testing.T) {
	repo := NewConversionRepository(setupTestDB(t))
	ctx := context.Background()

	done := newRecord("01HQZX3V9K0000000000000003")
	done.Status = models.ConversionStatusSucceeded
	require.NoError(t, repo.Create(ctx, done))

	queued := newRecord("01HQZX3V9K0000000000000004")
	require.NoError(t, repo.Create(ctx, queued))

	succeeded, err := repo.ListByStatus(ctx, models.ConversionStatusSucceeded)
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	assert.Equal(t, done.JobID, succeeded[0].JobID)

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	limited, err := repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestConversionRepo_RecoverInterrupted(t *testing.T) {
	repo := NewConversionRepository(setupTestDB(t))
	ctx := context.Background()

	running := newRecord("01HQZX3V9K0000000000000005")
	running.Status = models.ConversionStatusRunning
	require.NoError(t, repo.Create(ctx, running))

	finished := newRecord("01HQZX3V9K0000000000000006")
	finished.Status = models.ConversionStatusSucceeded
	require.NoError(t, repo.Create(ctx, finished))

	recovered, err := repo.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	found, err := repo.GetByJobID(ctx, running.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionStatusFailed, found.Status)
	assert.Equal(t, "interrupted by process restart", found.Error)

	untouched, err := repo.GetByJobID(ctx, finished.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionStatusSucceeded, untouched.Status)
}

func TestConversionRepo_DeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversionRepository(db)
	ctx := context.Background()

	old := newRecord("01HQZX3V9K0000000000000007")
	old.Status = models.ConversionStatusSucceeded
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, db.Model(old).Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	recent := newRecord("01HQZX3V9K0000000000000008")
	recent.Status = models.ConversionStatusSucceeded
	require.NoError(t, repo.Create(ctx, recent))

	removed, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, recent.JobID, all[0].JobID)
}
