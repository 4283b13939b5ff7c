// Package repository provides data access for persisted conversion records.
package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/chunmedia/chunconv/internal/models"
)

// ConversionRepository stores and queries conversion history.
type ConversionRepository interface {
	Create(ctx context.Context, conversion *models.Conversion) error
	Update(ctx context.Context, conversion *models.Conversion) error
	GetByJobID(ctx context.Context, jobID string) (*models.Conversion, error)
	List(ctx context.Context, limit int) ([]*models.Conversion, error)
	ListByStatus(ctx context.Context, status models.ConversionStatus) ([]*models.Conversion, error)
	RecoverInterrupted(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// conversionRepo implements ConversionRepository using GORM.
type conversionRepo struct {
	db *gorm.DB
}

// NewConversionRepository creates a new ConversionRepository.
func NewConversionRepository(db *gorm.DB) ConversionRepository {
	return &conversionRepo{db: db}
}

// Migrate creates or updates the conversions table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Conversion{}); err != nil {
		return fmt.Errorf("migrating conversions: %w", err)
	}
	return nil
}

// Create inserts a new conversion record.
func (r *conversionRepo) Create(ctx context.Context, conversion *models.Conversion) error {
	if err := r.db.WithContext(ctx).Create(conversion).Error; err != nil {
		return fmt.Errorf("creating conversion: %w", err)
	}
	return nil
}

// Update saves the full record.
func (r *conversionRepo) Update(ctx context.Context, conversion *models.Conversion) error {
	if err := r.db.WithContext(ctx).Save(conversion).Error; err != nil {
		return fmt.Errorf("updating conversion: %w", err)
	}
	return nil
}

// GetByJobID retrieves a conversion by its queue job ID. Returns nil when no
// record exists.
func (r *conversionRepo) GetByJobID(ctx context.Context, jobID string) (*models.Conversion, error) {
	var conversion models.Conversion
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&conversion).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting conversion by job ID: %w", err)
	}
	return &conversion, nil
}

// List retrieves the most recent conversions, newest first. A limit of 0
// returns everything.
func (r *conversionRepo) List(ctx context.Context, limit int) ([]*models.Conversion, error) {
	var conversions []*models.Conversion
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&conversions).Error; err != nil {
		return nil, fmt.Errorf("listing conversions: %w", err)
	}
	return conversions, nil
}

// ListByStatus retrieves conversions with the given status, newest first.
func (r *conversionRepo) ListByStatus(ctx context.Context, status models.ConversionStatus) ([]*models.Conversion, error) {
	var conversions []*models.Conversion
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at DESC").Find(&conversions).Error; err != nil {
		return nil, fmt.Errorf("listing conversions by status: %w", err)
	}
	return conversions, nil
}

// RecoverInterrupted marks queued and running records as failed. Called at
// startup: in-memory queue state is lost when the process dies, so anything
// non-terminal in the database was interrupted.
func (r *conversionRepo) RecoverInterrupted(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Conversion{}).
		Where("status IN ?", []models.ConversionStatus{models.ConversionStatusQueued, models.ConversionStatusRunning}).
		Updates(map[string]any{
			"status": models.ConversionStatusFailed,
			"error":  "interrupted by process restart",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recovering interrupted conversions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes terminal records created before cutoff.
func (r *conversionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where("status IN ?", []models.ConversionStatus{
			models.ConversionStatusSucceeded,
			models.ConversionStatusFailed,
			models.ConversionStatusCancelled,
		}).
		Delete(&models.Conversion{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old conversions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
