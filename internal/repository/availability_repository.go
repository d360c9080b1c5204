package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-counseling-api/internal/models"
)

// AvailabilityRepository reads counselor availability windows. Reads always
// hit the primary; availability feeds booking decisions and must never be
// served stale.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs the repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListByCounselorDay returns the windows published for one weekday.
func (r *AvailabilityRepository) ListByCounselorDay(ctx context.Context, counselorID, dayOfWeek string) ([]models.CounselorAvailability, error) {
	const query = `SELECT id, counselor_id, day_of_week, start_time, end_time, created_at
	FROM counselor_availability WHERE counselor_id = $1 AND day_of_week = $2 ORDER BY start_time ASC`
	var windows []models.CounselorAvailability
	if err := r.db.SelectContext(ctx, &windows, query, counselorID, dayOfWeek); err != nil {
		return nil, fmt.Errorf("list availability for day: %w", err)
	}
	return windows, nil
}

// ListByCounselor returns all windows for a counselor grouped by weekday
// ordering in storage.
func (r *AvailabilityRepository) ListByCounselor(ctx context.Context, counselorID string) ([]models.CounselorAvailability, error) {
	const query = `SELECT id, counselor_id, day_of_week, start_time, end_time, created_at
	FROM counselor_availability WHERE counselor_id = $1 ORDER BY day_of_week ASC, start_time ASC`
	var windows []models.CounselorAvailability
	if err := r.db.SelectContext(ctx, &windows, query, counselorID); err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return windows, nil
}
