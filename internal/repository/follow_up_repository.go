package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-counseling-api/internal/models"
)

// FollowUpRepository persists follow-up sessions and assigns their per-parent
// sequence numbers.
type FollowUpRepository struct {
	db *sqlx.DB
}

// NewFollowUpRepository constructs the repository.
func NewFollowUpRepository(db *sqlx.DB) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

func (r *FollowUpRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// NextSequence returns the next contiguous sequence number for the parent.
// Callers must hold the parent row lock so two follow-ups for the same parent
// cannot read the same MAX.
func (r *FollowUpRepository) NextSequence(ctx context.Context, tx *sqlx.Tx, parentID string) (int, error) {
	const query = `SELECT COALESCE(MAX(follow_up_sequence), 0) + 1 FROM follow_up_appointments WHERE parent_appointment_id = $1`
	var next int
	if err := tx.GetContext(ctx, &next, query, parentID); err != nil {
		return 0, fmt.Errorf("next follow-up sequence: %w", err)
	}
	return next, nil
}

// Create inserts a follow-up row. The sequence must already be assigned.
func (r *FollowUpRepository) Create(ctx context.Context, exec sqlx.ExtContext, fu *models.FollowUpAppointment) error {
	if fu.ID == "" {
		fu.ID = uuid.NewString()
	}
	if fu.Status == "" {
		fu.Status = models.StatusPending
	}
	now := time.Now().UTC()
	if fu.CreatedAt.IsZero() {
		fu.CreatedAt = now
	}
	fu.UpdatedAt = now

	const query = `INSERT INTO follow_up_appointments
	(id, parent_appointment_id, follow_up_sequence, student_id, counselor_id, preferred_date, preferred_time, consultation_type, method_type, purpose, description, status, reason, created_at, updated_at)
	VALUES (:id, :parent_appointment_id, :follow_up_sequence, :student_id, :counselor_id, :preferred_date, :preferred_time, :consultation_type, :method_type, :purpose, :description, :status, :reason, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, fu); err != nil {
		return fmt.Errorf("create follow-up: %w", err)
	}
	return nil
}

// GetByID fetches a follow-up by identifier.
func (r *FollowUpRepository) GetByID(ctx context.Context, id string) (*models.FollowUpAppointment, error) {
	const query = `SELECT id, parent_appointment_id, follow_up_sequence, student_id, counselor_id, preferred_date, preferred_time, consultation_type, method_type, purpose, description, status, reason, created_at, updated_at
	FROM follow_up_appointments WHERE id = $1`
	var fu models.FollowUpAppointment
	if err := r.db.GetContext(ctx, &fu, query, id); err != nil {
		return nil, err
	}
	return &fu, nil
}

// ListByParent returns the parent's follow-ups in sequence order.
func (r *FollowUpRepository) ListByParent(ctx context.Context, parentID string) ([]models.FollowUpAppointment, error) {
	const query = `SELECT id, parent_appointment_id, follow_up_sequence, student_id, counselor_id, preferred_date, preferred_time, consultation_type, method_type, purpose, description, status, reason, created_at, updated_at
	FROM follow_up_appointments WHERE parent_appointment_id = $1 ORDER BY follow_up_sequence ASC`
	var fus []models.FollowUpAppointment
	if err := r.db.SelectContext(ctx, &fus, query, parentID); err != nil {
		return nil, fmt.Errorf("list follow-ups: %w", err)
	}
	return fus, nil
}

// UpdateStatus performs a guarded follow-up status transition, same contract
// as the appointment variant.
func (r *FollowUpRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AppointmentStatus, reason *string) error {
	const query = `UPDATE follow_up_appointments
	SET status = :to, reason = :reason, updated_at = :updated_at
	WHERE id = :id AND status = :from`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, map[string]interface{}{
		"id":         id,
		"from":       from,
		"to":         to,
		"reason":     reason,
		"updated_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("update follow-up status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check follow-up update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
