package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-counseling-api/internal/models"
)

const pqUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, i.e. the storage-level authority rejected a duplicate slot or
// sequence claim.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// AppointmentRepository persists appointments and answers slot-conflict
// queries. Conflict lookups lock the matching row so that the surrounding
// transaction serialises competing bookings for the same slot.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository constructs the repository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new appointment row.
func (r *AppointmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = models.StatusPending
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now

	const query = `INSERT INTO appointments
	(id, student_id, counselor_id, preferred_date, preferred_time, consultation_type, method_type, purpose, description, status, reason, created_at, updated_at)
	VALUES (:id, :student_id, :counselor_id, :preferred_date, :preferred_time, :consultation_type, :method_type, :purpose, :description, :status, :reason, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, appt); err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// GetByID fetches an appointment by identifier.
func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (*models.Appointment, error) {
	const query = `SELECT id, student_id, counselor_id, preferred_date, preferred_time, consultation_type, method_type, purpose, description, status, reason, created_at, updated_at
	FROM appointments WHERE id = $1`
	var appt models.Appointment
	if err := r.db.GetContext(ctx, &appt, query, id); err != nil {
		return nil, err
	}
	return &appt, nil
}

// GetByIDForUpdate locks and fetches an appointment inside the caller's
// transaction. Used to serialise follow-up creation per parent.
func (r *AppointmentRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Appointment, error) {
	const query = `SELECT id, student_id, counselor_id, preferred_date, preferred_time, consultation_type, method_type, purpose, description, status, reason, created_at, updated_at
	FROM appointments WHERE id = $1 FOR UPDATE`
	var appt models.Appointment
	if err := tx.GetContext(ctx, &appt, query, id); err != nil {
		return nil, err
	}
	return &appt, nil
}

// FindActiveBySlot returns the pending or approved booking occupying the
// slot, checking appointments first and follow-up sessions second since both
// claim the same counselor capacity. The "no preference" sentinel never
// matches. Rows are locked so competing transactions queue up here.
func (r *AppointmentRepository) FindActiveBySlot(ctx context.Context, exec sqlx.ExtContext, counselorID, date, timeSpec string) (*models.SlotClaim, error) {
	if counselorID == models.NoPreference {
		return nil, nil
	}
	target := r.exec(exec)

	const apptQuery = `SELECT id FROM appointments
	WHERE counselor_id = $1 AND preferred_date = $2 AND preferred_time = $3 AND status IN ('pending', 'approved')
	LIMIT 1 FOR UPDATE`
	var id string
	err := sqlx.GetContext(ctx, target, &id, apptQuery, counselorID, date, timeSpec)
	if err == nil {
		return &models.SlotClaim{ID: id, Kind: models.EventKindAppointment}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find active appointment by slot: %w", err)
	}

	const followUpQuery = `SELECT id FROM follow_up_appointments
	WHERE counselor_id = $1 AND preferred_date = $2 AND preferred_time = $3 AND status IN ('pending', 'approved')
	LIMIT 1 FOR UPDATE`
	err = sqlx.GetContext(ctx, target, &id, followUpQuery, counselorID, date, timeSpec)
	if err == nil {
		return &models.SlotClaim{ID: id, Kind: models.EventKindFollowUp}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find active follow-up by slot: %w", err)
	}
	return nil, nil
}

// UpdateStatus performs a guarded status transition. The WHERE clause pins
// the expected source status so a concurrent transition loses with
// sql.ErrNoRows instead of silently overwriting.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AppointmentStatus, reason *string) error {
	const query = `UPDATE appointments
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
		return fmt.Errorf("update appointment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check appointment update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns appointments matching the filter, newest first.
func (r *AppointmentRepository) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT id, student_id, counselor_id, preferred_date, preferred_time, consultation_type, method_type, purpose, description, status, reason, created_at, updated_at FROM appointments`)

	conditions := make([]string, 0, 5)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.CounselorID != "" {
		args = append(args, filter.CounselorID)
		if filter.IncludeNoPreference {
			conditions = append(conditions, fmt.Sprintf("(counselor_id = $%d OR counselor_id = '%s')", len(args), models.NoPreference))
		} else {
			conditions = append(conditions, fmt.Sprintf("counselor_id = $%d", len(args)))
		}
	}
	if filter.DateFrom != "" {
		args = append(args, filter.DateFrom)
		conditions = append(conditions, fmt.Sprintf("preferred_date >= $%d", len(args)))
	}
	if filter.DateTo != "" {
		args = append(args, filter.DateTo)
		conditions = append(conditions, fmt.Sprintf("preferred_date <= $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY preferred_date DESC, created_at DESC")

	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize))

	var appts []models.Appointment
	if err := r.db.SelectContext(ctx, &appts, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}
