package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-counseling-api/internal/dto"
	"github.com/noah-isme/campus-counseling-api/internal/models"
	"github.com/noah-isme/campus-counseling-api/internal/repository"
	"github.com/noah-isme/campus-counseling-api/pkg/config"
	appErrors "github.com/noah-isme/campus-counseling-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type bookingStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Appointment, error)
	FindActiveBySlot(ctx context.Context, exec sqlx.ExtContext, counselorID, date, timeSpec string) (*models.SlotClaim, error)
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, error)
}

type followUpBooker interface {
	Create(ctx context.Context, exec sqlx.ExtContext, fu *models.FollowUpAppointment) error
	NextSequence(ctx context.Context, tx *sqlx.Tx, parentID string) (int, error)
	GetByID(ctx context.Context, id string) (*models.FollowUpAppointment, error)
	ListByParent(ctx context.Context, parentID string) ([]models.FollowUpAppointment, error)
}

type availabilityChecker interface {
	IsWithinAvailability(ctx context.Context, counselorID, date, timeSpec string) (bool, error)
}

type listCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// SchedulingService orchestrates booking requests. The conflict check and
// insert share one transaction, and a storage uniqueness constraint backs the
// check so concurrent bookings of the same slot cannot both commit.
type SchedulingService struct {
	tx           txProvider
	appointments bookingStore
	followUps    followUpBooker
	availability availabilityChecker
	events       eventPublisher
	audit        auditLogger
	cache        listCache
	metrics      *MetricsService
	validate     *validator.Validate
	cfg          config.SchedulingConfig
	cacheCfg     config.CacheConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewSchedulingService constructs the service.
func NewSchedulingService(
	tx txProvider,
	appointments bookingStore,
	followUps followUpBooker,
	availability availabilityChecker,
	events eventPublisher,
	audit auditLogger,
	cache listCache,
	metrics *MetricsService,
	cfg config.SchedulingConfig,
	cacheCfg config.CacheConfig,
	logger *zap.Logger,
) *SchedulingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulingService{
		tx:           tx,
		appointments: appointments,
		followUps:    followUps,
		availability: availability,
		events:       events,
		audit:        audit,
		cache:        cache,
		metrics:      metrics,
		validate:     validator.New(),
		cfg:          cfg,
		cacheCfg:     cacheCfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RequestAppointment books a new appointment for the acting student. The
// availability gate runs first; the slot conflict check and the insert run in
// one transaction so no other booking can slip between them.
func (s *SchedulingService) RequestAppointment(ctx context.Context, req dto.RequestAppointmentRequest, actor *models.JWTClaims) (*models.Appointment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, validationMessage(err))
	}
	req.CounselorID = strings.TrimSpace(req.CounselorID)
	if req.CounselorID == models.NoPreference && !s.cfg.AllowNoPreference {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a concrete counselor must be selected")
	}
	if err := s.checkHorizon(req.PreferredDate); err != nil {
		return nil, err
	}

	// The sentinel has no schedule of its own; availability only gates
	// concrete counselors.
	if req.CounselorID != models.NoPreference {
		within, err := s.availability.IsWithinAvailability(ctx, req.CounselorID, req.PreferredDate, req.PreferredTime)
		if err != nil {
			s.metrics.RecordBooking(models.EventKindAppointment, "error")
			return nil, err
		}
		if !within {
			s.metrics.RecordBooking(models.EventKindAppointment, "rejected")
			return nil, appErrors.ErrOutsideAvailability
		}
	}

	appt := &models.Appointment{
		StudentID:        actor.UserID,
		CounselorID:      req.CounselorID,
		PreferredDate:    req.PreferredDate,
		PreferredTime:    req.PreferredTime,
		ConsultationType: models.ConsultationType(req.ConsultationType),
		MethodType:       models.MethodType(req.MethodType),
		Purpose:          models.Purpose(req.Purpose),
		Description:      req.Description,
		Status:           models.StatusPending,
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		claim, err := s.appointments.FindActiveBySlot(ctx, tx, req.CounselorID, req.PreferredDate, req.PreferredTime)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to check slot")
		}
		if claim != nil {
			return slotConflict(claim)
		}
		return s.appointments.Create(ctx, tx, appt)
	})
	if err != nil {
		return nil, s.bookingError(err, models.EventKindAppointment)
	}

	s.metrics.RecordBooking(models.EventKindAppointment, "created")
	s.afterBooking(ctx, models.StatusChangeEvent{
		AppointmentID: appt.ID,
		Kind:          models.EventKindAppointment,
		NewStatus:     models.StatusPending,
		Recipient:     appt.StudentID,
	}, actor, models.AuditActionAppointmentRequest, appt.ID)
	return appt, nil
}

// RequestFollowUp books a chained session under a completed parent. The
// parent row is locked for the whole transaction, which serialises sequence
// assignment per parent and keeps numbering gap free.
func (s *SchedulingService) RequestFollowUp(ctx context.Context, parentID string, req dto.RequestFollowUpRequest, actor *models.JWTClaims) (*models.FollowUpAppointment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, validationMessage(err))
	}
	if err := s.checkHorizon(req.PreferredDate); err != nil {
		return nil, err
	}

	var fu *models.FollowUpAppointment
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		parent, err := s.appointments.GetByIDForUpdate(ctx, tx, parentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrNotFound
			}
			return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to load parent appointment")
		}
		if actor.Role == models.RoleCounselor && parent.CounselorID != actor.UserID {
			return appErrors.ErrForbidden
		}
		if parent.Status != models.StatusCompleted {
			return appErrors.Clone(appErrors.ErrParentNotCompleted,
				"parent appointment is "+string(parent.Status)+", follow-ups require a completed parent")
		}

		if parent.HasCounselorPreference() {
			within, err := s.availability.IsWithinAvailability(ctx, parent.CounselorID, req.PreferredDate, req.PreferredTime)
			if err != nil {
				return err
			}
			if !within {
				return appErrors.ErrOutsideAvailability
			}
		}

		claim, err := s.appointments.FindActiveBySlot(ctx, tx, parent.CounselorID, req.PreferredDate, req.PreferredTime)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to check slot")
		}
		if claim != nil {
			return slotConflict(claim)
		}

		seq, err := s.followUps.NextSequence(ctx, tx, parentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to assign sequence")
		}

		fu = &models.FollowUpAppointment{
			ParentAppointmentID: parent.ID,
			FollowUpSequence:    seq,
			StudentID:           parent.StudentID,
			CounselorID:         parent.CounselorID,
			PreferredDate:       req.PreferredDate,
			PreferredTime:       req.PreferredTime,
			ConsultationType:    models.ConsultationType(req.ConsultationType),
			MethodType:          models.MethodType(req.MethodType),
			Purpose:             models.Purpose(req.Purpose),
			Description:         req.Description,
			Status:              models.StatusPending,
		}
		return s.followUps.Create(ctx, tx, fu)
	})
	if err != nil {
		return nil, s.bookingError(err, models.EventKindFollowUp)
	}

	s.metrics.RecordBooking(models.EventKindFollowUp, "created")
	s.afterBooking(ctx, models.StatusChangeEvent{
		AppointmentID: fu.ID,
		Kind:          models.EventKindFollowUp,
		NewStatus:     models.StatusPending,
		Recipient:     fu.StudentID,
	}, actor, models.AuditActionFollowUpRequest, fu.ID)
	return fu, nil
}

// Get returns an appointment, scoped to the actor's role.
func (s *SchedulingService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appointment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to load appointment")
	}
	if err := scopeCheck(actor, appt.StudentID, appt.CounselorID); err != nil {
		return nil, err
	}
	return appt, nil
}

// List returns appointments visible to the actor, optionally served from the
// Redis list cache.
func (s *SchedulingService) List(ctx context.Context, query dto.AppointmentQuery, actor *models.JWTClaims) ([]models.Appointment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.AppointmentFilter{
		Status:      query.Status,
		StudentID:   query.StudentID,
		CounselorID: query.CounselorID,
		DateFrom:    query.DateFrom,
		DateTo:      query.DateTo,
		Page:        query.Page,
		PageSize:    query.PageSize,
	}
	switch actor.Role {
	case models.RoleAdmin:
		// full visibility
	case models.RoleCounselor:
		// Counselors also see unassigned requests so they can pick them up.
		filter.CounselorID = actor.UserID
		filter.IncludeNoPreference = true
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}

	key := listCacheKey(filter)
	if s.cacheCfg.Enabled && s.cache != nil {
		var cached []models.Appointment
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}

	appts, err := s.appointments.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to list appointments")
	}

	if s.cacheCfg.Enabled && s.cache != nil {
		if err := s.cache.Set(ctx, key, appts, s.cacheCfg.ListTTL); err != nil {
			s.logger.Warn("failed to cache appointment list", zap.Error(err))
		}
	}
	return appts, nil
}

// GetFollowUp returns a follow-up session, scoped to the actor's role.
func (s *SchedulingService) GetFollowUp(ctx context.Context, id string, actor *models.JWTClaims) (*models.FollowUpAppointment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	fu, err := s.followUps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to load follow-up")
	}
	if err := scopeCheck(actor, fu.StudentID, fu.CounselorID); err != nil {
		return nil, err
	}
	return fu, nil
}

// ListFollowUps returns a parent's follow-up chain in sequence order.
func (s *SchedulingService) ListFollowUps(ctx context.Context, parentID string, actor *models.JWTClaims) ([]models.FollowUpAppointment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	parent, err := s.appointments.GetByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to load parent appointment")
	}
	if err := scopeCheck(actor, parent.StudentID, parent.CounselorID); err != nil {
		return nil, err
	}

	fus, err := s.followUps.ListByParent(ctx, parentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to list follow-ups")
	}
	s.verifyContiguity(parentID, fus)
	return fus, nil
}

// verifyContiguity flags broken sequence chains. Numbering is assigned under
// the parent lock, so a gap here means someone touched the rows out of band.
func (s *SchedulingService) verifyContiguity(parentID string, fus []models.FollowUpAppointment) {
	sorted := sort.SliceIsSorted(fus, func(i, j int) bool {
		return fus[i].FollowUpSequence < fus[j].FollowUpSequence
	})
	if !sorted {
		s.logger.Error("follow-up chain out of order", zap.String("parent_id", parentID))
		return
	}
	for i, fu := range fus {
		if fu.FollowUpSequence != i+1 {
			s.logger.Error("follow-up chain has a sequence gap",
				zap.String("parent_id", parentID),
				zap.Int("expected", i+1),
				zap.Int("got", fu.FollowUpSequence))
			return
		}
	}
}

func (s *SchedulingService) checkHorizon(date string) error {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "preferredDate must be formatted as YYYY-MM-DD")
	}
	today := s.now().Truncate(24 * time.Hour)
	if parsed.Before(today) {
		return appErrors.Clone(appErrors.ErrValidation, "preferredDate must not be in the past")
	}
	if s.cfg.BookingHorizon > 0 && parsed.After(today.Add(s.cfg.BookingHorizon)) {
		return appErrors.Clone(appErrors.ErrValidation, "preferredDate is beyond the booking horizon")
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on any error. A commit
// failure maps to the storage error; the booking did not happen.
func (s *SchedulingService) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to commit booking")
	}
	return nil
}

// bookingError maps transaction failures onto domain errors and records the
// booking outcome. A unique constraint violation is a conflict that raced
// past the in-transaction check.
func (s *SchedulingService) bookingError(err error, kind string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case appErrors.ErrSlotConflict.Code:
			s.metrics.RecordBooking(kind, "conflict")
		case appErrors.ErrStorageUnavailable.Code:
			s.metrics.RecordBooking(kind, "error")
		default:
			s.metrics.RecordBooking(kind, "rejected")
		}
		return appErr
	}
	if repository.IsUniqueViolation(err) {
		s.metrics.RecordBooking(kind, "conflict")
		return appErrors.Clone(appErrors.ErrSlotConflict, "slot was booked concurrently")
	}
	s.metrics.RecordBooking(kind, "error")
	return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "booking failed, no changes were persisted")
}

func (s *SchedulingService) afterBooking(ctx context.Context, event models.StatusChangeEvent, actor *models.JWTClaims, auditAction, resourceID string) {
	if s.events != nil {
		s.events.Publish(ctx, event)
	}
	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, "appointments:*"); err != nil {
			s.logger.Warn("failed to invalidate appointment cache", zap.Error(err))
		}
	}
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(event)
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     auditAction,
		Resource:   event.Kind,
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "scheduling-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func slotConflict(claim *models.SlotClaim) error {
	conflict := &models.SlotConflictError{ConflictingID: claim.ID, Kind: claim.Kind}
	return appErrors.Wrap(conflict, appErrors.ErrSlotConflict.Code, appErrors.ErrSlotConflict.Status,
		fmt.Sprintf("slot is already held by %s %s", claim.Kind, claim.ID)).WithDetails(conflict)
}

func scopeCheck(actor *models.JWTClaims, studentID, counselorID string) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleCounselor:
		if counselorID == actor.UserID || counselorID == models.NoPreference {
			return nil
		}
	case models.RoleStudent:
		if studentID == actor.UserID {
			return nil
		}
	}
	return appErrors.ErrForbidden
}

func listCacheKey(filter models.AppointmentFilter) string {
	statuses := make([]string, 0, len(filter.Status))
	for _, st := range filter.Status {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	return fmt.Sprintf("appointments:list:%s:%s:%s:%t:%s:%s:%d:%d",
		strings.Join(statuses, ","), filter.StudentID, filter.CounselorID, filter.IncludeNoPreference, filter.DateFrom, filter.DateTo, filter.Page, filter.PageSize)
}

func validationMessage(err error) string {
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return "invalid request payload"
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		f := fields[0]
		return fmt.Sprintf("field %s failed validation on %s", f.Field(), f.Tag())
	}
	return "invalid request payload"
}
