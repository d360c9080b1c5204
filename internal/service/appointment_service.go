package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-counseling-api/internal/models"
	appErrors "github.com/noah-isme/campus-counseling-api/pkg/errors"
)

type transitionStore interface {
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AppointmentStatus, reason *string) error
}

type followUpTransitionStore interface {
	GetByID(ctx context.Context, id string) (*models.FollowUpAppointment, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AppointmentStatus, reason *string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event models.StatusChangeEvent)
}

type cacheInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// AppointmentService drives status transitions for appointments and
// follow-up sessions. All legality checks run before any write, and a
// successful transition emits exactly one status change event.
type AppointmentService struct {
	appointments transitionStore
	followUps    followUpTransitionStore
	audit        auditLogger
	events       eventPublisher
	cache        cacheInvalidator
	metrics      *MetricsService
	logger       *zap.Logger
}

// NewAppointmentService constructs the service.
func NewAppointmentService(
	appointments transitionStore,
	followUps followUpTransitionStore,
	audit auditLogger,
	events eventPublisher,
	cache cacheInvalidator,
	metrics *MetricsService,
	logger *zap.Logger,
) *AppointmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentService{
		appointments: appointments,
		followUps:    followUps,
		audit:        audit,
		events:       events,
		cache:        cache,
		metrics:      metrics,
		logger:       logger,
	}
}

// Approve moves a pending appointment to approved.
func (s *AppointmentService) Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appointment, error) {
	return s.transition(ctx, id, models.StatusApproved, "", actor)
}

// Reject moves a pending appointment to rejected. A reason is mandatory.
func (s *AppointmentService) Reject(ctx context.Context, id, reason string, actor *models.JWTClaims) (*models.Appointment, error) {
	return s.transition(ctx, id, models.StatusRejected, reason, actor)
}

// Complete moves an approved appointment to completed.
func (s *AppointmentService) Complete(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appointment, error) {
	return s.transition(ctx, id, models.StatusCompleted, "", actor)
}

// Cancel moves an approved appointment to cancelled. A reason is mandatory.
func (s *AppointmentService) Cancel(ctx context.Context, id, reason string, actor *models.JWTClaims) (*models.Appointment, error) {
	return s.transition(ctx, id, models.StatusCancelled, reason, actor)
}

func (s *AppointmentService) transition(ctx context.Context, id string, to models.AppointmentStatus, reason string, actor *models.JWTClaims) (*models.Appointment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	reasonPtr, err := requireReason(to, reason)
	if err != nil {
		return nil, err
	}

	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to load appointment")
	}
	if actor.Role == models.RoleCounselor && appt.CounselorID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if !models.TransitionAllowed(models.AppointmentTransitions, appt.Status, to) {
		s.metrics.RecordTransitionFailure(models.EventKindAppointment, appErrors.ErrInvalidTransition.Code)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			"cannot move appointment from "+string(appt.Status)+" to "+string(to))
	}

	from := appt.Status
	if err := s.appointments.UpdateStatus(ctx, nil, id, from, to, reasonPtr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost the race; a concurrent transition moved it first.
			s.metrics.RecordTransitionFailure(models.EventKindAppointment, appErrors.ErrInvalidTransition.Code)
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "appointment was transitioned concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to update appointment status")
	}

	appt.Status = to
	appt.Reason = reasonPtr
	appt.UpdatedAt = time.Now().UTC()

	s.afterTransition(ctx, models.StatusChangeEvent{
		AppointmentID: appt.ID,
		Kind:          models.EventKindAppointment,
		OldStatus:     from,
		NewStatus:     to,
		Reason:        reason,
		Recipient:     appt.StudentID,
	}, actor, auditActionFor(to), appt.ID)
	return appt, nil
}

// TransitionFollowUp moves a follow-up session from pending to the requested
// terminal status under the reduced follow-up table.
func (s *AppointmentService) TransitionFollowUp(ctx context.Context, id string, to models.AppointmentStatus, reason string, actor *models.JWTClaims) (*models.FollowUpAppointment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	reasonPtr, err := requireReason(to, reason)
	if err != nil {
		return nil, err
	}

	fu, err := s.followUps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to load follow-up")
	}
	if actor.Role == models.RoleCounselor && fu.CounselorID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if !models.TransitionAllowed(models.FollowUpTransitions, fu.Status, to) {
		s.metrics.RecordTransitionFailure(models.EventKindFollowUp, appErrors.ErrInvalidTransition.Code)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			"cannot move follow-up from "+string(fu.Status)+" to "+string(to))
	}

	from := fu.Status
	if err := s.followUps.UpdateStatus(ctx, nil, id, from, to, reasonPtr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordTransitionFailure(models.EventKindFollowUp, appErrors.ErrInvalidTransition.Code)
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "follow-up was transitioned concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to update follow-up status")
	}

	fu.Status = to
	fu.Reason = reasonPtr
	fu.UpdatedAt = time.Now().UTC()

	s.afterTransition(ctx, models.StatusChangeEvent{
		AppointmentID: fu.ID,
		Kind:          models.EventKindFollowUp,
		OldStatus:     from,
		NewStatus:     to,
		Reason:        reason,
		Recipient:     fu.StudentID,
	}, actor, models.AuditActionFollowUpTransition, fu.ID)
	return fu, nil
}

func (s *AppointmentService) afterTransition(ctx context.Context, event models.StatusChangeEvent, actor *models.JWTClaims, auditAction, resourceID string) {
	if s.events != nil {
		s.events.Publish(ctx, event)
	}
	s.metrics.RecordTransition(event.Kind, string(event.NewStatus))
	s.invalidateLists(ctx)

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
		UserAgent:  "appointment-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func (s *AppointmentService) invalidateLists(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "appointments:*"); err != nil {
		s.logger.Warn("failed to invalidate appointment cache", zap.Error(err))
	}
}

// requireReason enforces the mandatory reason for rejected and cancelled
// targets and normalises it to a pointer.
func requireReason(to models.AppointmentStatus, reason string) (*string, error) {
	reason = strings.TrimSpace(reason)
	if to == models.StatusRejected || to == models.StatusCancelled {
		if reason == "" {
			return nil, appErrors.Clone(appErrors.ErrMissingReason, "a non-empty reason is required to "+verbFor(to))
		}
	}
	if reason == "" {
		return nil, nil
	}
	return &reason, nil
}

func verbFor(to models.AppointmentStatus) string {
	if to == models.StatusRejected {
		return "reject"
	}
	return "cancel"
}

func auditActionFor(to models.AppointmentStatus) string {
	switch to {
	case models.StatusApproved:
		return models.AuditActionAppointmentApprove
	case models.StatusRejected:
		return models.AuditActionAppointmentReject
	case models.StatusCompleted:
		return models.AuditActionAppointmentComplete
	default:
		return models.AuditActionAppointmentCancel
	}
}
