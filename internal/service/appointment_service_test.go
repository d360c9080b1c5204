package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-counseling-api/internal/models"
	appErrors "github.com/noah-isme/campus-counseling-api/pkg/errors"
)

type apptStoreStub struct {
	appts     map[string]*models.Appointment
	claim     *models.SlotClaim
	createErr error
	updateErr error
	listErr   error
	filter    models.AppointmentFilter
}

func newApptStoreStub() *apptStoreStub {
	return &apptStoreStub{appts: make(map[string]*models.Appointment)}
}

func (s *apptStoreStub) Create(_ context.Context, _ sqlx.ExtContext, appt *models.Appointment) error {
	if s.createErr != nil {
		return s.createErr
	}
	if appt.ID == "" {
		appt.ID = "appt-" + appt.StudentID
	}
	copied := *appt
	s.appts[appt.ID] = &copied
	return nil
}

func (s *apptStoreStub) GetByID(_ context.Context, id string) (*models.Appointment, error) {
	if appt, ok := s.appts[id]; ok {
		copied := *appt
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *apptStoreStub) GetByIDForUpdate(ctx context.Context, _ *sqlx.Tx, id string) (*models.Appointment, error) {
	return s.GetByID(ctx, id)
}

func (s *apptStoreStub) FindActiveBySlot(_ context.Context, _ sqlx.ExtContext, counselorID, _, _ string) (*models.SlotClaim, error) {
	if counselorID == models.NoPreference {
		return nil, nil
	}
	return s.claim, nil
}

func (s *apptStoreStub) List(_ context.Context, filter models.AppointmentFilter) ([]models.Appointment, error) {
	s.filter = filter
	if s.listErr != nil {
		return nil, s.listErr
	}
	result := make([]models.Appointment, 0, len(s.appts))
	for _, appt := range s.appts {
		result = append(result, *appt)
	}
	return result, nil
}

func (s *apptStoreStub) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, from, to models.AppointmentStatus, reason *string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	appt, ok := s.appts[id]
	if !ok || appt.Status != from {
		return sql.ErrNoRows
	}
	appt.Status = to
	appt.Reason = reason
	return nil
}

type followUpStoreStub struct {
	followUps map[string]*models.FollowUpAppointment
	nextSeq   int
	updateErr error
}

func newFollowUpStoreStub() *followUpStoreStub {
	return &followUpStoreStub{followUps: make(map[string]*models.FollowUpAppointment), nextSeq: 1}
}

func (s *followUpStoreStub) Create(_ context.Context, _ sqlx.ExtContext, fu *models.FollowUpAppointment) error {
	if fu.ID == "" {
		fu.ID = "fu-" + fu.ParentAppointmentID
	}
	copied := *fu
	s.followUps[fu.ID] = &copied
	return nil
}

func (s *followUpStoreStub) NextSequence(_ context.Context, _ *sqlx.Tx, _ string) (int, error) {
	return s.nextSeq, nil
}

func (s *followUpStoreStub) GetByID(_ context.Context, id string) (*models.FollowUpAppointment, error) {
	if fu, ok := s.followUps[id]; ok {
		copied := *fu
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *followUpStoreStub) ListByParent(_ context.Context, parentID string) ([]models.FollowUpAppointment, error) {
	result := make([]models.FollowUpAppointment, 0, len(s.followUps))
	for _, fu := range s.followUps {
		if fu.ParentAppointmentID == parentID {
			result = append(result, *fu)
		}
	}
	return result, nil
}

func (s *followUpStoreStub) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, from, to models.AppointmentStatus, reason *string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	fu, ok := s.followUps[id]
	if !ok || fu.Status != from {
		return sql.ErrNoRows
	}
	fu.Status = to
	fu.Reason = reason
	return nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type eventRecorder struct {
	events []models.StatusChangeEvent
}

func (r *eventRecorder) Publish(_ context.Context, event models.StatusChangeEvent) {
	r.events = append(r.events, event)
}

type cacheStub struct {
	store       map[string][]byte
	invalidated []string
}

func newCacheStub() *cacheStub {
	return &cacheStub{store: make(map[string][]byte)}
}

func (c *cacheStub) DeleteByPattern(_ context.Context, pattern string) error {
	c.invalidated = append(c.invalidated, pattern)
	return nil
}

func adminActor() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func counselorActor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleCounselor}
}

func studentActor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func newTransitionService(appts *apptStoreStub, fus *followUpStoreStub) (*AppointmentService, *auditStub, *eventRecorder, *cacheStub) {
	audit := &auditStub{}
	events := &eventRecorder{}
	cache := newCacheStub()
	svc := NewAppointmentService(appts, fus, audit, events, cache, NewMetricsService(), nil)
	return svc, audit, events, cache
}

func pendingAppointment(id, counselorID string) *models.Appointment {
	return &models.Appointment{
		ID:          id,
		StudentID:   "student-1",
		CounselorID: counselorID,
		Status:      models.StatusPending,
	}
}

func TestAppointmentServiceApprove(t *testing.T) {
	appts := newApptStoreStub()
	appts.appts["appt-1"] = pendingAppointment("appt-1", "counselor-1")
	svc, audit, events, cache := newTransitionService(appts, newFollowUpStoreStub())

	appt, err := svc.Approve(context.Background(), "appt-1", adminActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, appt.Status)

	require.Len(t, events.events, 1)
	require.Equal(t, models.StatusPending, events.events[0].OldStatus)
	require.Equal(t, models.StatusApproved, events.events[0].NewStatus)
	require.Equal(t, "student-1", events.events[0].Recipient)
	require.Len(t, audit.logs, 1)
	require.NotEmpty(t, cache.invalidated)
}

func TestAppointmentServiceRejectRequiresReason(t *testing.T) {
	appts := newApptStoreStub()
	appts.appts["appt-1"] = pendingAppointment("appt-1", "counselor-1")
	svc, _, events, _ := newTransitionService(appts, newFollowUpStoreStub())

	_, err := svc.Reject(context.Background(), "appt-1", "   ", adminActor())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrMissingReason.Code, appErrors.FromError(err).Code)

	// Nothing was written and no event escaped.
	require.Equal(t, models.StatusPending, appts.appts["appt-1"].Status)
	require.Empty(t, events.events)
}

func TestAppointmentServiceRejectStoresReason(t *testing.T) {
	appts := newApptStoreStub()
	appts.appts["appt-1"] = pendingAppointment("appt-1", "counselor-1")
	svc, _, events, _ := newTransitionService(appts, newFollowUpStoreStub())

	appt, err := svc.Reject(context.Background(), "appt-1", "counselor unavailable", adminActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, appt.Status)
	require.NotNil(t, appt.Reason)
	require.Equal(t, "counselor unavailable", *appt.Reason)
	require.Len(t, events.events, 1)
	require.Equal(t, "counselor unavailable", events.events[0].Reason)
}

func TestAppointmentServiceIllegalTransitions(t *testing.T) {
	appts := newApptStoreStub()
	appts.appts["pending"] = pendingAppointment("pending", "counselor-1")
	cancelled := pendingAppointment("cancelled", "counselor-1")
	cancelled.Status = models.StatusCancelled
	appts.appts["cancelled"] = cancelled
	svc, _, events, _ := newTransitionService(appts, newFollowUpStoreStub())

	// Completing a pending appointment skips approval.
	_, err := svc.Complete(context.Background(), "pending", adminActor())
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	// Terminal states reject every transition, including repeats.
	_, err = svc.Cancel(context.Background(), "cancelled", "again", adminActor())
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	require.Empty(t, events.events)
}

func TestAppointmentServiceConcurrentTransitionLoses(t *testing.T) {
	appts := newApptStoreStub()
	appts.appts["appt-1"] = pendingAppointment("appt-1", "counselor-1")
	appts.updateErr = sql.ErrNoRows
	svc, _, events, _ := newTransitionService(appts, newFollowUpStoreStub())

	_, err := svc.Approve(context.Background(), "appt-1", adminActor())
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
	require.Empty(t, events.events)
}

func TestAppointmentServiceCounselorScope(t *testing.T) {
	appts := newApptStoreStub()
	appts.appts["appt-1"] = pendingAppointment("appt-1", "counselor-1")
	svc, _, _, _ := newTransitionService(appts, newFollowUpStoreStub())

	_, err := svc.Approve(context.Background(), "appt-1", counselorActor("counselor-2"))
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	appt, err := svc.Approve(context.Background(), "appt-1", counselorActor("counselor-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, appt.Status)
}

func TestAppointmentServiceFollowUpTransitions(t *testing.T) {
	fus := newFollowUpStoreStub()
	fus.followUps["fu-1"] = &models.FollowUpAppointment{
		ID:                  "fu-1",
		ParentAppointmentID: "appt-1",
		FollowUpSequence:    1,
		StudentID:           "student-1",
		CounselorID:         "counselor-1",
		Status:              models.StatusPending,
	}
	svc, _, events, _ := newTransitionService(newApptStoreStub(), fus)

	// Follow-ups never pass through approval.
	_, err := svc.TransitionFollowUp(context.Background(), "fu-1", models.StatusApproved, "", adminActor())
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	fu, err := svc.TransitionFollowUp(context.Background(), "fu-1", models.StatusCompleted, "", adminActor())
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, fu.Status)
	require.Len(t, events.events, 1)
	require.Equal(t, models.EventKindFollowUp, events.events[0].Kind)

	// Completed follow-ups are terminal.
	_, err = svc.TransitionFollowUp(context.Background(), "fu-1", models.StatusCancelled, "done", adminActor())
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestAppointmentServiceFollowUpCancelRequiresReason(t *testing.T) {
	fus := newFollowUpStoreStub()
	fus.followUps["fu-1"] = &models.FollowUpAppointment{
		ID:     "fu-1",
		Status: models.StatusPending,
	}
	svc, _, _, _ := newTransitionService(newApptStoreStub(), fus)

	_, err := svc.TransitionFollowUp(context.Background(), "fu-1", models.StatusCancelled, "", adminActor())
	require.Equal(t, appErrors.ErrMissingReason.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.StatusPending, fus.followUps["fu-1"].Status)
}
