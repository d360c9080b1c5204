package service

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-counseling-api/internal/dto"
	"github.com/noah-isme/campus-counseling-api/internal/models"
	"github.com/noah-isme/campus-counseling-api/pkg/config"
	appErrors "github.com/noah-isme/campus-counseling-api/pkg/errors"
)

type availabilityStub struct {
	within bool
	err    error
	calls  int
}

func (a *availabilityStub) IsWithinAvailability(context.Context, string, string, string) (bool, error) {
	a.calls++
	if a.err != nil {
		return false, a.err
	}
	return a.within, nil
}

func newTxMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return sdb, mock
}

type schedulingFixture struct {
	svc    *SchedulingService
	appts  *apptStoreStub
	fus    *followUpStoreStub
	avail  *availabilityStub
	events *eventRecorder
	audit  *auditStub
	mock   sqlmock.Sqlmock
}

func newSchedulingFixture(t *testing.T) *schedulingFixture {
	db, mock := newTxMock(t)
	appts := newApptStoreStub()
	fus := newFollowUpStoreStub()
	avail := &availabilityStub{within: true}
	events := &eventRecorder{}
	audit := &auditStub{}

	svc := NewSchedulingService(db, appts, fus, avail, events, audit, nil, NewMetricsService(),
		config.SchedulingConfig{BookingHorizon: 365 * 24 * time.Hour, AllowNoPreference: true},
		config.CacheConfig{}, nil)
	svc.now = func() time.Time { return time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC) }

	return &schedulingFixture{svc: svc, appts: appts, fus: fus, avail: avail, events: events, audit: audit, mock: mock}
}

func bookingRequest() dto.RequestAppointmentRequest {
	return dto.RequestAppointmentRequest{
		CounselorID:      "counselor-1",
		PreferredDate:    "2026-09-14",
		PreferredTime:    "10:00",
		ConsultationType: "individual",
		MethodType:       "in_person",
		Purpose:          "counseling",
	}
}

func TestSchedulingServiceRequestAppointment(t *testing.T) {
	f := newSchedulingFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	appt, err := f.svc.RequestAppointment(context.Background(), bookingRequest(), studentActor("student-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, appt.Status)
	require.Equal(t, "student-1", appt.StudentID)

	require.Len(t, f.events.events, 1)
	require.Equal(t, models.StatusPending, f.events.events[0].NewStatus)
	require.Len(t, f.audit.logs, 1)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceSlotConflict(t *testing.T) {
	f := newSchedulingFixture(t)
	f.appts.claim = &models.SlotClaim{ID: "appt-0", Kind: models.EventKindAppointment}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.RequestAppointment(context.Background(), bookingRequest(), studentActor("student-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrSlotConflict.Code, appErrors.FromError(err).Code)

	var conflict *models.SlotConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "appt-0", conflict.ConflictingID)
	require.Empty(t, f.events.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceOutsideAvailability(t *testing.T) {
	f := newSchedulingFixture(t)
	f.avail.within = false

	_, err := f.svc.RequestAppointment(context.Background(), bookingRequest(), studentActor("student-1"))
	require.Equal(t, appErrors.ErrOutsideAvailability.Code, appErrors.FromError(err).Code)
	require.Empty(t, f.events.events)
	// No transaction was opened for a request that never reached the slot check.
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceAvailabilityFailureClosesBooking(t *testing.T) {
	f := newSchedulingFixture(t)
	f.avail.err = appErrors.Wrap(errors.New("connection refused"), appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, "failed to load availability")

	_, err := f.svc.RequestAppointment(context.Background(), bookingRequest(), studentActor("student-1"))
	require.Equal(t, appErrors.ErrStorageUnavailable.Code, appErrors.FromError(err).Code)
	require.Empty(t, f.events.events)
}

func TestSchedulingServiceNoPreferenceSkipsAvailability(t *testing.T) {
	f := newSchedulingFixture(t)
	f.avail.within = false // would reject a concrete counselor
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	req := bookingRequest()
	req.CounselorID = models.NoPreference
	appt, err := f.svc.RequestAppointment(context.Background(), req, studentActor("student-1"))
	require.NoError(t, err)
	require.Equal(t, models.NoPreference, appt.CounselorID)
	require.Zero(t, f.avail.calls)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceUniqueViolationMapsToConflict(t *testing.T) {
	f := newSchedulingFixture(t)
	f.appts.createErr = &pq.Error{Code: "23505"}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.RequestAppointment(context.Background(), bookingRequest(), studentActor("student-1"))
	require.Equal(t, appErrors.ErrSlotConflict.Code, appErrors.FromError(err).Code)
	require.Empty(t, f.events.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceRejectsPastDates(t *testing.T) {
	f := newSchedulingFixture(t)

	req := bookingRequest()
	req.PreferredDate = "2026-08-01"
	_, err := f.svc.RequestAppointment(context.Background(), req, studentActor("student-1"))
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func completedParent(id string) *models.Appointment {
	return &models.Appointment{
		ID:          id,
		StudentID:   "student-1",
		CounselorID: "counselor-1",
		Status:      models.StatusCompleted,
	}
}

func followUpRequest() dto.RequestFollowUpRequest {
	return dto.RequestFollowUpRequest{
		PreferredDate:    "2026-09-21",
		PreferredTime:    "10:00",
		ConsultationType: "individual",
		MethodType:       "video",
		Purpose:          "counseling",
	}
}

func TestSchedulingServiceRequestFollowUp(t *testing.T) {
	f := newSchedulingFixture(t)
	f.appts.appts["parent-1"] = completedParent("parent-1")
	f.fus.nextSeq = 2
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	fu, err := f.svc.RequestFollowUp(context.Background(), "parent-1", followUpRequest(), counselorActor("counselor-1"))
	require.NoError(t, err)
	require.Equal(t, 2, fu.FollowUpSequence)
	require.Equal(t, "counselor-1", fu.CounselorID)
	require.Equal(t, "student-1", fu.StudentID)
	require.Equal(t, models.StatusPending, fu.Status)

	require.Len(t, f.events.events, 1)
	require.Equal(t, models.EventKindFollowUp, f.events.events[0].Kind)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceFollowUpParentMustBeCompleted(t *testing.T) {
	f := newSchedulingFixture(t)
	parent := completedParent("parent-1")
	parent.Status = models.StatusApproved
	f.appts.appts["parent-1"] = parent
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.RequestFollowUp(context.Background(), "parent-1", followUpRequest(), counselorActor("counselor-1"))
	require.Equal(t, appErrors.ErrParentNotCompleted.Code, appErrors.FromError(err).Code)
	require.Empty(t, f.events.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceFollowUpParentNotFound(t *testing.T) {
	f := newSchedulingFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.RequestFollowUp(context.Background(), "missing", followUpRequest(), counselorActor("counselor-1"))
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceFollowUpCounselorScope(t *testing.T) {
	f := newSchedulingFixture(t)
	f.appts.appts["parent-1"] = completedParent("parent-1")
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.RequestFollowUp(context.Background(), "parent-1", followUpRequest(), counselorActor("counselor-2"))
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceListScoping(t *testing.T) {
	f := newSchedulingFixture(t)

	_, err := f.svc.List(context.Background(), dto.AppointmentQuery{}, studentActor("student-9"))
	require.NoError(t, err)
	require.Equal(t, "student-9", f.appts.filter.StudentID)

	_, err = f.svc.List(context.Background(), dto.AppointmentQuery{StudentID: "someone-else"}, counselorActor("counselor-9"))
	require.NoError(t, err)
	require.Equal(t, "counselor-9", f.appts.filter.CounselorID)
	require.True(t, f.appts.filter.IncludeNoPreference)

	_, err = f.svc.List(context.Background(), dto.AppointmentQuery{}, &models.JWTClaims{UserID: "x", Role: "GUEST"})
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSchedulingServiceGetScoping(t *testing.T) {
	f := newSchedulingFixture(t)
	f.appts.appts["appt-1"] = completedParent("appt-1")

	_, err := f.svc.Get(context.Background(), "appt-1", studentActor("student-1"))
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), "appt-1", studentActor("student-2"))
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Get(context.Background(), "missing", adminActor())
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
