package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-counseling-api/internal/dto"
	internalmiddleware "github.com/noah-isme/campus-counseling-api/internal/middleware"
	"github.com/noah-isme/campus-counseling-api/internal/models"
	appErrors "github.com/noah-isme/campus-counseling-api/pkg/errors"
)

type schedulingStub struct {
	appt *models.Appointment
	fu   *models.FollowUpAppointment
	err  error

	lastBooking  dto.RequestAppointmentRequest
	lastFollowUp dto.RequestFollowUpRequest
}

func (s *schedulingStub) RequestAppointment(_ context.Context, req dto.RequestAppointmentRequest, _ *models.JWTClaims) (*models.Appointment, error) {
	s.lastBooking = req
	return s.appt, s.err
}

func (s *schedulingStub) RequestFollowUp(_ context.Context, _ string, req dto.RequestFollowUpRequest, _ *models.JWTClaims) (*models.FollowUpAppointment, error) {
	s.lastFollowUp = req
	return s.fu, s.err
}

func (s *schedulingStub) Get(context.Context, string, *models.JWTClaims) (*models.Appointment, error) {
	return s.appt, s.err
}

func (s *schedulingStub) List(context.Context, dto.AppointmentQuery, *models.JWTClaims) ([]models.Appointment, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.appt == nil {
		return nil, nil
	}
	return []models.Appointment{*s.appt}, nil
}

func (s *schedulingStub) GetFollowUp(context.Context, string, *models.JWTClaims) (*models.FollowUpAppointment, error) {
	return s.fu, s.err
}

func (s *schedulingStub) ListFollowUps(context.Context, string, *models.JWTClaims) ([]models.FollowUpAppointment, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.fu == nil {
		return nil, nil
	}
	return []models.FollowUpAppointment{*s.fu}, nil
}

type transitionStub struct {
	appt       *models.Appointment
	fu         *models.FollowUpAppointment
	err        error
	lastReason string
	lastTarget models.AppointmentStatus
}

func (s *transitionStub) Approve(context.Context, string, *models.JWTClaims) (*models.Appointment, error) {
	return s.appt, s.err
}

func (s *transitionStub) Reject(_ context.Context, _ string, reason string, _ *models.JWTClaims) (*models.Appointment, error) {
	s.lastReason = reason
	return s.appt, s.err
}

func (s *transitionStub) Complete(context.Context, string, *models.JWTClaims) (*models.Appointment, error) {
	return s.appt, s.err
}

func (s *transitionStub) Cancel(_ context.Context, _ string, reason string, _ *models.JWTClaims) (*models.Appointment, error) {
	s.lastReason = reason
	return s.appt, s.err
}

func (s *transitionStub) TransitionFollowUp(_ context.Context, _ string, to models.AppointmentStatus, reason string, _ *models.JWTClaims) (*models.FollowUpAppointment, error) {
	s.lastTarget = to
	s.lastReason = reason
	return s.fu, s.err
}

func buildRouter(scheduling *schedulingStub, transitions *transitionStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
				UserID: c.GetHeader("X-Test-User"),
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})

	h := NewAppointmentHandler(scheduling, transitions)
	router.POST("/appointments", h.Create)
	router.GET("/appointments", h.List)
	router.GET("/appointments/:id", h.Get)
	router.POST("/appointments/:id/reject", h.Reject)
	router.POST("/appointments/:id/follow-ups", h.CreateFollowUp)
	router.POST("/follow-ups/:id/:action", h.TransitionFollowUp)
	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func validBookingBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(dto.RequestAppointmentRequest{
		CounselorID:      "counselor-1",
		PreferredDate:    "2026-09-14",
		PreferredTime:    "10:00",
		ConsultationType: "individual",
		MethodType:       "in_person",
		Purpose:          "counseling",
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestAppointmentHandlerCreate(t *testing.T) {
	scheduling := &schedulingStub{appt: &models.Appointment{ID: "appt-1", Status: models.StatusPending}}
	router := buildRouter(scheduling, &transitionStub{})

	req, _ := http.NewRequest(http.MethodPost, "/appointments", validBookingBody(t))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleStudent))
	req.Header.Set("X-Test-User", "student-1")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Contains(t, resp.Body.String(), `"pending"`)
	require.Equal(t, "counselor-1", scheduling.lastBooking.CounselorID)
}

func TestAppointmentHandlerCreateUnauthorized(t *testing.T) {
	router := buildRouter(&schedulingStub{}, &transitionStub{})

	req, _ := http.NewRequest(http.MethodPost, "/appointments", validBookingBody(t))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAppointmentHandlerConflictStatus(t *testing.T) {
	conflict := &models.SlotConflictError{ConflictingID: "appt-7", Kind: models.EventKindAppointment}
	scheduling := &schedulingStub{err: appErrors.ErrSlotConflict.WithDetails(conflict)}
	router := buildRouter(scheduling, &transitionStub{})

	req, _ := http.NewRequest(http.MethodPost, "/appointments", validBookingBody(t))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleStudent))
	resp := performRequest(router, req)

	require.Equal(t, http.StatusConflict, resp.Code)
	require.Contains(t, resp.Body.String(), "SLOT_CONFLICT")
	require.Contains(t, resp.Body.String(), `"conflicting_appointment_id":"appt-7"`)
}

func TestAppointmentHandlerListStatusFilter(t *testing.T) {
	scheduling := &schedulingStub{appt: &models.Appointment{ID: "appt-1", Status: models.StatusApproved}}
	router := buildRouter(scheduling, &transitionStub{})

	req, _ := http.NewRequest(http.MethodGet, "/appointments?status=Approved,pending", nil)
	req.Header.Set("X-Test-Role", string(models.RoleAdmin))
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)

	req, _ = http.NewRequest(http.MethodGet, "/appointments?status=bogus", nil)
	req.Header.Set("X-Test-Role", string(models.RoleAdmin))
	resp = performRequest(router, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAppointmentHandlerRejectPassesReason(t *testing.T) {
	transitions := &transitionStub{appt: &models.Appointment{ID: "appt-1", Status: models.StatusRejected}}
	router := buildRouter(&schedulingStub{}, transitions)

	req, _ := http.NewRequest(http.MethodPost, "/appointments/appt-1/reject", bytes.NewBufferString(`{"reason":"no capacity"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleCounselor))
	resp := performRequest(router, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "no capacity", transitions.lastReason)
}

func TestAppointmentHandlerMissingReasonStatus(t *testing.T) {
	transitions := &transitionStub{err: appErrors.ErrMissingReason}
	router := buildRouter(&schedulingStub{}, transitions)

	req, _ := http.NewRequest(http.MethodPost, "/appointments/appt-1/reject", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleCounselor))
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "MISSING_REASON")
}

func TestAppointmentHandlerFollowUpCreate(t *testing.T) {
	scheduling := &schedulingStub{fu: &models.FollowUpAppointment{ID: "fu-1", FollowUpSequence: 1, Status: models.StatusPending}}
	router := buildRouter(scheduling, &transitionStub{})

	body, _ := json.Marshal(dto.RequestFollowUpRequest{
		PreferredDate:    "2026-09-21",
		PreferredTime:    "10:00",
		ConsultationType: "individual",
		MethodType:       "video",
		Purpose:          "counseling",
	})
	req, _ := http.NewRequest(http.MethodPost, "/appointments/appt-1/follow-ups", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleCounselor))
	resp := performRequest(router, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Contains(t, resp.Body.String(), `"follow_up_sequence":1`)
}

func TestAppointmentHandlerFollowUpTransitionTarget(t *testing.T) {
	transitions := &transitionStub{fu: &models.FollowUpAppointment{ID: "fu-1", Status: models.StatusCompleted}}
	router := buildRouter(&schedulingStub{}, transitions)

	req, _ := http.NewRequest(http.MethodPost, "/follow-ups/fu-1/complete", nil)
	req.Header.Set("X-Test-Role", string(models.RoleCounselor))
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, models.StatusCompleted, transitions.lastTarget)

	req, _ = http.NewRequest(http.MethodPost, "/follow-ups/fu-1/bogus", nil)
	req.Header.Set("X-Test-Role", string(models.RoleCounselor))
	resp = performRequest(router, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
