package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-counseling-api/internal/dto"
	"github.com/noah-isme/campus-counseling-api/internal/models"
	appErrors "github.com/noah-isme/campus-counseling-api/pkg/errors"
	"github.com/noah-isme/campus-counseling-api/pkg/response"
)

type schedulingService interface {
	RequestAppointment(ctx context.Context, req dto.RequestAppointmentRequest, actor *models.JWTClaims) (*models.Appointment, error)
	RequestFollowUp(ctx context.Context, parentID string, req dto.RequestFollowUpRequest, actor *models.JWTClaims) (*models.FollowUpAppointment, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appointment, error)
	List(ctx context.Context, query dto.AppointmentQuery, actor *models.JWTClaims) ([]models.Appointment, error)
	GetFollowUp(ctx context.Context, id string, actor *models.JWTClaims) (*models.FollowUpAppointment, error)
	ListFollowUps(ctx context.Context, parentID string, actor *models.JWTClaims) ([]models.FollowUpAppointment, error)
}

type transitionService interface {
	Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appointment, error)
	Reject(ctx context.Context, id, reason string, actor *models.JWTClaims) (*models.Appointment, error)
	Complete(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appointment, error)
	Cancel(ctx context.Context, id, reason string, actor *models.JWTClaims) (*models.Appointment, error)
	TransitionFollowUp(ctx context.Context, id string, to models.AppointmentStatus, reason string, actor *models.JWTClaims) (*models.FollowUpAppointment, error)
}

// AppointmentHandler exposes REST endpoints for bookings and transitions.
type AppointmentHandler struct {
	scheduling  schedulingService
	transitions transitionService
}

// NewAppointmentHandler constructs the handler.
func NewAppointmentHandler(scheduling schedulingService, transitions transitionService) *AppointmentHandler {
	return &AppointmentHandler{scheduling: scheduling, transitions: transitions}
}

// Create godoc
// @Summary Request a counseling appointment
// @Tags Appointments
// @Accept json
// @Produce json
// @Param payload body dto.RequestAppointmentRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /appointments [post]
func (h *AppointmentHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RequestAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid booking payload"))
		return
	}
	appt, err := h.scheduling.RequestAppointment(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, appt, nil)
}

// List godoc
// @Summary List appointments visible to the caller
// @Tags Appointments
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param dateFrom query string false "Earliest preferred date"
// @Param dateTo query string false "Latest preferred date"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /appointments [get]
func (h *AppointmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.AppointmentQuery{
		StudentID:   strings.TrimSpace(c.Query("studentId")),
		CounselorID: strings.TrimSpace(c.Query("counselorId")),
		DateFrom:    strings.TrimSpace(c.Query("dateFrom")),
		DateTo:      strings.TrimSpace(c.Query("dateTo")),
	}
	if raw := c.Query("status"); raw != "" {
		parts := strings.Split(raw, ",")
		statuses := make([]models.AppointmentStatus, 0, len(parts))
		for _, part := range parts {
			status, ok := models.NormalizeStatus(part)
			if !ok {
				response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown status: "+part))
				return
			}
			statuses = append(statuses, status)
		}
		query.Status = statuses
	}
	if raw := c.Query("page"); raw != "" {
		query.Page, _ = strconv.Atoi(raw)
	}
	if raw := c.Query("pageSize"); raw != "" {
		query.PageSize, _ = strconv.Atoi(raw)
	}

	appts, err := h.scheduling.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appts, nil)
}

// Get godoc
// @Summary Get appointment detail
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id} [get]
func (h *AppointmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	appt, err := h.scheduling.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appt, nil)
}

// Approve godoc
// @Summary Approve a pending appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/approve [post]
func (h *AppointmentHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	appt, err := h.transitions.Approve(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appt, nil)
}

// Reject godoc
// @Summary Reject a pending appointment
// @Tags Appointments
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body dto.TransitionRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/reject [post]
func (h *AppointmentHandler) Reject(c *gin.Context) {
	h.transitionWithReason(c, func(ctx context.Context, id, reason string, claims *models.JWTClaims) (interface{}, error) {
		return h.transitions.Reject(ctx, id, reason, claims)
	})
}

// Complete godoc
// @Summary Mark an approved appointment as completed
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/complete [post]
func (h *AppointmentHandler) Complete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	appt, err := h.transitions.Complete(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appt, nil)
}

// Cancel godoc
// @Summary Cancel an approved appointment
// @Tags Appointments
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body dto.TransitionRequest true "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/cancel [post]
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	h.transitionWithReason(c, func(ctx context.Context, id, reason string, claims *models.JWTClaims) (interface{}, error) {
		return h.transitions.Cancel(ctx, id, reason, claims)
	})
}

func (h *AppointmentHandler) transitionWithReason(c *gin.Context, fn func(ctx context.Context, id, reason string, claims *models.JWTClaims) (interface{}, error)) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	result, err := fn(c.Request.Context(), c.Param("id"), req.Reason, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// CreateFollowUp godoc
// @Summary Book a follow-up session under a completed appointment
// @Tags FollowUps
// @Accept json
// @Produce json
// @Param id path string true "Parent appointment ID"
// @Param payload body dto.RequestFollowUpRequest true "Follow-up payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /appointments/{id}/follow-ups [post]
func (h *AppointmentHandler) CreateFollowUp(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RequestFollowUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid follow-up payload"))
		return
	}
	fu, err := h.scheduling.RequestFollowUp(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, fu, nil)
}

// ListFollowUps godoc
// @Summary List a parent appointment's follow-up chain
// @Tags FollowUps
// @Produce json
// @Param id path string true "Parent appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/follow-ups [get]
func (h *AppointmentHandler) ListFollowUps(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fus, err := h.scheduling.ListFollowUps(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fus, nil)
}

// GetFollowUp godoc
// @Summary Get follow-up detail
// @Tags FollowUps
// @Produce json
// @Param id path string true "Follow-up ID"
// @Success 200 {object} response.Envelope
// @Router /follow-ups/{id} [get]
func (h *AppointmentHandler) GetFollowUp(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fu, err := h.scheduling.GetFollowUp(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fu, nil)
}

// followUpActions maps the transition path segment onto target statuses.
var followUpActions = map[string]models.AppointmentStatus{
	"complete": models.StatusCompleted,
	"cancel":   models.StatusCancelled,
	"reject":   models.StatusRejected,
}

// TransitionFollowUp godoc
// @Summary Transition a follow-up session
// @Tags FollowUps
// @Accept json
// @Produce json
// @Param id path string true "Follow-up ID"
// @Param action path string true "One of complete, cancel, reject"
// @Param payload body dto.TransitionRequest false "Optional reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /follow-ups/{id}/{action} [post]
func (h *AppointmentHandler) TransitionFollowUp(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	target, ok := followUpActions[strings.ToLower(strings.TrimSpace(c.Param("action")))]
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown follow-up action"))
		return
	}
	var req dto.TransitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
			return
		}
	}
	fu, err := h.transitions.TransitionFollowUp(c.Request.Context(), c.Param("id"), target, req.Reason, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fu, nil)
}
