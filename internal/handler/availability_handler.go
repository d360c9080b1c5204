package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-counseling-api/internal/models"
	appErrors "github.com/noah-isme/campus-counseling-api/pkg/errors"
	"github.com/noah-isme/campus-counseling-api/pkg/response"
)

type availabilityService interface {
	ListForCounselor(ctx context.Context, counselorID string) ([]models.CounselorAvailability, error)
}

// AvailabilityHandler exposes counselor availability windows.
type AvailabilityHandler struct {
	service availabilityService
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(service availabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: service}
}

// List godoc
// @Summary List a counselor's weekly availability windows
// @Tags Availability
// @Produce json
// @Param id path string true "Counselor ID"
// @Success 200 {object} response.Envelope
// @Router /counselors/{id}/availability [get]
func (h *AvailabilityHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	windows, err := h.service.ListForCounselor(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, windows, nil)
}
