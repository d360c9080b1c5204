package dto

import "github.com/noah-isme/campus-counseling-api/internal/models"

// RequestFollowUpRequest books a chained session under a completed parent.
// The sequence number and counselor are never caller-supplied; both derive
// from the parent appointment.
type RequestFollowUpRequest struct {
	PreferredDate    string `json:"preferredDate" validate:"required,datetime=2006-01-02"`
	PreferredTime    string `json:"preferredTime" validate:"required"`
	ConsultationType string `json:"consultationType" validate:"required,oneof=individual group"`
	MethodType       string `json:"methodType" validate:"required,oneof=in_person video audio"`
	Purpose          string `json:"purpose" validate:"required,oneof=counseling psychosocial initial_interview"`
	Description      string `json:"description" validate:"max=2000"`
}

// RequestFollowUpResponse returns the created follow-up and its sequence.
type RequestFollowUpResponse struct {
	FollowUpID       string                   `json:"followUpId"`
	FollowUpSequence int                      `json:"followUpSequence"`
	Status           models.AppointmentStatus `json:"status"`
}
