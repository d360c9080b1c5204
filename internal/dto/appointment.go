package dto

import "github.com/noah-isme/campus-counseling-api/internal/models"

// RequestAppointmentRequest is the student booking payload. Counselor may be
// a concrete counselor id or the "no-preference" sentinel.
type RequestAppointmentRequest struct {
	CounselorID      string `json:"counselorId" validate:"required"`
	PreferredDate    string `json:"preferredDate" validate:"required,datetime=2006-01-02"`
	PreferredTime    string `json:"preferredTime" validate:"required"`
	ConsultationType string `json:"consultationType" validate:"required,oneof=individual group"`
	MethodType       string `json:"methodType" validate:"required,oneof=in_person video audio"`
	Purpose          string `json:"purpose" validate:"required,oneof=counseling psychosocial initial_interview"`
	Description      string `json:"description" validate:"max=2000"`
}

// TransitionRequest carries the optional reason for Reject/Cancel calls.
type TransitionRequest struct {
	Reason string `json:"reason"`
}

// AppointmentQuery mirrors supported listing filters.
type AppointmentQuery struct {
	Status      []models.AppointmentStatus
	StudentID   string
	CounselorID string
	DateFrom    string
	DateTo      string
	Page        int
	PageSize    int
}

// RequestAppointmentResponse returns the created booking identifier.
type RequestAppointmentResponse struct {
	AppointmentID string                   `json:"appointmentId"`
	Status        models.AppointmentStatus `json:"status"`
}
