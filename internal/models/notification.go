package models

import "time"

// StatusChangeEvent is the outward notification emitted once per successful
// booking or transition. Consumed by the external notification dispatcher.
type StatusChangeEvent struct {
	AppointmentID string            `json:"appointment_id"`
	Kind          string            `json:"kind"` // "appointment" or "follow_up"
	OldStatus     AppointmentStatus `json:"old_status,omitempty"`
	NewStatus     AppointmentStatus `json:"new_status"`
	Reason        string            `json:"reason,omitempty"`
	Recipient     string            `json:"recipient"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// Event kinds.
const (
	EventKindAppointment = "appointment"
	EventKindFollowUp    = "follow_up"
)
