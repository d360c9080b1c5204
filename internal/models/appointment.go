package models

import (
	"fmt"
	"strings"
	"time"
)

// AppointmentStatus is the canonical lowercase status vocabulary shared with
// the storage check constraints.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusApproved  AppointmentStatus = "approved"
	StatusRejected  AppointmentStatus = "rejected"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// NoPreference is the sentinel counselor identifier meaning the student
// accepts any counselor. Slots claimed under it never collide with each other.
const NoPreference = "no-preference"

// ConsultationType enumerates session formats.
type ConsultationType string

const (
	ConsultationIndividual ConsultationType = "individual"
	ConsultationGroup      ConsultationType = "group"
)

// MethodType enumerates delivery channels.
type MethodType string

const (
	MethodInPerson MethodType = "in_person"
	MethodVideo    MethodType = "video"
	MethodAudio    MethodType = "audio"
)

// Purpose enumerates why the session was requested.
type Purpose string

const (
	PurposeCounseling       Purpose = "counseling"
	PurposePsychosocial     Purpose = "psychosocial"
	PurposeInitialInterview Purpose = "initial_interview"
)

// AppointmentTransitions is the legal transition table for appointments.
// Rejected, completed and cancelled are terminal.
var AppointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted, StatusCancelled},
}

// FollowUpTransitions is the reduced table for counselor-initiated follow-up
// sessions, which skip the approval step.
var FollowUpTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending: {StatusCompleted, StatusCancelled, StatusRejected},
}

// TransitionAllowed reports whether from may move to next under the table.
func TransitionAllowed(table map[AppointmentStatus][]AppointmentStatus, from, next AppointmentStatus) bool {
	for _, allowed := range table[from] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NormalizeStatus folds the mixed-case vocabulary used by older clients onto
// the canonical lowercase strings.
func NormalizeStatus(raw string) (AppointmentStatus, bool) {
	switch AppointmentStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusCancelled:
		return StatusCancelled, true
	}
	return "", false
}

// Appointment represents a requested counseling session.
type Appointment struct {
	ID               string            `db:"id" json:"id"`
	StudentID        string            `db:"student_id" json:"student_id"`
	CounselorID      string            `db:"counselor_id" json:"counselor_id"`
	PreferredDate    string            `db:"preferred_date" json:"preferred_date"`
	PreferredTime    string            `db:"preferred_time" json:"preferred_time"`
	ConsultationType ConsultationType  `db:"consultation_type" json:"consultation_type"`
	MethodType       MethodType        `db:"method_type" json:"method_type"`
	Purpose          Purpose           `db:"purpose" json:"purpose"`
	Description      string            `db:"description" json:"description"`
	Status           AppointmentStatus `db:"status" json:"status"`
	Reason           *string           `db:"reason" json:"reason,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// HasCounselorPreference reports whether a concrete counselor was named.
func (a *Appointment) HasCounselorPreference() bool {
	return a.CounselorID != "" && a.CounselorID != NoPreference
}

// AppointmentFilter captures listing criteria. IncludeNoPreference widens a
// counselor-scoped listing to rows still carrying the no-preference sentinel.
type AppointmentFilter struct {
	Status              []AppointmentStatus
	StudentID           string
	CounselorID         string
	IncludeNoPreference bool
	DateFrom            string
	DateTo              string
	Page                int
	PageSize            int
}

// SlotClaim identifies the booking occupying a slot.
type SlotClaim struct {
	ID   string `db:"id"`
	Kind string `db:"kind"`
}

// SlotConflictError carries the conflicting booking so callers can render it.
type SlotConflictError struct {
	ConflictingID string `json:"conflicting_appointment_id"`
	Kind          string `json:"kind"`
}

// Error implements the error interface.
func (e *SlotConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("slot already claimed by %s %s", e.Kind, e.ConflictingID)
}
