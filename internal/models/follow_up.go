package models

import "time"

// FollowUpAppointment is a chained session created under a completed parent
// appointment. Sequence numbers are assigned by the repository and are
// contiguous from 1 per parent.
type FollowUpAppointment struct {
	ID                  string            `db:"id" json:"id"`
	ParentAppointmentID string            `db:"parent_appointment_id" json:"parent_appointment_id"`
	FollowUpSequence    int               `db:"follow_up_sequence" json:"follow_up_sequence"`
	StudentID           string            `db:"student_id" json:"student_id"`
	CounselorID         string            `db:"counselor_id" json:"counselor_id"`
	PreferredDate       string            `db:"preferred_date" json:"preferred_date"`
	PreferredTime       string            `db:"preferred_time" json:"preferred_time"`
	ConsultationType    ConsultationType  `db:"consultation_type" json:"consultation_type"`
	MethodType          MethodType        `db:"method_type" json:"method_type"`
	Purpose             Purpose           `db:"purpose" json:"purpose"`
	Description         string            `db:"description" json:"description"`
	Status              AppointmentStatus `db:"status" json:"status"`
	Reason              *string           `db:"reason" json:"reason,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}
