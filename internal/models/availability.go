package models

import "time"

// Weekday names accepted in counselor availability rows. The counseling
// office only schedules on weekdays.
const (
	DayMonday    = "monday"
	DayTuesday   = "tuesday"
	DayWednesday = "wednesday"
	DayThursday  = "thursday"
	DayFriday    = "friday"
)

// CounselorAvailability is one recurring weekly window. Owned by counselor
// profile management; the scheduling core only reads it.
type CounselorAvailability struct {
	ID          string    `db:"id" json:"id"`
	CounselorID string    `db:"counselor_id" json:"counselor_id"`
	DayOfWeek   string    `db:"day_of_week" json:"day_of_week"`
	StartTime   string    `db:"start_time" json:"start_time"`
	EndTime     string    `db:"end_time" json:"end_time"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
