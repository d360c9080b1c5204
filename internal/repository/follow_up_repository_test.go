package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-counseling-api/internal/models"
)

func followUpColumns() []string {
	return []string{"id", "parent_appointment_id", "follow_up_sequence", "student_id", "counselor_id", "preferred_date", "preferred_time", "consultation_type", "method_type", "purpose", "description", "status", "reason", "created_at", "updated_at"}
}

func TestFollowUpRepositoryNextSequence(t *testing.T) {
	db, mock, cleanup := newAppointmentRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(follow_up_sequence), 0) + 1")).
		WithArgs("parent-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	next, err := repo.NextSequence(context.Background(), tx, "parent-1")
	require.NoError(t, err)
	require.Equal(t, 3, next)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowUpRepositoryCreateAndList(t *testing.T) {
	db, mock, cleanup := newAppointmentRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO follow_up_appointments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	fu := &models.FollowUpAppointment{
		ParentAppointmentID: "parent-1",
		FollowUpSequence:    1,
		StudentID:           "student-1",
		CounselorID:         "counselor-1",
		PreferredDate:       "2026-09-21",
		PreferredTime:       "10:00",
		ConsultationType:    models.ConsultationIndividual,
		MethodType:          models.MethodVideo,
		Purpose:             models.PurposeCounseling,
	}
	require.NoError(t, repo.Create(context.Background(), nil, fu))
	require.NotEmpty(t, fu.ID)
	require.Equal(t, models.StatusPending, fu.Status)

	rows := sqlmock.NewRows(followUpColumns()).
		AddRow("fu-1", "parent-1", 1, "student-1", "counselor-1", "2026-09-21", "10:00", "individual", "video", "counseling", "", "pending", nil, time.Now(), time.Now()).
		AddRow("fu-2", "parent-1", 2, "student-1", "counselor-1", "2026-09-28", "10:00", "individual", "video", "counseling", "", "pending", nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, parent_appointment_id, follow_up_sequence")).
		WithArgs("parent-1").
		WillReturnRows(rows)

	list, err := repo.ListByParent(context.Background(), "parent-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, 1, list[0].FollowUpSequence)
	require.Equal(t, 2, list[1].FollowUpSequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowUpRepositoryUpdateStatusGuarded(t *testing.T) {
	db, mock, cleanup := newAppointmentRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	reason := "student unavailable"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE follow_up_appointments")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), nil, "fu-1", models.StatusPending, models.StatusCancelled, &reason))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE follow_up_appointments")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateStatus(context.Background(), nil, "fu-1", models.StatusPending, models.StatusCancelled, &reason)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
