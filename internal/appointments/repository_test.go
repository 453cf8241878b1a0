package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSetsDefaults(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	customerID := uuid.New()
	created := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), customerID, "2025-01-20", "14:00", pgxmock.AnyArg(), StatusScheduled, "APPT-1A2B3C4D").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))

	appt := &Appointment{CustomerID: customerID, Date: "2025-01-20", Time: "14:00", Procedure: "Limpeza", ConfirmationCode: "APPT-1A2B3C4D"}
	require.NoError(t, repo.Create(context.Background(), appt))
	assert.NotEqual(t, uuid.Nil, appt.ID)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, created, appt.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSlotConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: slotConstraint})

	err = repo.Create(context.Background(), &Appointment{CustomerID: uuid.New(), Date: "2025-01-20", Time: "14:00", ConfirmationCode: "APPT-00000001"})
	assert.ErrorIs(t, err, ErrSlotTaken)

	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_confirmation_code_key"})
	err = repo.Create(context.Background(), &Appointment{CustomerID: uuid.New(), Date: "2025-01-20", Time: "15:00", ConfirmationCode: "APPT-00000001"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByCode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	id, customerID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT id, customer_id").
		WithArgs("APPT-1A2B3C4D").
		WillReturnRows(pgxmock.NewRows([]string{"id", "customer_id", "scheduled_date", "scheduled_time", "procedure", "status", "confirmation_code", "calendar_event_id", "created_at"}).
			AddRow(id, customerID, "2025-01-20", "14:00", "Limpeza", StatusScheduled, "APPT-1A2B3C4D", "evt-1", time.Now()))

	appt, err := repo.GetByCode(context.Background(), "APPT-1A2B3C4D")
	require.NoError(t, err)
	assert.Equal(t, id, appt.ID)
	assert.Equal(t, "14:00", appt.Time)
	assert.Equal(t, "evt-1", appt.CalendarEventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByCodeNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	mock.ExpectQuery("SELECT id, customer_id").
		WithArgs("APPT-00000000").
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByCode(context.Background(), "APPT-00000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	mock.ExpectExec("UPDATE appointments").
		WithArgs("APPT-1A2B3C4D", StatusCanceled).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE appointments").
		WithArgs("APPT-FFFFFFFF", StatusCanceled).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.Cancel(context.Background(), "APPT-1A2B3C4D"))
	assert.ErrorIs(t, repo.Cancel(context.Background(), "APPT-FFFFFFFF"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookedTimesForDate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	mock.ExpectQuery("SELECT to_char").
		WithArgs("2025-01-20", StatusCanceled).
		WillReturnRows(pgxmock.NewRows([]string{"to_char"}).AddRow("09:00").AddRow("14:00"))

	times, err := repo.BookedTimesForDate(context.Background(), "2025-01-20")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "14:00"}, times)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookedTimesForDateQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	mock.ExpectQuery("SELECT to_char").WillReturnError(errors.New("boom"))

	_, err = repo.BookedTimesForDate(context.Background(), "2025-01-20")
	assert.Error(t, err)
}
