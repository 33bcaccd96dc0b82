package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/masoudkazak/ai-sms-guard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRepositoryGetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "provider_message_id", "phone", "body", "rewritten_body", "status",
		"retry_count", "segment_count", "last_dlr", "provider_status", "created_at", "updated_at",
	}).AddRow(1, "PMSG1", "+15551234567", "hello", nil, string(models.StatusSent), 0, 1, "DELIVERED", 10, now, now)

	mock.ExpectQuery("SELECT id, provider_message_id, phone, body").
		WithArgs(int64(1)).
		WillReturnRows(rows)

	repo := NewEventRepository(db)
	event, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", event.Phone)
	assert.Equal(t, models.StatusSent, event.Status)
	require.NotNil(t, event.ProviderMessageID)
	assert.Equal(t, "PMSG1", *event.ProviderMessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, provider_message_id, phone, body").
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	repo := NewEventRepository(db)
	_, err = repo.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestEventRepositoryUpdateStatusCoalescesNilDLR(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sms_events").
		WithArgs(string(models.StatusBlocked), nil, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewEventRepository(db)
	err = repo.UpdateStatus(context.Background(), 7, models.StatusBlocked, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
