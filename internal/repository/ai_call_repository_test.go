package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestAiCallRepositoryInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eventID := int64(42)
	mock.ExpectExec("INSERT INTO ai_calls").
		WithArgs(int64(42), "openrouter/auto", 10, 20, "REWRITE", "too long").
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewAiCallRepository(db)
	err = repo.Insert(context.Background(), &eventID, "openrouter/auto", 10, 20, "REWRITE", "too long")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
