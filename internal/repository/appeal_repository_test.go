package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

func TestAppealRepositoryCreateIsPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAppealRepository(db)

	mock.ExpectExec("INSERT INTO appeals").
		WithArgs(sqlmock.AnyArg(), "v1", "s1", "unfair", models.AppealPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	appeal := &models.Appeal{ViolationID: "v1", StudentID: "s1", Reason: "unfair", Decision: models.AppealAccepted}
	require.NoError(t, repo.Create(context.Background(), appeal))
	assert.Equal(t, models.AppealPending, appeal.Decision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryDecideAlreadyDecided(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAppealRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE appeals SET decision = $2, decided_by = $3, decided_at = $4 WHERE id = $1 AND decision = $5")).
		WithArgs("a1", models.AppealRejected, "admin", sqlmock.AnyArg(), models.AppealPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Decide(context.Background(), nil, "a1", models.AppealRejected, "admin", time.Now())
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
