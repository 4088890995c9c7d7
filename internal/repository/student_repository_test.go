package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "identity_ref", "nis", "full_name", "program", "cohort", "affiliation", "track", "point_total", "status", "version", "created_at", "updated_at"})
}

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	status := models.StudentStatusProbation
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + studentColumns + " FROM students WHERE 1=1 AND status = $1 ORDER BY point_total ASC LIMIT 20 OFFSET 0")).
		WithArgs(status).
		WillReturnRows(studentRows().AddRow("s1", "u1", "001", "Student", "Science", "2024", "Red", "Music", 25, "PROBATION", 3, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE 1=1 AND status = $1")).
		WithArgs(status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{Status: &status, SortBy: "point_total", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, 25, students[0].PointTotal)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDLocks(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), nil, "missing", LockUpdate)
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDsLocksInIDOrder(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = ANY($1) ORDER BY id FOR UPDATE")).
		WillReturnRows(studentRows().
			AddRow("s1", "u1", "001", "Ani", "Science", "2024", "", "", 0, "NORMAL", 1, now, now).
			AddRow("s2", "u2", "002", "Budi", "Science", "2024", "", "", 0, "NORMAL", 1, now, now))

	students, err := repo.FindByIDs(context.Background(), nil, []string{"s2", "s1"}, LockUpdate)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "s1", students[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryAddPoints(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE students SET point_total = GREATEST(point_total + $2, 0)")).
		WithArgs("s1", -10, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "point_total", "status", "version"}).AddRow("s1", 15, "PROBATION", 4))

	tally, err := repo.AddPoints(context.Background(), nil, "s1", -10)
	require.NoError(t, err)
	assert.Equal(t, 15, tally.PointTotal)
	assert.Equal(t, models.StudentStatusProbation, tally.Status)
	assert.Equal(t, int64(4), tally.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateStatusVersionMismatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET status = $2, version = version + 1, updated_at = $4 WHERE id = $1 AND version = $3")).
		WithArgs("s1", models.StudentStatusNormal, int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatus(context.Background(), nil, "s1", models.StudentStatusNormal, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDeleteMany(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	affected, err := repo.DeleteMany(context.Background(), nil, []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	affected, err = repo.DeleteMany(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
