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

func TestRuleRepositoryListActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRuleRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + ruleColumns + " FROM rules WHERE 1=1 AND active = TRUE ORDER BY category, code")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "category", "points", "active", "created_at", "updated_at"}).
			AddRow("r1", "LATE", "Late", "LIGHT", 5, true, now, now))

	rules, err := repo.List(context.Background(), models.RuleFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, uint(5), rules[0].Points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryIsReferenced(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRuleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM violations WHERE rule_id = $1)")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	referenced, err := repo.IsReferenced(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, referenced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRuleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE rules SET")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Rule{ID: "missing", Code: "X", Category: models.RuleCategoryLight})
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
