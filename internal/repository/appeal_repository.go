package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

const appealColumns = `id, violation_id, student_id, reason, decision, decided_by, decided_at, created_at`

// AppealRepository persists appeals against violations.
type AppealRepository struct {
	db *sqlx.DB
}

// NewAppealRepository constructs an AppealRepository.
func NewAppealRepository(db *sqlx.DB) *AppealRepository {
	return &AppealRepository{db: db}
}

func (r *AppealRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create stores a pending appeal.
func (r *AppealRepository) Create(ctx context.Context, appeal *models.Appeal) error {
	if appeal.ID == "" {
		appeal.ID = uuid.NewString()
	}
	appeal.Decision = models.AppealPending
	appeal.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO appeals (id, violation_id, student_id, reason, decision, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, appeal.ID, appeal.ViolationID, appeal.StudentID, appeal.Reason, appeal.Decision, appeal.CreatedAt); err != nil {
		return fmt.Errorf("create appeal: %w", err)
	}
	return nil
}

// FindByID loads an appeal. sql.ErrNoRows is returned unwrapped.
func (r *AppealRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock RowLock) (*models.Appeal, error) {
	query := fmt.Sprintf("SELECT %s FROM appeals WHERE id = $1%s", appealColumns, lock)
	var appeal models.Appeal
	if err := sqlx.GetContext(ctx, r.exec(exec), &appeal, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find appeal: %w", err)
	}
	return &appeal, nil
}

// HasPending reports whether the violation already has an undecided appeal.
func (r *AppealRepository) HasPending(ctx context.Context, violationID string) (bool, error) {
	var pending bool
	const query = `SELECT EXISTS (SELECT 1 FROM appeals WHERE violation_id = $1 AND decision = $2)`
	if err := r.db.GetContext(ctx, &pending, query, violationID, models.AppealPending); err != nil {
		return false, fmt.Errorf("check pending appeal: %w", err)
	}
	return pending, nil
}

// List returns appeals matching the filter, newest first.
func (r *AppealRepository) List(ctx context.Context, filter models.AppealFilter) ([]models.Appeal, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Decision != nil {
		conditions = append(conditions, fmt.Sprintf("decision = $%d", len(args)+1))
		args = append(args, *filter.Decision)
	}
	query := fmt.Sprintf("SELECT %s FROM appeals WHERE %s ORDER BY created_at DESC", appealColumns, strings.Join(conditions, " AND "))
	var appeals []models.Appeal
	if err := r.db.SelectContext(ctx, &appeals, query, args...); err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	return appeals, nil
}

// Decide settles a pending appeal. sql.ErrNoRows means it was no longer pending.
func (r *AppealRepository) Decide(ctx context.Context, exec sqlx.ExtContext, id string, decision models.AppealDecision, decidedBy string, at time.Time) error {
	const query = `UPDATE appeals SET decision = $2, decided_by = $3, decided_at = $4 WHERE id = $1 AND decision = $5`
	result, err := r.exec(exec).ExecContext(ctx, query, id, decision, decidedBy, at, models.AppealPending)
	if err != nil {
		return fmt.Errorf("decide appeal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("appeal rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteByStudents removes every appeal of the given students.
func (r *AppealRepository) DeleteByStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error) {
	return deleteWhereAny(ctx, r.exec(exec), "appeals", "student_id", studentIDs)
}
