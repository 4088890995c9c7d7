package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

// StatusHistoryRepository records tier transitions.
type StatusHistoryRepository struct {
	db *sqlx.DB
}

// NewStatusHistoryRepository constructs a StatusHistoryRepository.
func NewStatusHistoryRepository(db *sqlx.DB) *StatusHistoryRepository {
	return &StatusHistoryRepository{db: db}
}

func (r *StatusHistoryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create appends a status change.
func (r *StatusHistoryRepository) Create(ctx context.Context, exec sqlx.ExtContext, change *models.StatusChange) error {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO status_history (id, student_id, from_status, to_status, point_total, reason, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.exec(exec).ExecContext(ctx, query,
		change.ID, change.StudentID, change.FromStatus, change.ToStatus, change.PointTotal, change.Reason, change.CreatedAt,
	); err != nil {
		return fmt.Errorf("create status change: %w", err)
	}
	return nil
}

// ListByStudent returns a student's history, newest first.
func (r *StatusHistoryRepository) ListByStudent(ctx context.Context, studentID string) ([]models.StatusChange, error) {
	const query = `SELECT id, student_id, from_status, to_status, point_total, reason, created_at FROM status_history WHERE student_id = $1 ORDER BY created_at DESC`
	var changes []models.StatusChange
	if err := r.db.SelectContext(ctx, &changes, query, studentID); err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return changes, nil
}

// DeleteByStudents removes the history of the given students.
func (r *StatusHistoryRepository) DeleteByStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error) {
	return deleteWhereAny(ctx, r.exec(exec), "status_history", "student_id", studentIDs)
}
