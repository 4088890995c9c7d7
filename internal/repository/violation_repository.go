package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

const violationColumns = `id, student_id, rule_id, points, occurred_at, note, evidence_refs, recorded_by, reversed, reversed_at, reversed_by, created_at`

// ViolationRepository is the persistence side of the violation ledger.
type ViolationRepository struct {
	db *sqlx.DB
}

// NewViolationRepository constructs a ViolationRepository.
func NewViolationRepository(db *sqlx.DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

func (r *ViolationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create appends a violation record.
func (r *ViolationRepository) Create(ctx context.Context, exec sqlx.ExtContext, violation *models.Violation) error {
	if violation.ID == "" {
		violation.ID = uuid.NewString()
	}
	if violation.CreatedAt.IsZero() {
		violation.CreatedAt = time.Now().UTC()
	}
	if violation.EvidenceRefs == nil {
		violation.EvidenceRefs = pq.StringArray{}
	}
	const query = `INSERT INTO violations (id, student_id, rule_id, points, occurred_at, note, evidence_refs, recorded_by, reversed, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)`
	if _, err := r.exec(exec).ExecContext(ctx, query,
		violation.ID, violation.StudentID, violation.RuleID, violation.Points, violation.OccurredAt,
		violation.Note, violation.EvidenceRefs, violation.RecordedBy, violation.CreatedAt,
	); err != nil {
		return fmt.Errorf("create violation: %w", err)
	}
	return nil
}

// FindByID returns a violation. sql.ErrNoRows is returned unwrapped.
func (r *ViolationRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock RowLock) (*models.Violation, error) {
	query := fmt.Sprintf("SELECT %s FROM violations WHERE id = $1%s", violationColumns, lock)
	var violation models.Violation
	if err := sqlx.GetContext(ctx, r.exec(exec), &violation, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find violation: %w", err)
	}
	return &violation, nil
}

// List returns violations matching the filter, newest first.
func (r *ViolationRepository) List(ctx context.Context, filter models.ViolationFilter) ([]models.Violation, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.RuleID != "" {
		conditions = append(conditions, fmt.Sprintf("rule_id = $%d", len(args)+1))
		args = append(args, filter.RuleID)
	}
	if !filter.IncludeReversed {
		conditions = append(conditions, "reversed = FALSE")
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	base := "FROM violations WHERE " + strings.Join(conditions, " AND ")
	_, size, offset := normalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY occurred_at DESC LIMIT %d OFFSET %d", violationColumns, base, size, offset)
	var violations []models.Violation
	if err := r.db.SelectContext(ctx, &violations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list violations: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count violations: %w", err)
	}
	return violations, total, nil
}

// MarkReversed flags a live violation as reversed. sql.ErrNoRows means it was absent or already reversed.
func (r *ViolationRepository) MarkReversed(ctx context.Context, exec sqlx.ExtContext, id, actorID string, at time.Time) error {
	const query = `UPDATE violations SET reversed = TRUE, reversed_at = $2, reversed_by = $3 WHERE id = $1 AND reversed = FALSE`
	result, err := r.exec(exec).ExecContext(ctx, query, id, at, actorID)
	if err != nil {
		return fmt.Errorf("reverse violation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("violation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SumActivePoints totals the points of the student's non-reversed violations.
func (r *ViolationRepository) SumActivePoints(ctx context.Context, exec sqlx.ExtContext, studentID string) (int, error) {
	const query = `SELECT COALESCE(SUM(points), 0) FROM violations WHERE student_id = $1 AND reversed = FALSE`
	var total int
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, studentID); err != nil {
		return 0, fmt.Errorf("sum violation points: %w", err)
	}
	return total, nil
}

// DeleteByStudents removes every violation of the given students.
func (r *ViolationRepository) DeleteByStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error) {
	return deleteWhereAny(ctx, r.exec(exec), "violations", "student_id", studentIDs)
}

func deleteWhereAny(ctx context.Context, exec sqlx.ExtContext, table, column string, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1)", table, column)
	result, err := exec.ExecContext(ctx, query, pq.Array(values))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", table, err)
	}
	return affected, nil
}
