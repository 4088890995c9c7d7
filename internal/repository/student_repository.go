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

const studentColumns = `id, identity_ref, nis, full_name, program, cohort, affiliation, track, point_total, status, version, created_at, updated_at`

// StudentRepository manages persistence for student records and their disciplinary standing.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Program != "" {
		conditions = append(conditions, fmt.Sprintf("program = $%d", len(args)+1))
		args = append(args, filter.Program)
	}
	if filter.Cohort != "" {
		conditions = append(conditions, fmt.Sprintf("cohort = $%d", len(args)+1))
		args = append(args, filter.Cohort)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR LOWER(nis) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	base := "FROM students WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"full_name":   "full_name",
		"nis":         "nis",
		"point_total": "point_total",
		"created_at":  "created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	_, size, offset := normalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", studentColumns, base, column, order, size, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// ListAll loads the whole population, optionally locking every row.
func (r *StudentRepository) ListAll(ctx context.Context, exec sqlx.ExtContext, lock RowLock) ([]models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students ORDER BY id%s", studentColumns, lock)
	var students []models.Student
	if err := sqlx.SelectContext(ctx, r.exec(exec), &students, query); err != nil {
		return nil, fmt.Errorf("list all students: %w", err)
	}
	return students, nil
}

// ListIDs returns every student identifier.
func (r *StudentRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, "SELECT id FROM students ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list student ids: %w", err)
	}
	return ids, nil
}

// FindByID fetches a student by ID. sql.ErrNoRows is returned unwrapped.
func (r *StudentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock RowLock) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1%s", studentColumns, lock)
	var student models.Student
	if err := sqlx.GetContext(ctx, r.exec(exec), &student, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// FindByIdentityRef returns the student linked to an identity account. sql.ErrNoRows is returned unwrapped.
func (r *StudentRepository) FindByIdentityRef(ctx context.Context, identityRef string) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, "SELECT "+studentColumns+" FROM students WHERE identity_ref = $1", identityRef); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student by identity: %w", err)
	}
	return &student, nil
}

// FindByIDs fetches every student among ids. Missing ids are simply absent from the result.
// Rows are returned in id order so concurrent lockers acquire them in the same order.
func (r *StudentRepository) FindByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string, lock RowLock) ([]models.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = ANY($1) ORDER BY id%s", studentColumns, lock)
	var students []models.Student
	if err := sqlx.SelectContext(ctx, r.exec(exec), &students, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find students: %w", err)
	}
	return students, nil
}

// ExistsByNIS checks if a student with given NIS exists.
func (r *StudentRepository) ExistsByNIS(ctx context.Context, nis string) (bool, error) {
	var exists int
	if err := r.db.GetContext(ctx, &exists, "SELECT 1 FROM students WHERE nis = $1 LIMIT 1", nis); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check nis: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.Status == "" {
		student.Status = models.StudentStatusNormal
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	student.Version = 1
	const query = `INSERT INTO students (id, identity_ref, nis, full_name, program, cohort, affiliation, track, point_total, status, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := r.exec(exec).ExecContext(ctx, query,
		student.ID, student.IdentityRef, student.NIS, student.FullName, student.Program, student.Cohort,
		student.Affiliation, student.Track, student.PointTotal, student.Status, student.Version,
		student.CreatedAt, student.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// AddPoints atomically shifts the point total by delta, never below zero, and returns the new tally.
// The UPDATE holds the row lock until the surrounding transaction ends.
func (r *StudentRepository) AddPoints(ctx context.Context, exec sqlx.ExtContext, id string, delta int) (*models.PointTally, error) {
	const query = `UPDATE students SET point_total = GREATEST(point_total + $2, 0), version = version + 1, updated_at = $3
WHERE id = $1 RETURNING id, point_total, status, version`
	var tally models.PointTally
	if err := sqlx.GetContext(ctx, r.exec(exec), &tally, query, id, delta, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("add student points: %w", err)
	}
	return &tally, nil
}

// SetPointTotal overwrites the point total, used when reconciling against the ledger.
func (r *StudentRepository) SetPointTotal(ctx context.Context, exec sqlx.ExtContext, id string, total int) (*models.PointTally, error) {
	const query = `UPDATE students SET point_total = $2, version = version + 1, updated_at = $3
WHERE id = $1 RETURNING id, point_total, status, version`
	var tally models.PointTally
	if err := sqlx.GetContext(ctx, r.exec(exec), &tally, query, id, total, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("set student points: %w", err)
	}
	return &tally, nil
}

// UpdateStatus writes the status only if the row still carries expectedVersion.
// It reports false when another writer got there first.
func (r *StudentRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.StudentStatus, expectedVersion int64) (bool, error) {
	const query = `UPDATE students SET status = $2, version = version + 1, updated_at = $4 WHERE id = $1 AND version = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, id, status, expectedVersion, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update student status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("student status rows affected: %w", err)
	}
	return affected == 1, nil
}

// DeleteMany removes the student rows and returns how many were deleted.
func (r *StudentRepository) DeleteMany(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.exec(exec).ExecContext(ctx, "DELETE FROM students WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete students: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("students rows affected: %w", err)
	}
	return affected, nil
}
