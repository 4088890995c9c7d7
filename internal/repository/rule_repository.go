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

const ruleColumns = `id, code, name, category, points, active, created_at, updated_at`

// RuleRepository persists the violation rule catalog.
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository constructs a RuleRepository.
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// List returns rules ordered by category and code.
func (r *RuleRepository) List(ctx context.Context, filter models.RuleFilter) ([]models.Rule, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, *filter.Category)
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active = TRUE")
	}
	query := fmt.Sprintf("SELECT %s FROM rules WHERE %s ORDER BY category, code", ruleColumns, strings.Join(conditions, " AND "))
	var rules []models.Rule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// FindByID returns a rule by identifier. sql.ErrNoRows is returned unwrapped.
func (r *RuleRepository) FindByID(ctx context.Context, id string) (*models.Rule, error) {
	var rule models.Rule
	if err := r.db.GetContext(ctx, &rule, "SELECT "+ruleColumns+" FROM rules WHERE id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find rule: %w", err)
	}
	return &rule, nil
}

// ExistsByCode checks whether a code is taken, optionally ignoring one rule.
func (r *RuleRepository) ExistsByCode(ctx context.Context, code, excludeID string) (bool, error) {
	query := "SELECT 1 FROM rules WHERE code = $1"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check rule code: %w", err)
	}
	return true, nil
}

// IsReferenced reports whether any violation points at the rule.
func (r *RuleRepository) IsReferenced(ctx context.Context, id string) (bool, error) {
	var referenced bool
	if err := r.db.GetContext(ctx, &referenced, "SELECT EXISTS (SELECT 1 FROM violations WHERE rule_id = $1)", id); err != nil {
		return false, fmt.Errorf("check rule references: %w", err)
	}
	return referenced, nil
}

// Create inserts a rule.
func (r *RuleRepository) Create(ctx context.Context, rule *models.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	const query = `INSERT INTO rules (id, code, name, category, points, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query, rule.ID, rule.Code, rule.Name, rule.Category, rule.Points, rule.Active, rule.CreatedAt, rule.UpdatedAt); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// Update modifies a rule in place.
func (r *RuleRepository) Update(ctx context.Context, rule *models.Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE rules SET code = $2, name = $3, category = $4, points = $5, active = $6, updated_at = $7 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, rule.ID, rule.Code, rule.Name, rule.Category, rule.Points, rule.Active, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rule rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
