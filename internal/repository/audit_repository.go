package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

// AuditRepository stores the audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create stores an audit log entry.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := r.db.ExecContext(ctx, query,
		log.ID, log.UserID, log.Action, log.Resource, log.ResourceID, log.OldValues, log.NewValues,
		log.IPAddress, log.UserAgent, log.CreatedAt,
	); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// DeleteByResources removes audit entries about the given resources.
func (r *AuditRepository) DeleteByResources(ctx context.Context, exec sqlx.ExtContext, resource string, resourceIDs []string) (int64, error) {
	if len(resourceIDs) == 0 {
		return 0, nil
	}
	if exec == nil {
		exec = r.db
	}
	result, err := exec.ExecContext(ctx, "DELETE FROM audit_logs WHERE resource = $1 AND resource_id = ANY($2)", resource, pq.Array(resourceIDs))
	if err != nil {
		return 0, fmt.Errorf("delete audit logs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit rows affected: %w", err)
	}
	return affected, nil
}
