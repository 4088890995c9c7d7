package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

const notificationColumns = `id, recipient_id, title, message, kind, read, read_at, dedupe_key, created_at`

// NotificationRepository is the notification sink.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create stores one notification. With a dedupe key set, a second insert for the same
// (recipient, key) is skipped and Create reports false.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) (bool, error) {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO notifications (id, recipient_id, title, message, kind, read, dedupe_key, created_at) VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)`
	if notification.DedupeKey != nil {
		query += ` ON CONFLICT (recipient_id, dedupe_key) DO NOTHING`
	}
	result, err := r.db.ExecContext(ctx, query,
		notification.ID, notification.RecipientID, notification.Title, notification.Message,
		notification.Kind, notification.DedupeKey, notification.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("create notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("notification rows affected: %w", err)
	}
	return affected == 1, nil
}

// List returns a recipient's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	base := "FROM notifications WHERE recipient_id = $1"
	if filter.UnreadOnly {
		base += " AND read = FALSE"
	}
	_, size, offset := normalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", notificationColumns, base, size, offset)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, filter.RecipientID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, filter.RecipientID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return notifications, total, nil
}

// UnreadCount counts unread notifications of a recipient.
func (r *NotificationRepository) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read = FALSE", recipientID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification of the recipient as read. sql.ErrNoRows means it is not theirs.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	const query = `UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, $3) WHERE id = $1 AND recipient_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, recipientID, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("notification rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead marks every unread notification of the recipient as read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE, read_at = $2 WHERE recipient_id = $1 AND read = FALSE`, recipientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("notification rows affected: %w", err)
	}
	return affected, nil
}

// DeleteByRecipients removes notifications addressed to the given identities.
func (r *NotificationRepository) DeleteByRecipients(ctx context.Context, exec sqlx.ExtContext, recipientIDs []string) (int64, error) {
	return deleteWhereAny(ctx, r.exec(exec), "notifications", "recipient_id", recipientIDs)
}

// PurgeOlderThan deletes notifications created before cutoff.
func (r *NotificationRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM notifications WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("notification rows affected: %w", err)
	}
	return affected, nil
}
