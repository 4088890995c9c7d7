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

const announcementColumns = `id, kind, title, content, audience, event_at, recipient_count, created_by, created_at`

// AnnouncementRepository provides persistence for announcements and events.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository creates the repository.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// List returns announcements, optionally restricted to one kind, newest first.
func (r *AnnouncementRepository) List(ctx context.Context, kind *models.AnnouncementKind, page, pageSize int) ([]models.Announcement, int, error) {
	base := "FROM announcements"
	var args []interface{}
	if kind != nil {
		base += " WHERE kind = $1"
		args = append(args, *kind)
	}
	_, size, offset := normalizePage(page, pageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", announcementColumns, base, size, offset)
	var announcements []models.Announcement
	if err := r.db.SelectContext(ctx, &announcements, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list announcements: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count announcements: %w", err)
	}
	return announcements, total, nil
}

// GetByID returns an announcement by identifier. sql.ErrNoRows is returned unwrapped.
func (r *AnnouncementRepository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	var announcement models.Announcement
	if err := r.db.GetContext(ctx, &announcement, "SELECT "+announcementColumns+" FROM announcements WHERE id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get announcement: %w", err)
	}
	return &announcement, nil
}

// Create inserts a new announcement.
func (r *AnnouncementRepository) Create(ctx context.Context, announcement *models.Announcement) error {
	if announcement.ID == "" {
		announcement.ID = uuid.NewString()
	}
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO announcements (id, kind, title, content, audience, event_at, recipient_count, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(ctx, query,
		announcement.ID, announcement.Kind, announcement.Title, announcement.Content, announcement.Audience,
		announcement.EventAt, announcement.RecipientCount, announcement.CreatedBy, announcement.CreatedAt,
	); err != nil {
		return fmt.Errorf("create announcement: %w", err)
	}
	return nil
}
