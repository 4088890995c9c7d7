package models

import "time"

// AnnouncementKind separates plain announcements from dated events.
type AnnouncementKind string

const (
	AnnouncementKindAnnouncement AnnouncementKind = "ANNOUNCEMENT"
	AnnouncementKindEvent        AnnouncementKind = "EVENT"
)

// Announcement represents a persisted broadcast targeted by an audience filter.
type Announcement struct {
	ID             string           `db:"id" json:"id"`
	Kind           AnnouncementKind `db:"kind" json:"kind"`
	Title          string           `db:"title" json:"title"`
	Content        string           `db:"content" json:"content"`
	Audience       AudienceFilter   `db:"audience" json:"audience"`
	EventAt        *time.Time       `db:"event_at" json:"event_at,omitempty"`
	RecipientCount int              `db:"recipient_count" json:"recipient_count"`
	CreatedBy      string           `db:"created_by" json:"created_by"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}
