package models

import "time"

// NotificationKind classifies the business event behind a notification.
type NotificationKind string

const (
	NotificationViolationRecorded NotificationKind = "VIOLATION_RECORDED"
	NotificationViolationReversed NotificationKind = "VIOLATION_REVERSED"
	NotificationStatusChanged     NotificationKind = "STATUS_CHANGED"
	NotificationAppealDecided     NotificationKind = "APPEAL_DECIDED"
	NotificationAnnouncement      NotificationKind = "ANNOUNCEMENT"
	NotificationEvent             NotificationKind = "EVENT"
	NotificationStudentDeleted    NotificationKind = "STUDENT_DELETED"
	NotificationIdentityOrphaned  NotificationKind = "IDENTITY_ORPHANED"
)

// Notification is one recipient's copy of a business event.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Title       string           `db:"title" json:"title"`
	Message     string           `db:"message" json:"message"`
	Kind        NotificationKind `db:"kind" json:"kind"`
	Read        bool             `db:"read" json:"read"`
	ReadAt      *time.Time       `db:"read_at" json:"read_at,omitempty"`
	DedupeKey   *string          `db:"dedupe_key" json:"-"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter allows listing a recipient's notifications.
type NotificationFilter struct {
	RecipientID string
	UnreadOnly  bool
	Page        int
	PageSize    int
}
