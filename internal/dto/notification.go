package dto

import "github.com/noah-isme/sma-discipline-api/internal/models"

// NotificationEvent is the business event being fanned out.
type NotificationEvent struct {
	Kind    models.NotificationKind
	Title   string
	Message string
	// DedupeKey, when set, makes a repeated dispatch of the same event to the same recipient a no-op.
	DedupeKey string
}

// DispatchFailure records a recipient whose write failed.
type DispatchFailure struct {
	RecipientID string `json:"recipient_id"`
	Error       string `json:"error"`
}

// DispatchResult summarises one fan-out.
type DispatchResult struct {
	Kind       models.NotificationKind `json:"kind"`
	Recipients int                     `json:"recipients"`
	Delivered  []string                `json:"delivered"`
	Skipped    []string                `json:"skipped,omitempty"`
	Failed     []DispatchFailure       `json:"failed,omitempty"`
}

// UnreadCountResponse wraps the unread notification count.
type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

// MarkAllReadResponse reports how many notifications were marked.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
