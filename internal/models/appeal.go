package models

import "time"

// AppealDecision is the lifecycle state of an appeal.
type AppealDecision string

const (
	AppealPending  AppealDecision = "PENDING"
	AppealAccepted AppealDecision = "ACCEPTED"
	AppealRejected AppealDecision = "REJECTED"
)

// Appeal contests a single violation.
type Appeal struct {
	ID          string         `db:"id" json:"id"`
	ViolationID string         `db:"violation_id" json:"violation_id"`
	StudentID   string         `db:"student_id" json:"student_id"`
	Reason      string         `db:"reason" json:"reason"`
	Decision    AppealDecision `db:"decision" json:"decision"`
	DecidedBy   *string        `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt   *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// AppealFilter allows listing appeals.
type AppealFilter struct {
	StudentID string
	Decision  *AppealDecision
}
