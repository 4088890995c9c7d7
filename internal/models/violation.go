package models

import (
	"time"

	"github.com/lib/pq"
)

// Violation is a single recorded infraction against one student.
type Violation struct {
	ID           string         `db:"id" json:"id"`
	StudentID    string         `db:"student_id" json:"student_id"`
	RuleID       string         `db:"rule_id" json:"rule_id"`
	Points       uint           `db:"points" json:"points"`
	OccurredAt   time.Time      `db:"occurred_at" json:"occurred_at"`
	Note         string         `db:"note" json:"note"`
	EvidenceRefs pq.StringArray `db:"evidence_refs" json:"evidence_refs"`
	RecordedBy   string         `db:"recorded_by" json:"recorded_by"`
	Reversed     bool           `db:"reversed" json:"reversed"`
	ReversedAt   *time.Time     `db:"reversed_at" json:"reversed_at,omitempty"`
	ReversedBy   *string        `db:"reversed_by" json:"reversed_by,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// ViolationFilter allows listing violations.
type ViolationFilter struct {
	StudentID       string
	RuleID          string
	IncludeReversed bool
	DateFrom        *time.Time
	DateTo          *time.Time
	Page            int
	PageSize        int
}
