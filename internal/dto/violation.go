package dto

import (
	"time"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

// RecordViolationRequest is the payload for appending a violation to the ledger.
type RecordViolationRequest struct {
	StudentID    string     `json:"student_id" validate:"required"`
	RuleID       string     `json:"rule_id" validate:"required"`
	OccurredAt   *time.Time `json:"occurred_at"`
	Note         string     `json:"note" validate:"max=1000"`
	EvidenceRefs []string   `json:"evidence_refs" validate:"max=10,dive,required"`
}

// ViolationOutcome reports the ledger mutation together with its consequences.
type ViolationOutcome struct {
	Violation      models.Violation     `json:"violation"`
	PointTotal     int                  `json:"point_total"`
	PreviousStatus models.StudentStatus `json:"previous_status"`
	Status         models.StudentStatus `json:"status"`
	StatusChanged  bool                 `json:"status_changed"`
	Notifications  *DispatchResult      `json:"notifications,omitempty"`
}

// ReconcileResult describes one consistency check of a student's point total.
type ReconcileResult struct {
	StudentID   string               `json:"student_id"`
	StoredTotal int                  `json:"stored_total"`
	LedgerTotal int                  `json:"ledger_total"`
	Drifted     bool                 `json:"drifted"`
	Status      models.StudentStatus `json:"status"`
}

// ReconcileAllResult lists the queued reconciliation jobs.
type ReconcileAllResult struct {
	Enqueued int      `json:"enqueued"`
	JobIDs   []string `json:"job_ids"`
	Rejected int      `json:"rejected"`
}
