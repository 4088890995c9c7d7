package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin             = "LOGIN"
	AuditActionViolationRecord   = "VIOLATION_RECORD"
	AuditActionViolationReverse  = "VIOLATION_REVERSE"
	AuditActionAppealDecide      = "APPEAL_DECIDE"
	AuditActionThresholdsUpdate  = "THRESHOLDS_UPDATE"
	AuditActionStudentCreate     = "STUDENT_CREATE"
	AuditActionStudentDelete     = "STUDENT_DELETE"
	AuditActionStudentReconcile  = "STUDENT_RECONCILE"
	AuditActionRuleWrite         = "RULE_WRITE"
	AuditActionAnnouncementWrite = "ANNOUNCEMENT_WRITE"
)

// AuditResourceStudent marks audit rows whose ResourceID is a student id.
const AuditResourceStudent = "student"

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
