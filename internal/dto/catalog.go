package dto

import (
	"time"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

// CreateRuleRequest adds a rule to the catalog.
type CreateRuleRequest struct {
	Code     string `json:"code" validate:"required,max=32"`
	Name     string `json:"name" validate:"required,max=255"`
	Category string `json:"category" validate:"required,rule_category"`
	Points   uint   `json:"points" validate:"required,min=1,max=1000"`
}

// UpdateRuleRequest modifies a rule.
type UpdateRuleRequest struct {
	Code     string `json:"code" validate:"required,max=32"`
	Name     string `json:"name" validate:"required,max=255"`
	Category string `json:"category" validate:"required,rule_category"`
	Points   uint   `json:"points" validate:"required,min=1,max=1000"`
	Active   *bool  `json:"active"`
}

// SubmitAppealRequest contests a violation.
type SubmitAppealRequest struct {
	ViolationID string `json:"violation_id" validate:"required"`
	Reason      string `json:"reason" validate:"required,max=2000"`
}

// DecideAppealRequest settles an appeal.
type DecideAppealRequest struct {
	Decision string `json:"decision" validate:"required,appeal_decision"`
}

// AppealDecisionResult reports a decided appeal and, when accepted, the reversal it caused.
type AppealDecisionResult struct {
	Appeal   models.Appeal     `json:"appeal"`
	Reversal *ViolationOutcome `json:"reversal,omitempty"`
}

// CreateStudentRequest enrols a student together with their identity account.
type CreateStudentRequest struct {
	NIS         string `json:"nis" validate:"required,max=32"`
	FullName    string `json:"full_name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	Program     string `json:"program" validate:"required,max=64"`
	Cohort      string `json:"cohort" validate:"required,max=32"`
	Affiliation string `json:"affiliation" validate:"max=64"`
	Track       string `json:"track" validate:"max=64"`
}

// CreateAnnouncementRequest publishes an announcement or event to an audience.
type CreateAnnouncementRequest struct {
	Kind     string                `json:"kind" validate:"required,oneof=ANNOUNCEMENT EVENT"`
	Title    string                `json:"title" validate:"required,max=255"`
	Content  string                `json:"content" validate:"required"`
	Audience models.AudienceFilter `json:"audience"`
	EventAt  *time.Time            `json:"event_at" validate:"required_if=Kind EVENT"`
}

// AnnouncementResult reports the stored announcement and its fan-out.
type AnnouncementResult struct {
	Announcement  models.Announcement `json:"announcement"`
	Notifications *DispatchResult     `json:"notifications"`
}

// AudienceMember is a matched student in an audience preview.
type AudienceMember struct {
	StudentID  string               `json:"student_id"`
	FullName   string               `json:"full_name"`
	Program    string               `json:"program"`
	Cohort     string               `json:"cohort"`
	Status     models.StudentStatus `json:"status"`
	PointTotal int                  `json:"point_total"`
}

// AudiencePreview shows who a filter would reach.
type AudiencePreview struct {
	Total   int              `json:"total"`
	Matched int              `json:"matched"`
	Sample  []AudienceMember `json:"sample"`
}

// EvidenceUploadResult describes a stored evidence file.
type EvidenceUploadResult struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mime_type"`
}
