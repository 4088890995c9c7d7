package dto

import "github.com/noah-isme/sma-discipline-api/internal/models"

// StatusTransition is one student's tier change.
type StatusTransition struct {
	StudentID   string               `json:"student_id"`
	IdentityRef string               `json:"-"`
	From        models.StudentStatus `json:"from"`
	To          models.StudentStatus `json:"to"`
	PointTotal  int                  `json:"point_total"`
}

// RecomputeReport summarises a population recompute pass.
type RecomputeReport struct {
	Evaluated int                `json:"evaluated"`
	Changed   []StatusTransition `json:"changed"`
}

// UpdateThresholdsRequest replaces the thresholds guarded by an optimistic version check.
type UpdateThresholdsRequest struct {
	ProbationAt     uint  `json:"probation_at" validate:"required,min=1"`
	ExpulsionRiskAt uint  `json:"expulsion_risk_at" validate:"required,gtefield=ProbationAt"`
	ExpectedVersion int64 `json:"expected_version" validate:"min=0"`
}

// ThresholdsUpdateResult reports the stored thresholds and the recompute they triggered.
type ThresholdsUpdateResult struct {
	Settings      models.ThresholdSettings `json:"settings"`
	Recompute     RecomputeReport          `json:"recompute"`
	Notifications *DispatchResult          `json:"notifications,omitempty"`
}
