package models

import "time"

// ThresholdSettings is the process-wide pair of status thresholds.
type ThresholdSettings struct {
	ProbationAt     uint      `db:"probation_at" json:"probation_at"`
	ExpulsionRiskAt uint      `db:"expulsion_risk_at" json:"expulsion_risk_at"`
	Version         int64     `db:"version" json:"version"`
	UpdatedBy       *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
