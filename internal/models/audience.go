package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PointOperator compares a student's point total in an audience filter.
type PointOperator string

const (
	PointOperatorLT PointOperator = "lt"
	PointOperatorGT PointOperator = "gt"
	PointOperatorEQ PointOperator = "eq"
)

// Valid reports whether o is a known operator.
func (o PointOperator) Valid() bool {
	switch o {
	case PointOperatorLT, PointOperatorGT, PointOperatorEQ:
		return true
	default:
		return false
	}
}

// PointRule is an optional point-total predicate.
type PointRule struct {
	Op    PointOperator `json:"op" validate:"required,point_op"`
	Value int           `json:"value"`
}

// AudienceFilter selects students. Empty lists and a nil PointRule match everyone.
type AudienceFilter struct {
	Programs     []string        `json:"programs,omitempty"`
	Cohorts      []string        `json:"cohorts,omitempty"`
	Statuses     []StudentStatus `json:"statuses,omitempty" validate:"dive,student_status"`
	Affiliations []string        `json:"affiliations,omitempty"`
	Tracks       []string        `json:"tracks,omitempty"`
	PointRule    *PointRule      `json:"point_rule,omitempty"`
}

// Validate rejects unknown statuses and operators.
func (f AudienceFilter) Validate() error {
	for _, s := range f.Statuses {
		if !s.Valid() {
			return fmt.Errorf("unknown status %q", s)
		}
	}
	if f.PointRule != nil && !f.PointRule.Op.Valid() {
		return fmt.Errorf("unknown point operator %q", f.PointRule.Op)
	}
	return nil
}

// Value stores the filter as JSON.
func (f AudienceFilter) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan loads the filter from a JSON column.
func (f *AudienceFilter) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = AudienceFilter{}
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("unsupported audience filter source %T", src)
	}
}
