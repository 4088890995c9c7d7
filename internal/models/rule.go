package models

import "time"

// RuleCategory is the severity tier of a rule.
type RuleCategory string

const (
	RuleCategoryLight  RuleCategory = "LIGHT"
	RuleCategoryMedium RuleCategory = "MEDIUM"
	RuleCategorySevere RuleCategory = "SEVERE"
)

// Valid reports whether c is a known category.
func (c RuleCategory) Valid() bool {
	switch c {
	case RuleCategoryLight, RuleCategoryMedium, RuleCategorySevere:
		return true
	default:
		return false
	}
}

// Rule is a catalog entry mapping a violation type to a point value.
type Rule struct {
	ID        string       `db:"id" json:"id"`
	Code      string       `db:"code" json:"code"`
	Name      string       `db:"name" json:"name"`
	Category  RuleCategory `db:"category" json:"category"`
	Points    uint         `db:"points" json:"points"`
	Active    bool         `db:"active" json:"active"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// RuleFilter allows listing rules.
type RuleFilter struct {
	Category   *RuleCategory
	ActiveOnly bool
}
