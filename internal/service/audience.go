package service

import "github.com/noah-isme/sma-discipline-api/internal/models"

// MatchesAudience reports whether student satisfies every criterion of filter.
// An empty list or a missing point rule matches everyone.
func MatchesAudience(filter models.AudienceFilter, student models.Student) bool {
	if !matchesAny(filter.Programs, student.Program) ||
		!matchesAny(filter.Cohorts, student.Cohort) ||
		!matchesAny(filter.Affiliations, student.Affiliation) ||
		!matchesAny(filter.Tracks, student.Track) {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if status == student.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if rule := filter.PointRule; rule != nil {
		switch rule.Op {
		case models.PointOperatorLT:
			return student.PointTotal < rule.Value
		case models.PointOperatorGT:
			return student.PointTotal > rule.Value
		case models.PointOperatorEQ:
			return student.PointTotal == rule.Value
		default:
			return false
		}
	}
	return true
}

// ResolveAudience returns the students matching filter, preserving input order.
func ResolveAudience(filter models.AudienceFilter, students []models.Student) []models.Student {
	matched := make([]models.Student, 0, len(students))
	for _, student := range students {
		if MatchesAudience(filter, student) {
			matched = append(matched, student)
		}
	}
	return matched
}

func matchesAny(values []string, value string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
