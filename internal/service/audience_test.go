package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

func TestMatchesAudienceProgramAndPointRule(t *testing.T) {
	filter := models.AudienceFilter{
		Programs:  []string{"CS"},
		PointRule: &models.PointRule{Op: models.PointOperatorGT, Value: 30},
	}
	assert.True(t, MatchesAudience(filter, models.Student{Program: "CS", PointTotal: 35}))
	assert.False(t, MatchesAudience(filter, models.Student{Program: "CS", PointTotal: 20}))
	assert.False(t, MatchesAudience(filter, models.Student{Program: "EE", PointTotal: 35}))
}

func TestMatchesAudienceEmptyFilterMatchesEveryone(t *testing.T) {
	assert.True(t, MatchesAudience(models.AudienceFilter{}, models.Student{}))
	assert.True(t, MatchesAudience(models.AudienceFilter{}, models.Student{Program: "EE", Status: models.StudentStatusAtRiskExpulsion}))
}

func TestMatchesAudienceOperators(t *testing.T) {
	student := models.Student{PointTotal: 30}
	assert.True(t, MatchesAudience(models.AudienceFilter{PointRule: &models.PointRule{Op: models.PointOperatorEQ, Value: 30}}, student))
	assert.False(t, MatchesAudience(models.AudienceFilter{PointRule: &models.PointRule{Op: models.PointOperatorLT, Value: 30}}, student))
	assert.False(t, MatchesAudience(models.AudienceFilter{PointRule: &models.PointRule{Op: models.PointOperatorGT, Value: 30}}, student))
	assert.False(t, MatchesAudience(models.AudienceFilter{PointRule: &models.PointRule{Op: "between", Value: 30}}, student))
}

func TestMatchesAudienceAllCriteriaMustHold(t *testing.T) {
	filter := models.AudienceFilter{
		Cohorts:      []string{"2024"},
		Statuses:     []models.StudentStatus{models.StudentStatusProbation, models.StudentStatusAtRiskExpulsion},
		Affiliations: []string{"Scouts"},
		Tracks:       []string{"Science"},
	}
	match := models.Student{Cohort: "2024", Status: models.StudentStatusProbation, Affiliation: "Scouts", Track: "Science"}
	assert.True(t, MatchesAudience(filter, match))

	wrongStatus := match
	wrongStatus.Status = models.StudentStatusNormal
	assert.False(t, MatchesAudience(filter, wrongStatus))

	wrongTrack := match
	wrongTrack.Track = "Arts"
	assert.False(t, MatchesAudience(filter, wrongTrack))
}

func TestResolveAudienceKeepsOrder(t *testing.T) {
	students := []models.Student{
		{ID: "a", Program: "CS"},
		{ID: "b", Program: "EE"},
		{ID: "c", Program: "CS"},
	}
	matched := ResolveAudience(models.AudienceFilter{Programs: []string{"CS"}}, students)
	assert.Equal(t, []string{"a", "c"}, []string{matched[0].ID, matched[1].ID})
	assert.Len(t, matched, 2)
	assert.Len(t, students, 3)
}
