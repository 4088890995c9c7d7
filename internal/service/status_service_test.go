package service

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

func TestResolveStatusBoundaries(t *testing.T) {
	thresholds := models.ThresholdSettings{ProbationAt: 20, ExpulsionRiskAt: 50}
	cases := []struct {
		total int
		want  models.StudentStatus
	}{
		{0, models.StudentStatusNormal},
		{19, models.StudentStatusNormal},
		{20, models.StudentStatusProbation},
		{49, models.StudentStatusProbation},
		{50, models.StudentStatusAtRiskExpulsion},
		{500, models.StudentStatusAtRiskExpulsion},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveStatus(tc.total, thresholds), "total %d", tc.total)
	}
}

func TestResolveStatusEqualThresholdsPreferHigherTier(t *testing.T) {
	thresholds := models.ThresholdSettings{ProbationAt: 30, ExpulsionRiskAt: 30}
	assert.Equal(t, models.StudentStatusAtRiskExpulsion, ResolveStatus(30, thresholds))
	assert.Equal(t, models.StudentStatusNormal, ResolveStatus(29, thresholds))
}

func TestThresholdsFallBackToDefaults(t *testing.T) {
	svc := NewStatusService(newMemStudents(), &memSettings{}, &memHistory{}, models.ThresholdSettings{ProbationAt: 20, ExpulsionRiskAt: 50, Version: 9}, nil, zap.NewNop())
	thresholds, err := svc.Thresholds(context.Background(), nil, repository.LockNone)
	require.NoError(t, err)
	assert.Equal(t, uint(20), thresholds.ProbationAt)
	assert.Equal(t, int64(0), thresholds.Version)
}

func TestRecomputePopulationIsIdempotent(t *testing.T) {
	students := newMemStudents(
		models.Student{ID: "a", PointTotal: 5},
		models.Student{ID: "b", PointTotal: 25},
		models.Student{ID: "c", PointTotal: 60, Status: models.StudentStatusProbation},
		models.Student{ID: "d", PointTotal: 20, Status: models.StudentStatusProbation},
	)
	history := &memHistory{}
	svc := NewStatusService(students, &memSettings{}, history, models.ThresholdSettings{ProbationAt: 20, ExpulsionRiskAt: 50}, nil, zap.NewNop())
	thresholds := models.ThresholdSettings{ProbationAt: 20, ExpulsionRiskAt: 50}

	first, err := svc.RecomputePopulation(context.Background(), nil, thresholds, "test")
	require.NoError(t, err)
	assert.Equal(t, 4, first.Evaluated)
	require.Len(t, first.Changed, 2)
	assert.Equal(t, models.StudentStatusProbation, students.get("b").Status)
	assert.Equal(t, models.StudentStatusAtRiskExpulsion, students.get("c").Status)

	second, err := svc.RecomputePopulation(context.Background(), nil, thresholds, "test")
	require.NoError(t, err)
	assert.Empty(t, second.Changed)
	assert.Len(t, history.rows, 2)

	for _, id := range []string{"a", "b", "c", "d"} {
		s := students.get(id)
		assert.Equal(t, ResolveStatus(s.PointTotal, thresholds), s.Status, id)
	}
}

type staleStudents struct {
	*memStudents
}

func (s staleStudents) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.StudentStatus, expectedVersion int64) (bool, error) {
	return false, nil
}

func TestRecomputeStudentConflictsOnStaleVersion(t *testing.T) {
	students := staleStudents{newMemStudents(models.Student{ID: "a", PointTotal: 25})}
	svc := NewStatusService(students, &memSettings{}, &memHistory{}, models.ThresholdSettings{ProbationAt: 20, ExpulsionRiskAt: 50}, nil, zap.NewNop())

	_, _, err := svc.RecomputeStudent(context.Background(), nil, "a", models.ThresholdSettings{ProbationAt: 20, ExpulsionRiskAt: 50}, "test")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
}

func TestRecomputeStudentUsesStoredThresholds(t *testing.T) {
	students := newMemStudents(models.Student{ID: "a", PointTotal: 12})
	settings := &memSettings{current: &models.ThresholdSettings{ProbationAt: 10, ExpulsionRiskAt: 40, Version: 3}}
	svc := NewStatusService(students, settings, &memHistory{}, models.ThresholdSettings{ProbationAt: 20, ExpulsionRiskAt: 50}, nil, zap.NewNop())

	thresholds, err := svc.Thresholds(context.Background(), nil, repository.LockShare)
	require.NoError(t, err)
	student, transition, err := svc.RecomputeStudent(context.Background(), nil, "a", thresholds, "test")
	require.NoError(t, err)
	require.NotNil(t, transition)
	assert.Equal(t, models.StudentStatusProbation, student.Status)
	assert.Equal(t, models.StudentStatusNormal, transition.From)
}
