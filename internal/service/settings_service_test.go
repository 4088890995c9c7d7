package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

func newSettingsWorld(t *testing.T) (*ledgerWorld, *SettingsService) {
	w := newLedgerWorld(t, catalogRules,
		models.Student{ID: "s1", IdentityRef: "user-s1", PointTotal: 15},
		models.Student{ID: "s2", IdentityRef: "user-s2", PointTotal: 45, Status: models.StudentStatusProbation},
		models.Student{ID: "s3", IdentityRef: "user-s3", PointTotal: 5},
	)
	return w, NewSettingsService(w.tx, w.settings, w.status, w.notifier, nil, zap.NewNop())
}

func TestUpdateThresholdsRecomputesPopulationAndNotifiesChangedStudents(t *testing.T) {
	w, svc := newSettingsWorld(t)
	w.mock.ExpectBegin()
	w.mock.ExpectCommit()

	result, err := svc.UpdateThresholds(context.Background(), dto.UpdateThresholdsRequest{ProbationAt: 10, ExpulsionRiskAt: 40, ExpectedVersion: 0}, adminActor("admin-1"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Settings.Version)
	assert.Equal(t, 3, result.Recompute.Evaluated)
	assert.Len(t, result.Recompute.Changed, 2)
	assert.Equal(t, models.StudentStatusProbation, w.students.get("s1").Status)
	assert.Equal(t, models.StudentStatusAtRiskExpulsion, w.students.get("s2").Status)
	assert.Equal(t, models.StudentStatusNormal, w.students.get("s3").Status)

	assert.Len(t, w.notifications.forRecipient("user-s1", models.NotificationStatusChanged), 1)
	assert.Len(t, w.notifications.forRecipient("user-s2", models.NotificationStatusChanged), 1)
	assert.Empty(t, w.notifications.forRecipient("user-s3", ""))
	assert.ElementsMatch(t, []string{"user-s1", "user-s2"}, result.Notifications.Delivered)
	require.NoError(t, w.mock.ExpectationsWereMet())
}

func TestUpdateThresholdsRejectsStaleVersion(t *testing.T) {
	w, svc := newSettingsWorld(t)
	w.settings.current = &models.ThresholdSettings{ProbationAt: 20, ExpulsionRiskAt: 50, Version: 2}
	w.mock.ExpectBegin()
	w.mock.ExpectRollback()

	_, err := svc.UpdateThresholds(context.Background(), dto.UpdateThresholdsRequest{ProbationAt: 10, ExpulsionRiskAt: 40, ExpectedVersion: 1}, adminActor("admin-1"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
	assert.Equal(t, models.StudentStatusNormal, w.students.get("s1").Status)
	assert.Equal(t, int64(2), w.settings.current.Version)
	require.NoError(t, w.mock.ExpectationsWereMet())
}

func TestUpdateThresholdsValidatesOrdering(t *testing.T) {
	_, svc := newSettingsWorld(t)
	_, err := svc.UpdateThresholds(context.Background(), dto.UpdateThresholdsRequest{ProbationAt: 60, ExpulsionRiskAt: 40}, adminActor("admin-1"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = svc.UpdateThresholds(context.Background(), dto.UpdateThresholdsRequest{ProbationAt: 0, ExpulsionRiskAt: 40}, adminActor("admin-1"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestGetThresholdsReturnsDefaultsUntilStored(t *testing.T) {
	_, svc := newSettingsWorld(t)
	thresholds, err := svc.GetThresholds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(20), thresholds.ProbationAt)
	assert.Equal(t, uint(50), thresholds.ExpulsionRiskAt)
	assert.Equal(t, int64(0), thresholds.Version)
}
