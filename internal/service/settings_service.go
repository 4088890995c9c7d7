package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type thresholdWriter interface {
	Save(ctx context.Context, exec sqlx.ExtContext, probationAt, expulsionRiskAt uint, expectedVersion int64, updatedBy string) (*models.ThresholdSettings, error)
}

type populationRecomputer interface {
	Thresholds(ctx context.Context, exec sqlx.ExtContext, lock repository.RowLock) (models.ThresholdSettings, error)
	RecomputePopulation(ctx context.Context, exec sqlx.ExtContext, thresholds models.ThresholdSettings, reason string) (*dto.RecomputeReport, error)
}

type notificationDispatcher interface {
	Dispatch(ctx context.Context, event dto.NotificationEvent, recipients []string) (*dto.DispatchResult, error)
	AdminRecipients(ctx context.Context, excludeActorID string) ([]string, error)
}

// SettingsService owns the threshold settings and the population recompute they trigger.
type SettingsService struct {
	tx        txProvider
	store     thresholdWriter
	status    populationRecomputer
	notifier  notificationDispatcher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(tx txProvider, store thresholdWriter, status populationRecomputer, notifier notificationDispatcher, validate *validator.Validate, logger *zap.Logger) *SettingsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{tx: tx, store: store, status: status, notifier: notifier, validator: validate, logger: logger}
}

// GetThresholds returns the effective thresholds.
func (s *SettingsService) GetThresholds(ctx context.Context) (*models.ThresholdSettings, error) {
	thresholds, err := s.status.Thresholds(ctx, nil, repository.LockNone)
	if err != nil {
		return nil, err
	}
	return &thresholds, nil
}

// UpdateThresholds stores new thresholds and recomputes every student's tier in the same transaction.
// The settings row is locked and its version must equal req.ExpectedVersion.
func (s *SettingsService) UpdateThresholds(ctx context.Context, req dto.UpdateThresholdsRequest, actor *models.JWTClaims) (result *dto.ThresholdsUpdateResult, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid thresholds")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := s.status.Thresholds(ctx, tx, repository.LockUpdate)
	if err != nil {
		return nil, err
	}
	if current.Version != req.ExpectedVersion {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("thresholds are at version %d", current.Version))
	}

	saved, err := s.store.Save(ctx, tx, req.ProbationAt, req.ExpulsionRiskAt, req.ExpectedVersion, actor.ActorID())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "thresholds were modified concurrently")
		}
		return nil, appErrors.Internal(err, "failed to save thresholds")
	}

	report, err := s.status.RecomputePopulation(ctx, tx, *saved, "thresholds updated")
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit thresholds")
	}

	s.logger.Info("thresholds updated",
		zap.String("actor_id", actor.ActorID()),
		zap.Int64("version", saved.Version),
		zap.Int("changed", len(report.Changed)),
	)

	result = &dto.ThresholdsUpdateResult{Settings: *saved, Recompute: *report}
	result.Notifications = s.notifyTransitions(ctx, report.Changed, saved.Version)
	return result, nil
}

func (s *SettingsService) notifyTransitions(ctx context.Context, transitions []dto.StatusTransition, version int64) *dto.DispatchResult {
	total := &dto.DispatchResult{Kind: models.NotificationStatusChanged, Delivered: []string{}}
	for _, t := range transitions {
		event := dto.NotificationEvent{
			Kind:      models.NotificationStatusChanged,
			Title:     "Disciplinary status updated",
			Message:   fmt.Sprintf("Your status changed from %s to %s after a policy update (%d points).", t.From, t.To, t.PointTotal),
			DedupeKey: fmt.Sprintf("thresholds:%d:%s", version, t.StudentID),
		}
		res, err := s.notifier.Dispatch(ctx, event, []string{t.IdentityRef})
		if err != nil {
			s.logger.Warn("status change notification failed", zap.String("student_id", t.StudentID), zap.Error(err))
			continue
		}
		mergeDispatch(total, res)
	}
	return total
}
