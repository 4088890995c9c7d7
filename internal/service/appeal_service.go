package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

type appealRepository interface {
	Create(ctx context.Context, appeal *models.Appeal) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Appeal, error)
	HasPending(ctx context.Context, violationID string) (bool, error)
	List(ctx context.Context, filter models.AppealFilter) ([]models.Appeal, error)
	Decide(ctx context.Context, exec sqlx.ExtContext, id string, decision models.AppealDecision, decidedBy string, at time.Time) error
}

type appealViolationReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Violation, error)
}

type appealStudentReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Student, error)
	FindByIdentityRef(ctx context.Context, identityRef string) (*models.Student, error)
}

type ledgerReverser interface {
	LockStudentLedger(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.Student, models.ThresholdSettings, error)
	ReverseWithin(ctx context.Context, exec sqlx.ExtContext, violationID, actorID, reason string) (*LedgerChange, error)
	Publish(ctx context.Context, change *LedgerChange, event dto.NotificationEvent, actorID string) *dto.ViolationOutcome
}

// AppealService handles appeals against recorded violations. Accepting an appeal reverses the
// violation in the same transaction as the decision.
type AppealService struct {
	tx         txProvider
	appeals    appealRepository
	violations appealViolationReader
	students   appealStudentReader
	ledger     ledgerReverser
	notifier   notificationDispatcher
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewAppealService constructs an AppealService.
func NewAppealService(tx txProvider, appeals appealRepository, violations appealViolationReader, students appealStudentReader, ledger ledgerReverser, notifier notificationDispatcher, validate *validator.Validate, logger *zap.Logger) *AppealService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AppealService{
		tx:         tx,
		appeals:    appeals,
		violations: violations,
		students:   students,
		ledger:     ledger,
		notifier:   notifier,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
	}
	_ = svc.validator.RegisterValidation("appeal_decision", func(fl validator.FieldLevel) bool {
		decision := models.AppealDecision(fl.Field().String())
		return decision == models.AppealAccepted || decision == models.AppealRejected
	})
	return svc
}

// Submit files an appeal. Students may only appeal their own violations, and a violation has at
// most one pending appeal.
func (s *AppealService) Submit(ctx context.Context, req dto.SubmitAppealRequest, actor *models.JWTClaims) (*models.Appeal, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payload")
	}
	violation, err := s.violations.FindByID(ctx, nil, req.ViolationID, repository.LockNone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation not found")
		}
		return nil, appErrors.Internal(err, "failed to load violation")
	}
	if actor.Role == models.RoleStudent {
		own, err := s.students.FindByIdentityRef(ctx, actor.UserID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Internal(err, "failed to resolve student")
		}
		if own == nil || own.ID != violation.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot appeal another student's violation")
		}
	}
	if violation.Reversed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "violation already reversed")
	}
	pending, err := s.appeals.HasPending(ctx, violation.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check pending appeals")
	}
	if pending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an appeal is already pending for this violation")
	}

	appeal := &models.Appeal{
		ViolationID: violation.ID,
		StudentID:   violation.StudentID,
		Reason:      req.Reason,
	}
	if err := s.appeals.Create(ctx, appeal); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "an appeal is already pending for this violation")
		}
		return nil, appErrors.Internal(err, "failed to submit appeal")
	}
	s.logger.Info("appeal submitted", zap.String("appeal_id", appeal.ID), zap.String("violation_id", violation.ID))
	return appeal, nil
}

// Decide settles a pending appeal.
func (s *AppealService) Decide(ctx context.Context, id string, req dto.DecideAppealRequest, actor *models.JWTClaims) (result *dto.AppealDecisionResult, err error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payload")
	}
	decision := models.AppealDecision(req.Decision)

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	target, err := s.appeals.FindByID(ctx, tx, id, repository.LockNone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		}
		return nil, appErrors.Internal(err, "failed to load appeal")
	}
	if _, _, err = s.ledger.LockStudentLedger(ctx, tx, target.StudentID); err != nil {
		return nil, err
	}
	appeal, err := s.appeals.FindByID(ctx, tx, id, repository.LockUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		}
		return nil, appErrors.Internal(err, "failed to load appeal")
	}
	if appeal.Decision != models.AppealPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "appeal already decided")
	}
	at := s.now().UTC()
	if err = s.appeals.Decide(ctx, tx, appeal.ID, decision, actor.UserID, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "appeal already decided")
		}
		return nil, appErrors.Internal(err, "failed to decide appeal")
	}
	appeal.Decision = decision
	appeal.DecidedBy = &actor.UserID
	appeal.DecidedAt = &at

	var change *LedgerChange
	if decision == models.AppealAccepted {
		change, err = s.ledger.ReverseWithin(ctx, tx, appeal.ViolationID, actor.UserID, "appeal accepted")
		if err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit appeal decision")
	}

	result = &dto.AppealDecisionResult{Appeal: *appeal}
	identityRef := ""
	if change != nil {
		result.Reversal = s.ledger.Publish(ctx, change, ReversalEvent(change), actor.UserID)
		identityRef = change.Student.IdentityRef
	} else if student, lookupErr := s.students.FindByID(ctx, nil, appeal.StudentID, repository.LockNone); lookupErr == nil {
		identityRef = student.IdentityRef
	} else {
		s.logger.Warn("appeal decided but student lookup failed", zap.String("appeal_id", appeal.ID), zap.Error(lookupErr))
	}

	if identityRef != "" {
		event := dto.NotificationEvent{
			Kind:      models.NotificationAppealDecided,
			Title:     "Appeal decided",
			Message:   fmt.Sprintf("Your appeal was %s.", decision),
			DedupeKey: "appeal-decided:" + appeal.ID,
		}
		if _, notifyErr := s.notifier.Dispatch(ctx, event, []string{identityRef}); notifyErr != nil {
			s.logger.Warn("appeal notification failed", zap.String("appeal_id", appeal.ID), zap.Error(notifyErr))
		}
	}
	s.logger.Info("appeal decided", zap.String("appeal_id", appeal.ID), zap.String("decision", string(decision)), zap.String("actor_id", actor.UserID))
	return result, nil
}

// List returns appeals. Students only see their own.
func (s *AppealService) List(ctx context.Context, filter models.AppealFilter, actor *models.JWTClaims) ([]models.Appeal, error) {
	if actor != nil && actor.Role == models.RoleStudent {
		own, err := s.students.FindByIdentityRef(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return []models.Appeal{}, nil
			}
			return nil, appErrors.Internal(err, "failed to resolve student")
		}
		filter.StudentID = own.ID
	}
	appeals, err := s.appeals.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list appeals")
	}
	if appeals == nil {
		appeals = []models.Appeal{}
	}
	return appeals, nil
}
