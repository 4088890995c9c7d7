package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

const (
	ledgerActionRecorded = "recorded"
	ledgerActionReversed = "reversed"
)

type ledgerStudentRepository interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Student, error)
	FindByIdentityRef(ctx context.Context, identityRef string) (*models.Student, error)
	AddPoints(ctx context.Context, exec sqlx.ExtContext, id string, delta int) (*models.PointTally, error)
	SetPointTotal(ctx context.Context, exec sqlx.ExtContext, id string, total int) (*models.PointTally, error)
}

type violationRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, violation *models.Violation) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Violation, error)
	List(ctx context.Context, filter models.ViolationFilter) ([]models.Violation, int, error)
	MarkReversed(ctx context.Context, exec sqlx.ExtContext, id, actorID string, at time.Time) error
	SumActivePoints(ctx context.Context, exec sqlx.ExtContext, studentID string) (int, error)
}

type ruleLookup interface {
	Lookup(ctx context.Context, id string) (*models.Rule, error)
}

type studentRecomputer interface {
	Thresholds(ctx context.Context, exec sqlx.ExtContext, lock repository.RowLock) (models.ThresholdSettings, error)
	RecomputeStudent(ctx context.Context, exec sqlx.ExtContext, studentID string, thresholds models.ThresholdSettings, reason string) (*models.Student, *dto.StatusTransition, error)
}

// LedgerChange is a committed-or-pending ledger mutation and its effect on the student.
type LedgerChange struct {
	Violation  models.Violation
	Student    models.Student
	Previous   models.StudentStatus
	Transition *dto.StatusTransition
}

// ViolationService is the violation ledger. Every mutation updates the point total atomically and
// re-derives the status tier in the same transaction.
type ViolationService struct {
	tx         txProvider
	violations violationRepository
	students   ledgerStudentRepository
	rules      ruleLookup
	status     studentRecomputer
	notifier   notificationDispatcher
	validator  *validator.Validate
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// NewViolationService constructs the ledger.
func NewViolationService(tx txProvider, violations violationRepository, students ledgerStudentRepository, rules ruleLookup, status studentRecomputer, notifier notificationDispatcher, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *ViolationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViolationService{
		tx:         tx,
		violations: violations,
		students:   students,
		rules:      rules,
		status:     status,
		notifier:   notifier,
		validator:  validate,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// RecordViolation appends a violation and applies its points. The student and every administrator
// except the actor receive exactly one VIOLATION_RECORDED notification carrying the resulting tier.
func (s *ViolationService) RecordViolation(ctx context.Context, req dto.RecordViolationRequest, actor *models.JWTClaims) (outcome *dto.ViolationOutcome, err error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payload")
	}
	if _, err := s.students.FindByID(ctx, nil, req.StudentID, repository.LockNone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	rule, err := s.rules.Lookup(ctx, req.RuleID)
	if err != nil {
		return nil, err
	}

	occurredAt := s.now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	violation := &models.Violation{
		StudentID:    req.StudentID,
		RuleID:       rule.ID,
		Points:       rule.Points,
		OccurredAt:   occurredAt,
		Note:         req.Note,
		EvidenceRefs: pq.StringArray(req.EvidenceRefs),
		RecordedBy:   actor.UserID,
	}

	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("record_violation", time.Since(start)) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, thresholds, err := s.LockStudentLedger(ctx, tx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if err = s.violations.Create(ctx, tx, violation); err != nil {
		return nil, appErrors.Internal(err, "failed to record violation")
	}
	change, err := s.applyPoints(ctx, tx, *violation, int(rule.Points), thresholds, "violation recorded")
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit violation")
	}

	event := dto.NotificationEvent{
		Kind:  models.NotificationViolationRecorded,
		Title: "Violation recorded",
		Message: fmt.Sprintf("%s: %s (+%d points). Total %d points, status %s.",
			change.Student.FullName, rule.Name, rule.Points, change.Student.PointTotal, change.Student.Status),
		DedupeKey: "violation-recorded:" + violation.ID,
	}
	return s.Publish(ctx, change, event, actor.UserID), nil
}

// ReverseViolation flags a violation reversed and takes its points back.
func (s *ViolationService) ReverseViolation(ctx context.Context, violationID string, actor *models.JWTClaims) (outcome *dto.ViolationOutcome, err error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor")
	}
	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("reverse_violation", time.Since(start)) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	change, err := s.ReverseWithin(ctx, tx, violationID, actor.UserID, "violation reversed")
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit reversal")
	}
	return s.Publish(ctx, change, ReversalEvent(change), actor.UserID), nil
}

// ReverseWithin performs a reversal inside the caller's transaction. The caller commits and then
// calls Publish.
func (s *ViolationService) ReverseWithin(ctx context.Context, exec sqlx.ExtContext, violationID, actorID, reason string) (*LedgerChange, error) {
	target, err := s.violations.FindByID(ctx, exec, violationID, repository.LockNone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation not found")
		}
		return nil, appErrors.Internal(err, "failed to load violation")
	}
	_, thresholds, err := s.LockStudentLedger(ctx, exec, target.StudentID)
	if err != nil {
		return nil, err
	}
	violation, err := s.violations.FindByID(ctx, exec, violationID, repository.LockUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation not found")
		}
		return nil, appErrors.Internal(err, "failed to load violation")
	}
	if violation.Reversed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "violation already reversed")
	}
	at := s.now().UTC()
	if err := s.violations.MarkReversed(ctx, exec, violation.ID, actorID, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "violation already reversed")
		}
		return nil, appErrors.Internal(err, "failed to reverse violation")
	}
	violation.Reversed = true
	violation.ReversedAt = &at
	violation.ReversedBy = &actorID
	return s.applyPoints(ctx, exec, *violation, -int(violation.Points), thresholds, reason)
}

// ReversalEvent builds the VIOLATION_REVERSED notification for a reversal.
func ReversalEvent(change *LedgerChange) dto.NotificationEvent {
	return dto.NotificationEvent{
		Kind:  models.NotificationViolationReversed,
		Title: "Violation reversed",
		Message: fmt.Sprintf("%s: a violation was reversed (-%d points). Total %d points, status %s.",
			change.Student.FullName, change.Violation.Points, change.Student.PointTotal, change.Student.Status),
		DedupeKey: "violation-reversed:" + change.Violation.ID,
	}
}

// Publish records metrics for a committed change and notifies the student and every administrator
// except the actor.
func (s *ViolationService) Publish(ctx context.Context, change *LedgerChange, event dto.NotificationEvent, actorID string) *dto.ViolationOutcome {
	action := ledgerActionRecorded
	if change.Violation.Reversed {
		action = ledgerActionReversed
	}
	s.metrics.RecordViolation(action)
	outcome := &dto.ViolationOutcome{
		Violation:      change.Violation,
		PointTotal:     change.Student.PointTotal,
		PreviousStatus: change.Previous,
		Status:         change.Student.Status,
		StatusChanged:  change.Transition != nil,
	}

	recipients := []string{change.Student.IdentityRef}
	admins, err := s.notifier.AdminRecipients(ctx, actorID)
	if err != nil {
		s.logger.Warn("administrator lookup failed, notifying student only", zap.String("violation_id", change.Violation.ID), zap.Error(err))
	}
	recipients = append(recipients, admins...)

	result, err := s.notifier.Dispatch(ctx, event, recipients)
	if err != nil {
		s.logger.Warn("ledger notification failed", zap.String("violation_id", change.Violation.ID), zap.Error(err))
	}
	outcome.Notifications = result

	s.logger.Info("ledger mutation",
		zap.String("action", action),
		zap.String("violation_id", change.Violation.ID),
		zap.String("student_id", change.Student.ID),
		zap.Int("point_total", change.Student.PointTotal),
		zap.String("status", string(change.Student.Status)),
		zap.String("actor_id", actorID),
	)
	return outcome
}

// Get returns a single violation.
func (s *ViolationService) Get(ctx context.Context, id string) (*models.Violation, error) {
	violation, err := s.violations.FindByID(ctx, nil, id, repository.LockNone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation not found")
		}
		return nil, appErrors.Internal(err, "failed to load violation")
	}
	return violation, nil
}

// List returns violations. Students only ever see their own.
func (s *ViolationService) List(ctx context.Context, filter models.ViolationFilter, actor *models.JWTClaims) ([]models.Violation, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	if actor != nil && actor.Role == models.RoleStudent {
		own, err := s.students.FindByIdentityRef(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return []models.Violation{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
			}
			return nil, nil, appErrors.Internal(err, "failed to resolve student")
		}
		filter.StudentID = own.ID
	}
	violations, total, err := s.violations.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list violations")
	}
	if violations == nil {
		violations = []models.Violation{}
	}
	return violations, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Reconcile compares the stored point total with the ledger and repairs drift in either the total
// or the tier. Drift is logged as a consistency warning.
func (s *ViolationService) Reconcile(ctx context.Context, studentID string) (result *dto.ReconcileResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("reconcile_student", time.Since(start)) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	student, thresholds, err := s.LockStudentLedger(ctx, tx, studentID)
	if err != nil {
		return nil, err
	}
	ledgerTotal, err := s.violations.SumActivePoints(ctx, tx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sum violations")
	}
	result = &dto.ReconcileResult{StudentID: studentID, StoredTotal: student.PointTotal, LedgerTotal: ledgerTotal}
	if ledgerTotal != student.PointTotal {
		result.Drifted = true
		s.consistencyWarning("point_total", studentID,
			zap.Int("stored_total", student.PointTotal), zap.Int("ledger_total", ledgerTotal))
		if _, err = s.students.SetPointTotal(ctx, tx, studentID, ledgerTotal); err != nil {
			return nil, appErrors.Internal(err, "failed to repair point total")
		}
	}
	updated, transition, err := s.status.RecomputeStudent(ctx, tx, studentID, thresholds, "reconciled")
	if err != nil {
		return nil, err
	}
	if transition != nil && !result.Drifted {
		result.Drifted = true
		s.consistencyWarning("status", studentID,
			zap.String("stored_status", string(transition.From)), zap.String("expected_status", string(transition.To)))
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit reconciliation")
	}
	result.Status = updated.Status

	if transition != nil {
		event := dto.NotificationEvent{
			Kind:      models.NotificationStatusChanged,
			Title:     "Disciplinary status updated",
			Message:   fmt.Sprintf("Your status changed from %s to %s (%d points).", transition.From, transition.To, updated.PointTotal),
			DedupeKey: fmt.Sprintf("reconcile:%s:%d", studentID, updated.Version),
		}
		if _, err := s.notifier.Dispatch(ctx, event, []string{updated.IdentityRef}); err != nil {
			s.logger.Warn("status change notification failed", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return result, nil
}

// LockStudentLedger reads the thresholds FOR SHARE and then locks the student row FOR UPDATE inside
// exec. Every ledger transaction calls it before writing, so writers lock the settings row, then the
// student, then the student's violations and appeals. Calling it again in the same transaction is a no-op.
func (s *ViolationService) LockStudentLedger(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.Student, models.ThresholdSettings, error) {
	thresholds, err := s.status.Thresholds(ctx, exec, repository.LockShare)
	if err != nil {
		return nil, models.ThresholdSettings{}, err
	}
	student, err := s.students.FindByID(ctx, exec, studentID, repository.LockUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ThresholdSettings{}, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, models.ThresholdSettings{}, appErrors.Internal(err, "failed to lock student")
	}
	return student, thresholds, nil
}

// applyPoints shifts the student's total by delta and re-derives the tier, all inside exec.
func (s *ViolationService) applyPoints(ctx context.Context, exec sqlx.ExtContext, violation models.Violation, delta int, thresholds models.ThresholdSettings, reason string) (*LedgerChange, error) {
	tally, err := s.students.AddPoints(ctx, exec, violation.StudentID, delta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to update point total")
	}
	student, transition, err := s.status.RecomputeStudent(ctx, exec, violation.StudentID, thresholds, reason)
	if err != nil {
		return nil, err
	}
	return &LedgerChange{Violation: violation, Student: *student, Previous: tally.Status, Transition: transition}, nil
}

func (s *ViolationService) consistencyWarning(source, studentID string, fields ...zap.Field) {
	s.metrics.RecordConsistencyWarning(source)
	fields = append([]zap.Field{
		zap.Bool("consistency_warning", true),
		zap.String("source", source),
		zap.String("student_id", studentID),
	}, fields...)
	s.logger.Warn("student record drifted from ledger", fields...)
}
