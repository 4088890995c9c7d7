package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

type deletionStudentRepository interface {
	FindByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string, lock repository.RowLock) ([]models.Student, error)
	DeleteMany(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error)
}

type studentDependentDeleter interface {
	DeleteByStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error)
}

type auditDeleter interface {
	DeleteByResources(ctx context.Context, exec sqlx.ExtContext, resource string, resourceIDs []string) (int64, error)
}

type recipientDeleter interface {
	DeleteByRecipients(ctx context.Context, exec sqlx.ExtContext, recipientIDs []string) (int64, error)
}

// DeletionDependents are the stores holding rows that reference a student.
type DeletionDependents struct {
	Appeals       studentDependentDeleter
	Violations    studentDependentDeleter
	History       studentDependentDeleter
	Audit         auditDeleter
	Notifications recipientDeleter
}

// StudentDeletionService removes students together with every dependent record and their identity.
// Deletion is a saga: the student rows and their dependents go in one transaction, then the identity
// is removed best-effort. An identity that cannot be removed leaves a qualified success for manual
// cleanup; a failed transaction leaves both the store and the identity untouched.
type StudentDeletionService struct {
	tx          txProvider
	students    deletionStudentRepository
	dependents  DeletionDependents
	identities  IdentityProvider
	notifier    notificationDispatcher
	validator   *validator.Validate
	metrics     *MetricsService
	logger      *zap.Logger
	concurrency int
}

// NewStudentDeletionService constructs the orchestrator. concurrency bounds parallel identity deletions.
func NewStudentDeletionService(tx txProvider, students deletionStudentRepository, dependents DeletionDependents, identities IdentityProvider, notifier notificationDispatcher, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, concurrency int) *StudentDeletionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &StudentDeletionService{
		tx:          tx,
		students:    students,
		dependents:  dependents,
		identities:  identities,
		notifier:    notifier,
		validator:   validate,
		metrics:     metrics,
		logger:      logger,
		concurrency: concurrency,
	}
}

// DeleteStudent runs the deletion saga for one student.
func (s *StudentDeletionService) DeleteStudent(ctx context.Context, studentID string, actor *models.JWTClaims) (*dto.DeletionReport, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor")
	}
	report := &dto.DeletionReport{StudentID: studentID}

	students, steps, err := s.purge(ctx, []string{studentID})
	report.Steps = steps
	if err != nil {
		s.metrics.RecordDeletion(OutcomeFailed)
		return report, err
	}
	if len(students) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	student := students[0]

	orphans := s.deleteIdentities(ctx, students)
	if len(orphans) > 0 {
		report.IdentityOrphaned = true
		report.Steps = append(report.Steps, dto.DeletionStep{Name: dto.StepDeleteIdentity, Succeeded: false, Error: orphans[0].Error})
	} else {
		report.Steps = append(report.Steps, dto.DeletionStep{Name: dto.StepDeleteIdentity, Succeeded: true, Affected: 1})
	}
	report.Steps = append(report.Steps, s.notify(ctx, actor, []string{student.FullName}, orphans))

	if report.IdentityOrphaned {
		s.metrics.RecordDeletion(OutcomeQualified)
	} else {
		s.metrics.RecordDeletion(OutcomeClean)
	}
	s.logger.Info("student deleted",
		zap.String("student_id", student.ID),
		zap.Bool("identity_orphaned", report.IdentityOrphaned),
		zap.String("actor_id", actor.UserID),
	)
	return report, nil
}

// DeleteStudents deletes a batch of students. Dependents and student rows are removed in batched
// statements inside one transaction; identities are removed concurrently afterwards and a failing
// identity never aborts the batch.
func (s *StudentDeletionService) DeleteStudents(ctx context.Context, req dto.BulkDeleteRequest, actor *models.JWTClaims) (*dto.BulkDeletionReport, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payload")
	}
	requested := distinctRecipients(req.StudentIDs)
	report := &dto.BulkDeletionReport{Requested: len(requested), Deleted: []string{}, NotFound: []string{}}

	students, steps, err := s.purge(ctx, requested)
	report.Steps = steps
	if err != nil {
		s.metrics.RecordDeletion(OutcomeFailed)
		return report, err
	}
	found := make(map[string]models.Student, len(students))
	for _, student := range students {
		found[student.ID] = student
	}
	names := make([]string, 0, len(students))
	for _, id := range requested {
		student, ok := found[id]
		if !ok {
			report.NotFound = append(report.NotFound, id)
			continue
		}
		report.Deleted = append(report.Deleted, id)
		names = append(names, student.FullName)
	}
	if len(students) == 0 {
		return report, nil
	}

	orphans := s.deleteIdentities(ctx, students)
	report.OrphanedIdentities = orphans
	identityStep := dto.DeletionStep{Name: dto.StepDeleteIdentity, Succeeded: len(orphans) == 0, Affected: int64(len(students) - len(orphans))}
	if len(orphans) > 0 {
		identityStep.Error = fmt.Sprintf("%d identities could not be deleted", len(orphans))
	}
	report.Steps = append(report.Steps, identityStep)
	report.Steps = append(report.Steps, s.notify(ctx, actor, names, orphans))

	for i := 0; i < len(students)-len(orphans); i++ {
		s.metrics.RecordDeletion(OutcomeClean)
	}
	for range orphans {
		s.metrics.RecordDeletion(OutcomeQualified)
	}
	s.logger.Info("students deleted",
		zap.Int("requested", report.Requested),
		zap.Int("deleted", len(students)),
		zap.Int("not_found", len(report.NotFound)),
		zap.Int("orphaned_identities", len(orphans)),
		zap.String("actor_id", actor.UserID),
	)
	return report, nil
}

// purge locks the requested students and removes them with every dependent record in one
// transaction. Either all of it commits or none of it does. Ids that do not exist are skipped.
func (s *StudentDeletionService) purge(ctx context.Context, ids []string) (students []models.Student, steps []dto.DeletionStep, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("delete_students", time.Since(start)) }()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil || len(students) == 0 {
			_ = tx.Rollback()
		}
	}()

	students, err = s.students.FindByIDs(ctx, tx, ids, repository.LockUpdate)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to load students")
	}
	steps = append(steps, dto.DeletionStep{Name: dto.StepLoadStudent, Succeeded: true, Affected: int64(len(students))})
	if len(students) == 0 {
		return nil, steps, nil
	}

	found := make([]string, 0, len(students))
	identityRefs := make([]string, 0, len(students))
	for _, student := range students {
		found = append(found, student.ID)
		identityRefs = append(identityRefs, student.IdentityRef)
	}

	affected, err := s.deleteDependents(ctx, tx, found, identityRefs)
	if err != nil {
		steps = append(steps, failedStep(dto.StepDeleteDependent, err))
		return nil, steps, appErrors.Internal(err, "failed to delete dependent records")
	}
	steps = append(steps, dto.DeletionStep{Name: dto.StepDeleteDependent, Succeeded: true, Affected: affected})

	removed, err := s.students.DeleteMany(ctx, tx, found)
	if err != nil {
		steps = append(steps, failedStep(dto.StepDeleteStudent, err))
		return nil, steps, appErrors.Internal(err, "failed to delete students")
	}
	if err = tx.Commit(); err != nil {
		steps = append(steps, failedStep(dto.StepDeleteStudent, err))
		return nil, steps, appErrors.Internal(err, "failed to commit deletion")
	}
	steps = append(steps, dto.DeletionStep{Name: dto.StepDeleteStudent, Succeeded: true, Affected: removed})
	return students, steps, nil
}

// deleteDependents removes every record referencing the students.
func (s *StudentDeletionService) deleteDependents(ctx context.Context, exec sqlx.ExtContext, ids, identityRefs []string) (int64, error) {
	steps := []func() (int64, error){
		func() (int64, error) { return s.dependents.Appeals.DeleteByStudents(ctx, exec, ids) },
		func() (int64, error) { return s.dependents.Violations.DeleteByStudents(ctx, exec, ids) },
		func() (int64, error) { return s.dependents.History.DeleteByStudents(ctx, exec, ids) },
		func() (int64, error) {
			return s.dependents.Audit.DeleteByResources(ctx, exec, models.AuditResourceStudent, ids)
		},
		func() (int64, error) { return s.dependents.Notifications.DeleteByRecipients(ctx, exec, nonEmpty(identityRefs)) },
	}
	var total int64
	for _, step := range steps {
		affected, err := step()
		if err != nil {
			return 0, err
		}
		total += affected
	}
	return total, nil
}

func (s *StudentDeletionService) deleteIdentities(ctx context.Context, students []models.Student) []dto.OrphanedIdentity {
	var (
		mu      sync.Mutex
		orphans []dto.OrphanedIdentity
	)
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, student := range students {
		student := student
		g.Go(func() error {
			if err := s.identities.DeleteIdentity(ctx, student.IdentityRef); err != nil {
				s.logger.Warn("identity deletion failed, continuing",
					zap.String("student_id", student.ID),
					zap.String("identity_ref", student.IdentityRef),
					zap.Error(err),
				)
				mu.Lock()
				orphans = append(orphans, dto.OrphanedIdentity{StudentID: student.ID, IdentityRef: student.IdentityRef, Error: err.Error()})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return orphans
}

// notify tells the actor what was removed and asks every administrator to clean up orphans.
func (s *StudentDeletionService) notify(ctx context.Context, actor *models.JWTClaims, names []string, orphans []dto.OrphanedIdentity) dto.DeletionStep {
	step := dto.DeletionStep{Name: dto.StepNotify, Succeeded: true}
	message := fmt.Sprintf("Deleted student %s.", names[0])
	if len(names) > 1 {
		message = fmt.Sprintf("Deleted %d students.", len(names))
	}
	result, err := s.notifier.Dispatch(ctx, dto.NotificationEvent{
		Kind:    models.NotificationStudentDeleted,
		Title:   "Student deleted",
		Message: message,
	}, []string{actor.UserID})
	if err != nil {
		return failedStep(dto.StepNotify, err)
	}
	step.Affected += int64(len(result.Delivered))

	if len(orphans) == 0 {
		return step
	}
	admins, err := s.notifier.AdminRecipients(ctx, "")
	if err != nil {
		s.logger.Warn("administrator lookup failed for orphaned identities", zap.Error(err))
		return failedStep(dto.StepNotify, err)
	}
	for _, orphan := range orphans {
		result, err := s.notifier.Dispatch(ctx, dto.NotificationEvent{
			Kind:      models.NotificationIdentityOrphaned,
			Title:     "Orphaned identity needs cleanup",
			Message:   fmt.Sprintf("Identity %s of deleted student %s could not be removed: %s", orphan.IdentityRef, orphan.StudentID, orphan.Error),
			DedupeKey: "identity-orphaned:" + orphan.IdentityRef,
		}, admins)
		if err != nil {
			return failedStep(dto.StepNotify, err)
		}
		step.Affected += int64(len(result.Delivered))
	}
	return step
}

func failedStep(name string, err error) dto.DeletionStep {
	return dto.DeletionStep{Name: name, Succeeded: false, Error: err.Error()}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
