package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
	"github.com/noah-isme/sma-discipline-api/pkg/jobs"
)

// JobTypeReconcileStudent is the queue job type carrying a student id to reconcile.
const JobTypeReconcileStudent = "reconcile_student"

type studentIDLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) (string, error)
}

type studentReconciler interface {
	Reconcile(ctx context.Context, studentID string) (*dto.ReconcileResult, error)
}

// ReconcileScheduler fans a full reconciliation out to the background queue, one job per student.
type ReconcileScheduler struct {
	students studentIDLister
	queue    jobEnqueuer
	logger   *zap.Logger
}

// NewReconcileScheduler constructs a ReconcileScheduler.
func NewReconcileScheduler(students studentIDLister, queue jobEnqueuer, logger *zap.Logger) *ReconcileScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileScheduler{students: students, queue: queue, logger: logger}
}

// ReconcileAll enqueues every student. Jobs the queue refuses are reported, not fatal.
func (s *ReconcileScheduler) ReconcileAll(ctx context.Context) (*dto.ReconcileAllResult, error) {
	ids, err := s.students.ListIDs(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list students")
	}
	result := &dto.ReconcileAllResult{JobIDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		jobID, err := s.queue.Enqueue(jobs.Job{Type: JobTypeReconcileStudent, Payload: id})
		if err != nil {
			s.logger.Warn("failed to enqueue reconciliation", zap.String("student_id", id), zap.Error(err))
			result.Rejected++
			continue
		}
		result.Enqueued++
		result.JobIDs = append(result.JobIDs, jobID)
	}
	s.logger.Info("reconciliation scheduled", zap.Int("enqueued", result.Enqueued), zap.Int("rejected", result.Rejected))
	return result, nil
}

// ReconcileWorker runs reconciliation jobs pulled from the queue.
type ReconcileWorker struct {
	ledger studentReconciler
	logger *zap.Logger
}

// NewReconcileWorker constructs a ReconcileWorker.
func NewReconcileWorker(ledger studentReconciler, logger *zap.Logger) *ReconcileWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileWorker{ledger: ledger, logger: logger}
}

// Handle satisfies jobs.Handler. Students deleted since scheduling count as done.
func (w *ReconcileWorker) Handle(ctx context.Context, job jobs.Job) error {
	if job.Type != JobTypeReconcileStudent {
		return fmt.Errorf("unsupported job type %q", job.Type)
	}
	studentID, ok := job.Payload.(string)
	if !ok || studentID == "" {
		return fmt.Errorf("invalid reconcile payload %T", job.Payload)
	}
	result, err := w.ledger.Reconcile(ctx, studentID)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrNotFound.Code) {
			w.logger.Debug("student gone before reconciliation", zap.String("student_id", studentID))
			return nil
		}
		return err
	}
	if result.Drifted {
		w.logger.Info("student reconciled", zap.String("student_id", studentID), zap.Int("ledger_total", result.LedgerTotal))
	}
	return nil
}
