package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

// ResolveStatus maps a point total onto a tier. A total equal to a threshold belongs to the higher tier.
func ResolveStatus(pointTotal int, t models.ThresholdSettings) models.StudentStatus {
	switch {
	case pointTotal >= int(t.ExpulsionRiskAt):
		return models.StudentStatusAtRiskExpulsion
	case pointTotal >= int(t.ProbationAt):
		return models.StudentStatusProbation
	default:
		return models.StudentStatusNormal
	}
}

type statusStudentRepository interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Student, error)
	ListAll(ctx context.Context, exec sqlx.ExtContext, lock repository.RowLock) ([]models.Student, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.StudentStatus, expectedVersion int64) (bool, error)
}

type thresholdReader interface {
	Get(ctx context.Context, exec sqlx.ExtContext, lock repository.RowLock) (*models.ThresholdSettings, error)
}

type statusHistoryRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, change *models.StatusChange) error
}

// StatusService keeps stored status tiers in line with point totals and thresholds.
// Every method that writes takes the caller's transaction.
type StatusService struct {
	students statusStudentRepository
	settings thresholdReader
	history  statusHistoryRepository
	defaults models.ThresholdSettings
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewStatusService constructs a StatusService. defaults apply until thresholds are stored.
func NewStatusService(students statusStudentRepository, settings thresholdReader, history statusHistoryRepository, defaults models.ThresholdSettings, metrics *MetricsService, logger *zap.Logger) *StatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults.Version = 0
	return &StatusService{students: students, settings: settings, history: history, defaults: defaults, metrics: metrics, logger: logger}
}

// Thresholds returns the stored thresholds, or the configured defaults at version 0.
func (s *StatusService) Thresholds(ctx context.Context, exec sqlx.ExtContext, lock repository.RowLock) (models.ThresholdSettings, error) {
	settings, err := s.settings.Get(ctx, exec, lock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.defaults, nil
		}
		return models.ThresholdSettings{}, appErrors.Internal(err, "failed to load thresholds")
	}
	return *settings, nil
}

// RecomputeStudent re-derives one student's tier inside exec and writes it only when it changed.
// Callers read thresholds FOR SHARE in the same transaction before touching any student row, so
// the settings row is always locked ahead of student rows, as UpdateThresholds does.
func (s *StatusService) RecomputeStudent(ctx context.Context, exec sqlx.ExtContext, studentID string, thresholds models.ThresholdSettings, reason string) (*models.Student, *dto.StatusTransition, error) {
	student, err := s.students.FindByID(ctx, exec, studentID, repository.LockUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, appErrors.Internal(err, "failed to load student")
	}
	next := ResolveStatus(student.PointTotal, thresholds)
	if next == student.Status {
		return student, nil, nil
	}
	transition, err := s.write(ctx, exec, student, next, reason)
	if err != nil {
		return nil, nil, err
	}
	return student, transition, nil
}

// RecomputePopulation re-derives every student's tier against thresholds inside exec.
// Rows are locked FOR UPDATE and only changed rows are written, so a second pass writes nothing.
func (s *StatusService) RecomputePopulation(ctx context.Context, exec sqlx.ExtContext, thresholds models.ThresholdSettings, reason string) (*dto.RecomputeReport, error) {
	students, err := s.students.ListAll(ctx, exec, repository.LockUpdate)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load students")
	}
	report := &dto.RecomputeReport{Evaluated: len(students), Changed: []dto.StatusTransition{}}
	for i := range students {
		student := &students[i]
		next := ResolveStatus(student.PointTotal, thresholds)
		if next == student.Status {
			continue
		}
		transition, err := s.write(ctx, exec, student, next, reason)
		if err != nil {
			return nil, err
		}
		report.Changed = append(report.Changed, *transition)
	}
	s.logger.Info("population recompute",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("changed", len(report.Changed)),
		zap.Uint("probation_at", thresholds.ProbationAt),
		zap.Uint("expulsion_risk_at", thresholds.ExpulsionRiskAt),
	)
	return report, nil
}

// write stores next for student guarded by its version, then appends the history row.
// student is updated in place.
func (s *StatusService) write(ctx context.Context, exec sqlx.ExtContext, student *models.Student, next models.StudentStatus, reason string) (*dto.StatusTransition, error) {
	ok, err := s.students.UpdateStatus(ctx, exec, student.ID, next, student.Version)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to update student status")
	}
	if !ok {
		return nil, appErrors.Wrap(fmt.Errorf("student %s changed since version %d", student.ID, student.Version),
			appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "student was modified concurrently")
	}
	transition := &dto.StatusTransition{
		StudentID:   student.ID,
		IdentityRef: student.IdentityRef,
		From:        student.Status,
		To:          next,
		PointTotal:  student.PointTotal,
	}
	if err := s.history.Create(ctx, exec, &models.StatusChange{
		StudentID:  student.ID,
		FromStatus: student.Status,
		ToStatus:   next,
		PointTotal: student.PointTotal,
		Reason:     reason,
	}); err != nil {
		return nil, appErrors.Internal(err, "failed to record status change")
	}
	student.Status = next
	student.Version++
	s.metrics.RecordStatusWrite(next)
	return transition, nil
}
