package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, lock repository.RowLock) (*models.Student, error)
	ExistsByNIS(ctx context.Context, nis string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
}

type statusHistoryReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.StatusChange, error)
}

// StudentService enrols students and serves their records.
type StudentService struct {
	repo       studentRepository
	history    statusHistoryReader
	identities IdentityProvider
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewStudentService constructs a StudentService.
func NewStudentService(repo studentRepository, history statusHistoryReader, identities IdentityProvider, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, history: history, identities: identities, validator: validate, logger: logger}
}

// Create enrols a student and their identity. The identity is created first; if the student row
// cannot be stored the identity is deleted again.
func (s *StudentService) Create(ctx context.Context, req dto.CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payload")
	}
	exists, err := s.repo.ExistsByNIS(ctx, req.NIS)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check nis")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "nis already registered")
	}

	identityRef, err := s.identities.CreateIdentity(ctx, NewIdentity{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     models.RoleStudent,
	})
	if err != nil {
		return nil, asAppError(err, "failed to create identity")
	}

	student := &models.Student{
		IdentityRef: identityRef,
		NIS:         req.NIS,
		FullName:    req.FullName,
		Program:     req.Program,
		Cohort:      req.Cohort,
		Affiliation: req.Affiliation,
		Track:       req.Track,
		Status:      models.StudentStatusNormal,
	}
	if err := s.repo.Create(ctx, nil, student); err != nil {
		if cleanupErr := s.identities.DeleteIdentity(ctx, identityRef); cleanupErr != nil {
			s.logger.Error("failed to compensate identity after student insert failure",
				zap.String("identity_ref", identityRef),
				zap.Error(cleanupErr),
			)
		}
		return nil, appErrors.Internal(err, "failed to create student")
	}
	s.logger.Info("student enrolled", zap.String("student_id", student.ID), zap.String("identity_ref", identityRef))
	return student, nil
}

// List returns students with pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list students")
	}
	if students == nil {
		students = []models.Student{}
	}
	return students, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a student. Students may only read their own record.
func (s *StudentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, nil, id, repository.LockNone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	if actor != nil && actor.Role == models.RoleStudent && student.IdentityRef != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another student's record")
	}
	return student, nil
}

// History returns the status transitions of a student, newest first.
func (s *StudentService) History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.StatusChange, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	changes, err := s.history.ListByStudent(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load status history")
	}
	if changes == nil {
		changes = []models.StatusChange{}
	}
	return changes, nil
}
