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

const audiencePreviewSample = 20

type announcementRepository interface {
	List(ctx context.Context, kind *models.AnnouncementKind, page, pageSize int) ([]models.Announcement, int, error)
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	Create(ctx context.Context, announcement *models.Announcement) error
}

type audienceSource interface {
	ListAll(ctx context.Context, exec sqlx.ExtContext, lock repository.RowLock) ([]models.Student, error)
}

// AnnouncementService publishes announcements and events to the students an audience filter selects.
type AnnouncementService struct {
	repo      announcementRepository
	students  audienceSource
	notifier  notificationDispatcher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAnnouncementService constructs an AnnouncementService.
func NewAnnouncementService(repo announcementRepository, students audienceSource, notifier notificationDispatcher, validate *validator.Validate, logger *zap.Logger) *AnnouncementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AnnouncementService{repo: repo, students: students, notifier: notifier, validator: validate, logger: logger}
	_ = svc.validator.RegisterValidation("student_status", func(fl validator.FieldLevel) bool {
		return models.StudentStatus(fl.Field().String()).Valid()
	})
	_ = svc.validator.RegisterValidation("point_op", func(fl validator.FieldLevel) bool {
		return models.PointOperator(fl.Field().String()).Valid()
	})
	return svc
}

// Create stores an announcement and notifies every matching student.
func (s *AnnouncementService) Create(ctx context.Context, req dto.CreateAnnouncementRequest, actor *models.JWTClaims) (*dto.AnnouncementResult, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payload")
	}
	audience, err := s.resolve(ctx, req.Audience)
	if err != nil {
		return nil, err
	}

	announcement := &models.Announcement{
		Kind:           models.AnnouncementKind(req.Kind),
		Title:          req.Title,
		Content:        req.Content,
		Audience:       req.Audience,
		EventAt:        req.EventAt,
		RecipientCount: len(audience),
		CreatedBy:      actor.UserID,
	}
	if err := s.repo.Create(ctx, announcement); err != nil {
		return nil, appErrors.Internal(err, "failed to store announcement")
	}

	kind := models.NotificationAnnouncement
	if announcement.Kind == models.AnnouncementKindEvent {
		kind = models.NotificationEvent
	}
	recipients := make([]string, 0, len(audience))
	for _, student := range audience {
		recipients = append(recipients, student.IdentityRef)
	}
	result, err := s.notifier.Dispatch(ctx, dto.NotificationEvent{
		Kind:      kind,
		Title:     announcement.Title,
		Message:   announcement.Content,
		DedupeKey: "announcement:" + announcement.ID,
	}, recipients)
	if err != nil {
		s.logger.Warn("announcement fan-out failed", zap.String("announcement_id", announcement.ID), zap.Error(err))
	}
	s.logger.Info("announcement published",
		zap.String("announcement_id", announcement.ID),
		zap.String("kind", string(announcement.Kind)),
		zap.Int("recipients", len(recipients)),
	)
	return &dto.AnnouncementResult{Announcement: *announcement, Notifications: result}, nil
}

// Preview reports how many students a filter matches, with a sample.
func (s *AnnouncementService) Preview(ctx context.Context, filter models.AudienceFilter) (*dto.AudiencePreview, error) {
	if err := s.validateAudience(filter); err != nil {
		return nil, err
	}
	students, err := s.students.ListAll(ctx, nil, repository.LockNone)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load students")
	}
	matched := ResolveAudience(filter, students)
	preview := &dto.AudiencePreview{Total: len(students), Matched: len(matched), Sample: []dto.AudienceMember{}}
	for i, student := range matched {
		if i == audiencePreviewSample {
			break
		}
		preview.Sample = append(preview.Sample, dto.AudienceMember{
			StudentID:  student.ID,
			FullName:   student.FullName,
			Program:    student.Program,
			Cohort:     student.Cohort,
			Status:     student.Status,
			PointTotal: student.PointTotal,
		})
	}
	return preview, nil
}

// Get returns one announcement.
func (s *AnnouncementService) Get(ctx context.Context, id string) (*models.Announcement, error) {
	announcement, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Internal(err, "failed to load announcement")
	}
	return announcement, nil
}

// List returns announcements, newest first.
func (s *AnnouncementService) List(ctx context.Context, kind *models.AnnouncementKind, page, pageSize int) ([]models.Announcement, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	announcements, total, err := s.repo.List(ctx, kind, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list announcements")
	}
	if announcements == nil {
		announcements = []models.Announcement{}
	}
	return announcements, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func (s *AnnouncementService) resolve(ctx context.Context, filter models.AudienceFilter) ([]models.Student, error) {
	if err := s.validateAudience(filter); err != nil {
		return nil, err
	}
	students, err := s.students.ListAll(ctx, nil, repository.LockNone)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load students")
	}
	return ResolveAudience(filter, students), nil
}

func (s *AnnouncementService) validateAudience(filter models.AudienceFilter) error {
	if err := s.validator.Struct(filter); err != nil {
		return validationError(err, "invalid audience")
	}
	if err := filter.Validate(); err != nil {
		return validationError(err, err.Error())
	}
	return nil
}
