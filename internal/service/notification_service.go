package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

type notificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) error
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type adminDirectory interface {
	ListActiveIDsByRole(ctx context.Context, role models.UserRole) ([]string, error)
}

// NotificationConfig governs fan-out and retention.
type NotificationConfig struct {
	Concurrency int
	Dedupe      bool
	Retention   time.Duration
}

// NotificationService fans business events out to recipients and serves their inbox.
type NotificationService struct {
	repo    notificationRepository
	users   adminDirectory
	metrics *MetricsService
	logger  *zap.Logger
	config  NotificationConfig
	now     func() time.Time
}

// NewNotificationService constructs the dispatcher.
func NewNotificationService(repo notificationRepository, users adminDirectory, metrics *MetricsService, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	return &NotificationService{repo: repo, users: users, metrics: metrics, logger: logger, config: cfg, now: time.Now}
}

// Dispatch writes one notification per distinct non-empty recipient.
// Writes run concurrently; a failed recipient is reported in the result and never blocks the others.
func (s *NotificationService) Dispatch(ctx context.Context, event dto.NotificationEvent, recipients []string) (*dto.DispatchResult, error) {
	if event.Kind == "" || event.Title == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notification kind and title are required")
	}
	unique := distinctRecipients(recipients)
	result := &dto.DispatchResult{Kind: event.Kind, Recipients: len(unique), Delivered: []string{}}
	if len(unique) == 0 {
		return result, nil
	}

	var dedupeKey *string
	if s.config.Dedupe && event.DedupeKey != "" {
		key := event.DedupeKey
		dedupeKey = &key
	}

	type outcome struct {
		inserted bool
		err      error
	}
	outcomes := make([]outcome, len(unique))

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i, recipient := range unique {
		i, recipient := i, recipient
		g.Go(func() error {
			inserted, err := s.repo.Create(ctx, &models.Notification{
				RecipientID: recipient,
				Title:       event.Title,
				Message:     event.Message,
				Kind:        event.Kind,
				DedupeKey:   dedupeKey,
			})
			outcomes[i] = outcome{inserted: inserted, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		recipient := unique[i]
		switch {
		case o.err != nil:
			result.Failed = append(result.Failed, dto.DispatchFailure{RecipientID: recipient, Error: o.err.Error()})
			s.metrics.RecordNotification(event.Kind, OutcomeFailed)
			s.logger.Warn("notification write failed",
				zap.String("recipient_id", recipient),
				zap.String("kind", string(event.Kind)),
				zap.Error(o.err),
			)
		case !o.inserted:
			result.Skipped = append(result.Skipped, recipient)
			s.metrics.RecordNotification(event.Kind, OutcomeSkipped)
		default:
			result.Delivered = append(result.Delivered, recipient)
			s.metrics.RecordNotification(event.Kind, OutcomeDelivered)
		}
	}
	return result, nil
}

// AdminRecipients lists active administrators except the acting one.
func (s *NotificationService) AdminRecipients(ctx context.Context, excludeActorID string) ([]string, error) {
	ids, err := s.users.ListActiveIDsByRole(ctx, models.RoleAdmin)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list administrators")
	}
	recipients := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != excludeActorID {
			recipients = append(recipients, id)
		}
	}
	return recipients, nil
}

// ListForRecipient returns a page of the recipient's notifications.
func (s *NotificationService) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, page, pageSize int) ([]models.Notification, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	notifications, total, err := s.repo.List(ctx, models.NotificationFilter{RecipientID: recipientID, UnreadOnly: unreadOnly, Page: page, PageSize: pageSize})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list notifications")
	}
	return notifications, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// UnreadCount counts the recipient's unread notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	count, err := s.repo.UnreadCount(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to count notifications")
	}
	return count, nil
}

// MarkRead marks one of the recipient's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	if err := s.repo.MarkRead(ctx, id, recipientID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Internal(err, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead marks every unread notification of the recipient as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	updated, err := s.repo.MarkAllRead(ctx, recipientID, s.now().UTC())
	if err != nil {
		return 0, appErrors.Internal(err, "failed to mark notifications read")
	}
	return updated, nil
}

// PurgeExpired deletes notifications older than the retention period.
func (s *NotificationService) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.config.Retention)
	purged, err := s.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return purged, nil
}

// RunRetention purges expired notifications every interval until ctx is done.
func (s *NotificationService) RunRetention(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := s.PurgeExpired(ctx)
			if err != nil {
				s.logger.Warn("notification retention sweep failed", zap.Error(err))
				continue
			}
			s.logger.Info("notification retention sweep", zap.Int64("purged", purged))
		}
	}
}

func distinctRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	unique := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		unique = append(unique, r)
	}
	return unique
}

func mergeDispatch(into, from *dto.DispatchResult) {
	if into == nil || from == nil {
		return
	}
	into.Recipients += from.Recipients
	into.Delivered = append(into.Delivered, from.Delivered...)
	into.Skipped = append(into.Skipped, from.Skipped...)
	into.Failed = append(into.Failed, from.Failed...)
}
