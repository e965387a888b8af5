package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.NotificationRecord) error
	List(ctx context.Context, email string, filter models.NotificationFilter) ([]models.NotificationRecord, int, error)
	CountUnread(ctx context.Context, email string) (int, error)
	MarkRead(ctx context.Context, id, email string) error
	MarkAllRead(ctx context.Context, email string) (int64, error)
}

type pushDeliverer interface {
	Enabled() bool
	Deliver(ctx context.Context, recipientEmail string, payload models.PushPayload) *models.PushResult
}

// Notifier is what workflow services use to reach a person.
type Notifier interface {
	Notify(ctx context.Context, msg models.NotificationMessage) models.NotifyResult
}

// NotificationService stores in-app notifications and forwards them to web push.
type NotificationService struct {
	repo     notificationStore
	push     pushDeliverer
	cache    *CacheService
	cacheTTL time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotificationService constructs the notification sink. push and cache may be nil.
func NewNotificationService(repo notificationStore, push pushDeliverer, cache *CacheService, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &NotificationService{repo: repo, push: push, cache: cache, cacheTTL: cacheTTL, metrics: metrics, logger: logger, now: time.Now}
}

func unreadKey(email string) string {
	return "notifications:unread:" + email
}

// Record appends a notification for recipientEmail.
func (s *NotificationService) Record(ctx context.Context, recipientEmail string, kind models.NotificationType, title, body string, data models.NotificationData) (*models.NotificationRecord, error) {
	if recipientEmail == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notification recipient is required")
	}
	record := &models.NotificationRecord{
		ID:             uuid.NewString(),
		RecipientEmail: recipientEmail,
		Type:           kind,
		Title:          title,
		Body:           body,
		Data:           data,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		s.metrics.RecordDispatch("in_app", OutcomeFailed)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store notification")
	}
	s.metrics.RecordDispatch("in_app", OutcomeSuccess)
	s.invalidateUnread(ctx, recipientEmail)
	return record, nil
}

// Notify records the message and pushes it to the recipient's browsers when
// push is enabled. Failures are reported in the result, never returned.
func (s *NotificationService) Notify(ctx context.Context, msg models.NotificationMessage) models.NotifyResult {
	var result models.NotifyResult
	record, err := s.Record(ctx, msg.RecipientEmail, msg.Type, msg.Title, msg.Body, msg.Data)
	if err != nil {
		s.logger.Warn("notification not recorded",
			zap.String("recipient", msg.RecipientEmail),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
		result.Error = err.Error()
	}
	result.Record = record

	if s.push != nil && s.push.Enabled() && msg.RecipientEmail != "" {
		payload := models.PushPayload{
			Title: msg.Title,
			Body:  msg.Body,
			Type:  string(msg.Type),
			URL:   msg.URL,
			Data:  msg.Data,
		}
		result.Push = s.push.Deliver(ctx, msg.RecipientEmail, payload)
	}
	return result
}

// List returns the caller's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, email string, filter models.NotificationFilter) ([]models.NotificationRecord, *models.Pagination, error) {
	records, total, err := s.repo.List(ctx, email, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if records == nil {
		records = []models.NotificationRecord{}
	}
	return records, buildPagination(filter.Page, filter.PageSize, total), nil
}

// UnreadCount returns the unread badge value and whether it came from cache.
func (s *NotificationService) UnreadCount(ctx context.Context, email string) (int, bool, error) {
	var count int
	if hit, err := s.cache.Get(ctx, unreadKey(email), &count); err == nil && hit {
		return count, true, nil
	}
	count, err := s.repo.CountUnread(ctx, email)
	if err != nil {
		return 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	_ = s.cache.Set(ctx, unreadKey(email), count, s.cacheTTL)
	return count, false, nil
}

// MarkRead marks one of the caller's notifications as read. Repeating it is harmless.
func (s *NotificationService) MarkRead(ctx context.Context, id, email string) error {
	if err := s.repo.MarkRead(ctx, id, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	s.invalidateUnread(ctx, email)
	return nil
}

// MarkAllRead marks every unread notification of the caller as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, email string) (int64, error) {
	updated, err := s.repo.MarkAllRead(ctx, email)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	s.invalidateUnread(ctx, email)
	return updated, nil
}

func (s *NotificationService) invalidateUnread(ctx context.Context, email string) {
	if err := s.cache.Invalidate(ctx, unreadKey(email)); err != nil {
		s.logger.Debug("unread counter not invalidated", zap.String("recipient", email), zap.Error(err))
	}
}
