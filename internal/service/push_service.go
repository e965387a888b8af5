package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
	"github.com/noah-isme/campus-portal-api/pkg/jobs"
	"github.com/noah-isme/campus-portal-api/pkg/webpush"
)

// JobTypePushPrune marks queue jobs that deactivate a dead endpoint.
const JobTypePushPrune = "push-prune"

const maxParallelPushes = 8

type pushSubscriptionStore interface {
	Upsert(ctx context.Context, sub *models.PushSubscription) error
	ListActive(ctx context.Context, email string) ([]models.PushSubscription, error)
	Deactivate(ctx context.Context, email, endpoint string) (int64, error)
	DeactivateEndpoint(ctx context.Context, endpoint string) error
}

type pushSender interface {
	PublicKey() string
	Send(ctx context.Context, sub webpush.Subscription, payload []byte) error
}

type jobEnqueuer interface {
	TryEnqueue(job jobs.Job) error
}

// PushService fans notifications out to every active browser endpoint of a recipient.
type PushService struct {
	repo    pushSubscriptionStore
	sender  pushSender
	enabled bool
	queue   jobEnqueuer
	metrics *MetricsService
	logger  *zap.Logger
}

// NewPushService constructs the push dispatcher.
func NewPushService(repo pushSubscriptionStore, sender pushSender, enabled bool, metrics *MetricsService, logger *zap.Logger) *PushService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushService{repo: repo, sender: sender, enabled: enabled && sender != nil, metrics: metrics, logger: logger}
}

// AttachPruneQueue routes dead endpoints through a background queue instead
// of deactivating them inline.
func (s *PushService) AttachPruneQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Enabled reports whether web push is configured.
func (s *PushService) Enabled() bool {
	return s != nil && s.enabled
}

// PublicKey exposes the VAPID application server key.
func (s *PushService) PublicKey() string {
	if !s.Enabled() {
		return ""
	}
	return s.sender.PublicKey()
}

// Deliver sends payload to every active endpoint of recipientEmail in
// parallel. A failing endpoint never aborts the batch and nothing is retried.
func (s *PushService) Deliver(ctx context.Context, recipientEmail string, payload models.PushPayload) *models.PushResult {
	result := &models.PushResult{}
	if !s.Enabled() {
		return result
	}
	subs, err := s.repo.ListActive(ctx, recipientEmail)
	if err != nil {
		s.logger.Warn("push subscriptions unavailable", zap.String("recipient", recipientEmail), zap.Error(err))
		return result
	}
	if len(subs) == 0 {
		return result
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("push payload not encodable", zap.Error(err))
		return result
	}

	var mu sync.Mutex
	result.Attempted = len(subs)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelPushes)
	for _, sub := range subs {
		sub := sub
		group.Go(func() error {
			err := s.sender.Send(gctx, webpush.Subscription{Endpoint: sub.Endpoint, P256dh: sub.P256dh, Auth: sub.Auth}, body)
			gone := errors.Is(err, webpush.ErrSubscriptionGone)
			mu.Lock()
			if err == nil {
				result.Delivered++
			} else {
				result.FailedEndpoints = append(result.FailedEndpoints, sub.Endpoint)
				if gone {
					result.Pruned++
				}
			}
			mu.Unlock()

			if err == nil {
				s.metrics.RecordDispatch("push", OutcomeSuccess)
				return nil
			}
			s.metrics.RecordDispatch("push", OutcomeFailed)
			if gone {
				s.prune(ctx, sub.Endpoint)
				return nil
			}
			s.logger.Debug("push delivery failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
			return nil
		})
	}
	_ = group.Wait()
	return result
}

func (s *PushService) prune(ctx context.Context, endpoint string) {
	if s.queue != nil {
		err := s.queue.TryEnqueue(jobs.Job{ID: endpoint, Type: JobTypePushPrune, Payload: endpoint})
		if err == nil {
			return
		}
		s.logger.Warn("prune queue unavailable, deactivating inline", zap.Error(err))
	}
	if err := s.repo.DeactivateEndpoint(ctx, endpoint); err != nil {
		s.logger.Warn("failed to deactivate push endpoint", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

// HandlePrune is the queue handler for JobTypePushPrune jobs.
func (s *PushService) HandlePrune(ctx context.Context, job jobs.Job) error {
	endpoint, ok := job.Payload.(string)
	if !ok || endpoint == "" {
		return fmt.Errorf("prune job %s has no endpoint", job.ID)
	}
	return s.repo.DeactivateEndpoint(ctx, endpoint)
}

// Subscribe registers or reassigns a browser endpoint to recipientEmail.
func (s *PushService) Subscribe(ctx context.Context, recipientEmail string, sub webpush.Subscription, userAgent string) (*models.PushSubscription, error) {
	if sub.Endpoint == "" || sub.P256dh == "" || sub.Auth == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endpoint and keys are required")
	}
	record := &models.PushSubscription{
		Endpoint:       sub.Endpoint,
		RecipientEmail: recipientEmail,
		Active:         true,
		P256dh:         sub.P256dh,
		Auth:           sub.Auth,
		UserAgent:      userAgent,
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save push subscription")
	}
	return record, nil
}

// Deactivate disables one endpoint of the caller, or all of them when endpoint is empty.
func (s *PushService) Deactivate(ctx context.Context, recipientEmail, endpoint string) (int64, error) {
	n, err := s.repo.Deactivate(ctx, recipientEmail, endpoint)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate push subscription")
	}
	return n, nil
}
