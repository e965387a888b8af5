// Package webpush wraps the VAPID web-push transport behind a narrow interface
// so the push dispatcher can be tested without a browser push service.
package webpush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpushgo "github.com/SherClockHolmes/webpush-go"

	"github.com/noah-isme/campus-portal-api/pkg/config"
)

// ErrSubscriptionGone marks endpoints the push service reports as expired (404/410).
var ErrSubscriptionGone = errors.New("push subscription gone")

// Subscription is the browser-provided endpoint and encryption keys.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Sender delivers one encrypted payload to one subscription.
type Sender struct {
	opts webpushgo.Options
	send func(ctx context.Context, message []byte, s *webpushgo.Subscription, o *webpushgo.Options) (*http.Response, error)
}

// NewSender builds a VAPID sender from configuration.
func NewSender(cfg config.PushConfig) *Sender {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		opts: webpushgo.Options{
			HTTPClient:      &http.Client{Timeout: timeout},
			Subscriber:      cfg.Subject,
			TTL:             int(cfg.TTL.Seconds()),
			Urgency:         webpushgo.UrgencyNormal,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		},
		send: webpushgo.SendNotificationWithContext,
	}
}

// PublicKey returns the VAPID application server key browsers subscribe with.
func (s *Sender) PublicKey() string {
	return s.opts.VAPIDPublicKey
}

// Send encrypts and posts the payload. A 404/410 answer is reported as
// ErrSubscriptionGone so callers can deactivate the endpoint.
func (s *Sender) Send(ctx context.Context, sub Subscription, payload []byte) error {
	resp, err := s.send(ctx, payload, &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpushgo.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &s.opts)
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrSubscriptionGone, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service responded with status %d", resp.StatusCode)
	}
	return nil
}
