package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

// PushSubscriptionRepository stores browser push endpoints keyed by endpoint URL.
type PushSubscriptionRepository struct {
	db *sqlx.DB
}

// NewPushSubscriptionRepository constructs the repository.
func NewPushSubscriptionRepository(db *sqlx.DB) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{db: db}
}

// Upsert stores sub. An existing endpoint is reassigned to the new recipient
// and reactivated.
func (r *PushSubscriptionRepository) Upsert(ctx context.Context, sub *models.PushSubscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	sub.Active = true
	const query = `INSERT INTO push_subscriptions (endpoint, recipient_email, active, p256dh, auth, user_agent, created_at, updated_at)
		VALUES (:endpoint, :recipient_email, :active, :p256dh, :auth, :user_agent, :created_at, :updated_at)
		ON CONFLICT (endpoint) DO UPDATE SET recipient_email = EXCLUDED.recipient_email, active = TRUE, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, user_agent = EXCLUDED.user_agent, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	return nil
}

// ListActive returns the active endpoints of a recipient.
func (r *PushSubscriptionRepository) ListActive(ctx context.Context, email string) ([]models.PushSubscription, error) {
	const query = `SELECT endpoint, recipient_email, active, p256dh, auth, user_agent, created_at, updated_at FROM push_subscriptions WHERE recipient_email = $1 AND active = TRUE`
	var out []models.PushSubscription
	if err := r.db.SelectContext(ctx, &out, query, email); err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	return out, nil
}

// Deactivate disables one endpoint of email, or all of them when endpoint is empty.
func (r *PushSubscriptionRepository) Deactivate(ctx context.Context, email, endpoint string) (int64, error) {
	query := `UPDATE push_subscriptions SET active = FALSE, updated_at = $2 WHERE recipient_email = $1 AND active = TRUE`
	args := []interface{}{email, time.Now().UTC()}
	if endpoint != "" {
		query += ` AND endpoint = $3`
		args = append(args, endpoint)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate push subscriptions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate push subscriptions: %w", err)
	}
	return affected, nil
}

// DeactivateEndpoint disables an endpoint regardless of owner. Used when the
// push service reports the endpoint gone.
func (r *PushSubscriptionRepository) DeactivateEndpoint(ctx context.Context, endpoint string) error {
	const query = `UPDATE push_subscriptions SET active = FALSE, updated_at = $2 WHERE endpoint = $1`
	if _, err := r.db.ExecContext(ctx, query, endpoint, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate push endpoint: %w", err)
	}
	return nil
}
