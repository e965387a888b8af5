package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

const notificationColumns = `id, recipient_email, type, title, body, data, read, created_at`

// NotificationRepository stores in-app notifications. Rows are never deleted.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create appends a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.NotificationRecord) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Data == nil {
		n.Data = models.NotificationData{}
	}
	const query = `INSERT INTO notifications (id, recipient_email, type, title, body, data, read, created_at) VALUES (:id, :recipient_email, :type, :title, :body, :data, :read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// List returns a recipient's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, email string, filter models.NotificationFilter) ([]models.NotificationRecord, int, error) {
	where := `FROM notifications WHERE recipient_email = $1`
	if filter.UnreadOnly {
		where += ` AND read = FALSE`
	}
	_, size, offset := paginate(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", notificationColumns, where, size, offset)
	var out []models.NotificationRecord
	if err := r.db.SelectContext(ctx, &out, listQuery, email); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+where, email); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return out, total, nil
}

// CountUnread returns the number of unread notifications for email.
func (r *NotificationRepository) CountUnread(ctx context.Context, email string) (int, error) {
	const query = `SELECT COUNT(*) FROM notifications WHERE recipient_email = $1 AND read = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, email); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flags one notification owned by email as read. Marking an already
// read notification succeeds; sql.ErrNoRows means it does not belong to email.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, email string) error {
	const query = `UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_email = $2`
	res, err := r.db.ExecContext(ctx, query, id, email)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead flags every unread notification of email as read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, email string) (int64, error) {
	const query = `UPDATE notifications SET read = TRUE WHERE recipient_email = $1 AND read = FALSE`
	res, err := r.db.ExecContext(ctx, query, email)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return affected, nil
}
