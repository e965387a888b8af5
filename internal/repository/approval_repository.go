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

const approvalColumns = `id, email, name, password_hash, department, year, section, phone, status, approving_role_id, approved_by, rejection_reason, created_user_id, created_at, updated_at, decided_at`

// ApprovalDecision carries the columns written when a request is decided.
type ApprovalDecision struct {
	ID              string
	From            models.ApprovalStatus
	To              models.ApprovalStatus
	DecidedBy       string
	RejectionReason *string
	DecidedAt       time.Time
}

// ApprovalRepository persists staff signup requests.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Create inserts a pending signup request.
func (r *ApprovalRepository) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	const query = `INSERT INTO approval_requests (id, email, name, password_hash, department, year, section, phone, status, approving_role_id, created_at, updated_at) VALUES (:id, :email, :name, :password_hash, :department, :year, :section, :phone, :status, :approving_role_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

// FindByID returns a signup request by identifier.
func (r *ApprovalRepository) FindByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find approval request: %w", err)
	}
	return &req, nil
}

// ExistsPending reports whether email already has a pending request.
func (r *ApprovalRepository) ExistsPending(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM approval_requests WHERE email = $1 AND status = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, email, models.ApprovalPending); err != nil {
		return false, fmt.Errorf("check pending approval: %w", err)
	}
	return exists, nil
}

// List returns the requests assigned to an approver.
func (r *ApprovalRepository) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, int, error) {
	where := `FROM approval_requests WHERE approving_role_id = $1`
	args := []interface{}{filter.ApproverID}
	if filter.Status != "" {
		where += ` AND status = $2`
		args = append(args, filter.Status)
	}
	_, size, offset := paginate(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", approvalColumns, where, size, offset)
	var out []models.ApprovalRequest
	if err := r.db.SelectContext(ctx, &out, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list approval requests: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count approval requests: %w", err)
	}
	return out, total, nil
}

// Decide moves a request out of d.From in one transaction. When account is
// non-nil the staff user is created in the same transaction and linked to the
// request. ErrStaleStatus means another decision won.
func (r *ApprovalRepository) Decide(ctx context.Context, d ApprovalDecision, account *models.User) (*models.ApprovalRequest, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approval decision: %w", err)
	}
	committed := false
	defer rollback(tx, &committed)

	query := `UPDATE approval_requests SET status = $2, approved_by = $3, rejection_reason = $4, decided_at = $5, updated_at = $5 WHERE id = $1 AND status = $6 RETURNING ` + approvalColumns
	var out models.ApprovalRequest
	if err := tx.GetContext(ctx, &out, query, d.ID, d.To, d.DecidedBy, d.RejectionReason, d.DecidedAt, d.From); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("update approval status: %w", err)
	}

	if account != nil {
		if err := insertUser(ctx, tx, account); err != nil {
			return nil, err
		}
		const link = `UPDATE approval_requests SET created_user_id = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, link, d.ID, account.ID); err != nil {
			return nil, fmt.Errorf("link created user: %w", err)
		}
		out.CreatedUserID = &account.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approval decision: %w", err)
	}
	committed = true
	return &out, nil
}
