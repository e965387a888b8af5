package models

import "time"

// ApprovalStatus is the lifecycle state of a staff signup request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest is a staff signup awaiting a decision from its resolved approver.
type ApprovalRequest struct {
	ID              string         `db:"id" json:"id"`
	Email           string         `db:"email" json:"email"`
	Name            string         `db:"name" json:"name"`
	PasswordHash    string         `db:"password_hash" json:"-"`
	Department      string         `db:"department" json:"department"`
	Year            int            `db:"year" json:"year"`
	Section         string         `db:"section" json:"section"`
	Phone           string         `db:"phone" json:"phone"`
	Status          ApprovalStatus `db:"status" json:"status"`
	ApprovingRoleID string         `db:"approving_role_id" json:"approving_role_id"`
	ApprovedBy      *string        `db:"approved_by" json:"approved_by,omitempty"`
	RejectionReason *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedUserID   *string        `db:"created_user_id" json:"created_user_id,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
	DecidedAt       *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
}

// ApprovalFilter narrows an approver's queue.
type ApprovalFilter struct {
	ApproverID string
	Status     ApprovalStatus
	Page       int
	PageSize   int
}

// ApprovalDecisionResult is returned after approve or reject.
type ApprovalDecisionResult struct {
	Status        ApprovalStatus `json:"status"`
	Message       string         `json:"message"`
	CreatedUserID *string        `json:"created_user_id,omitempty"`
}
