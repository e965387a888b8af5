package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

const leaveColumns = `id, type, student_id, student_snapshot, reason, status, from_date, to_date, expected_arrival, staff_id, hod_id, recorded_at, arrival_confirmed_at, rejection_reason, created_at, updated_at`

// LeaveRepository persists leave and late requests.
type LeaveRepository struct {
	db *sqlx.DB
}

// NewLeaveRepository constructs the repository.
func NewLeaveRepository(db *sqlx.DB) *LeaveRepository {
	return &LeaveRepository{db: db}
}

// Create inserts a new request with its student snapshot.
func (r *LeaveRepository) Create(ctx context.Context, req *models.LeaveRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	const query = `INSERT INTO leave_requests (id, type, student_id, student_snapshot, reason, status, from_date, to_date, expected_arrival, created_at, updated_at) VALUES (:id, :type, :student_id, :student_snapshot, :reason, :status, :from_date, :to_date, :expected_arrival, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create leave request: %w", err)
	}
	return nil
}

// FindByID returns a request by identifier.
func (r *LeaveRepository) FindByID(ctx context.Context, id string) (*models.LeaveRequest, error) {
	query := `SELECT ` + leaveColumns + ` FROM leave_requests WHERE id = $1`
	var req models.LeaveRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find leave request: %w", err)
	}
	return &req, nil
}

// List returns requests matching filter, newest first.
func (r *LeaveRepository) List(ctx context.Context, filter models.LeaveFilter) ([]models.LeaveRequest, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		conditions = append(conditions, fmt.Sprintf("student_snapshot->>'department' = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := "FROM leave_requests WHERE 1=1"
	if len(conditions) > 0 {
		where += " AND " + strings.Join(conditions, " AND ")
	}
	_, size, offset := paginate(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", leaveColumns, where, size, offset)
	var out []models.LeaveRequest
	if err := r.db.SelectContext(ctx, &out, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list leave requests: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count leave requests: %w", err)
	}
	return out, total, nil
}

// Transition writes upd only if the stored status is one of from. The
// student snapshot is never part of the update.
func (r *LeaveRepository) Transition(ctx context.Context, id string, from []models.LeaveStatus, upd models.LeaveUpdate) (*models.LeaveRequest, error) {
	query := `UPDATE leave_requests SET status = $3, staff_id = COALESCE($4, staff_id), hod_id = COALESCE($5, hod_id), recorded_at = COALESCE($6, recorded_at), arrival_confirmed_at = COALESCE($7, arrival_confirmed_at), rejection_reason = COALESCE($8, rejection_reason), updated_at = $9 WHERE id = $1 AND status = ANY($2) RETURNING ` + leaveColumns
	var out models.LeaveRequest
	err := r.db.GetContext(ctx, &out, query, id, pq.Array(leaveStatusStrings(from)), upd.Status,
		upd.StaffID, upd.HODID, upd.RecordedAt, upd.ArrivalConfirmedAt, upd.RejectionReason, upd.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("transition leave request: %w", err)
	}
	return &out, nil
}

// Delete removes a request whose status is still one of deletable.
func (r *LeaveRepository) Delete(ctx context.Context, id string, deletable []models.LeaveStatus) error {
	const query = `DELETE FROM leave_requests WHERE id = $1 AND status = ANY($2)`
	res, err := r.db.ExecContext(ctx, query, id, pq.Array(leaveStatusStrings(deletable)))
	if err != nil {
		return fmt.Errorf("delete leave request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete leave request: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func leaveStatusStrings(statuses []models.LeaveStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
