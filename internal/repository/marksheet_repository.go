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

const marksheetColumns = `id, student_id, student_snapshot, exam_name, semester, subjects, pdf_url, image_url, status, staff_id, hod_id, hod_response, dispatch_channel, dispatched_at, created_at, updated_at`

// MarksheetRepository persists marksheet dispatches. Every read normalizes
// the reschedule alias.
type MarksheetRepository struct {
	db *sqlx.DB
}

// NewMarksheetRepository constructs the repository.
func NewMarksheetRepository(db *sqlx.DB) *MarksheetRepository {
	return &MarksheetRepository{db: db}
}

// Create inserts a marksheet.
func (r *MarksheetRepository) Create(ctx context.Context, m *models.Marksheet) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	const query = `INSERT INTO marksheets (id, student_id, student_snapshot, exam_name, semester, subjects, status, staff_id, created_at, updated_at) VALUES (:id, :student_id, :student_snapshot, :exam_name, :semester, :subjects, :status, :staff_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("create marksheet: %w", err)
	}
	return nil
}

// FindByID returns a marksheet by identifier.
func (r *MarksheetRepository) FindByID(ctx context.Context, id string) (*models.Marksheet, error) {
	query := `SELECT ` + marksheetColumns + ` FROM marksheets WHERE id = $1`
	var m models.Marksheet
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find marksheet: %w", err)
	}
	m.Normalize()
	return &m, nil
}

// List returns marksheets matching filter, newest first.
func (r *MarksheetRepository) List(ctx context.Context, filter models.MarksheetFilter) ([]models.Marksheet, int, error) {
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
	if filter.Status != "" {
		statuses := []string{string(filter.Status)}
		if filter.Status == models.MarksheetDispatchRequested {
			statuses = append(statuses, string(models.MarksheetRescheduledByHOD))
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	where := "FROM marksheets WHERE 1=1"
	if len(conditions) > 0 {
		where += " AND " + strings.Join(conditions, " AND ")
	}
	_, size, offset := paginate(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", marksheetColumns, where, size, offset)
	var out []models.Marksheet
	if err := r.db.SelectContext(ctx, &out, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list marksheets: %w", err)
	}
	for i := range out {
		out[i].Normalize()
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count marksheets: %w", err)
	}
	return out, total, nil
}

// Transition writes upd only if the stored status is one of from and no
// other caller holds a live send claim. A successful write drops the claim.
func (r *MarksheetRepository) Transition(ctx context.Context, id string, from []models.MarksheetStatus, upd models.MarksheetUpdate) (*models.Marksheet, error) {
	query := `UPDATE marksheets SET status = $3, hod_id = CASE WHEN $4 THEN NULL ELSE COALESCE($5, hod_id) END, hod_response = CASE WHEN $4 THEN NULL ELSE COALESCE($6, hod_response) END, dispatch_channel = COALESCE($7, dispatch_channel), dispatched_at = COALESCE($8, dispatched_at), pdf_url = COALESCE($9, pdf_url), updated_at = $10, send_claim = NULL, send_claimed_at = NULL WHERE id = $1 AND status = ANY($2) AND (send_claim IS NULL OR send_claim = $11 OR send_claimed_at < $12) RETURNING ` + marksheetColumns
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	var out models.Marksheet
	err := r.db.GetContext(ctx, &out, query, id, pq.Array(statuses), upd.Status, upd.ClearHOD,
		upd.HODID, upd.HODResponse, upd.DispatchChannel, upd.DispatchedAt, upd.PDFURL, upd.UpdatedAt,
		upd.SendClaim, upd.ClaimsExpireBefore)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("transition marksheet: %w", err)
	}
	out.Normalize()
	return &out, nil
}

// ClaimSend reserves an approved marksheet for one WhatsApp send. It fails
// with ErrStaleStatus when the status moved on or another live claim exists.
func (r *MarksheetRepository) ClaimSend(ctx context.Context, id, token string, at, expireBefore time.Time) error {
	const query = `UPDATE marksheets SET send_claim = $2, send_claimed_at = $3 WHERE id = $1 AND status = $4 AND (send_claim IS NULL OR send_claimed_at < $5)`
	res, err := r.db.ExecContext(ctx, query, id, token, at, string(models.MarksheetApprovedByHOD), expireBefore)
	if err != nil {
		return fmt.Errorf("claim marksheet send: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim marksheet send: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// ReleaseSend drops the caller's claim after a send that reached nobody,
// recording where the rendered PDF can be downloaded.
func (r *MarksheetRepository) ReleaseSend(ctx context.Context, id, token string, pdfURL *string) error {
	const query = `UPDATE marksheets SET send_claim = NULL, send_claimed_at = NULL, pdf_url = COALESCE($3, pdf_url), updated_at = $4 WHERE id = $1 AND send_claim = $2`
	if _, err := r.db.ExecContext(ctx, query, id, token, pdfURL, time.Now().UTC()); err != nil {
		return fmt.Errorf("release marksheet send: %w", err)
	}
	return nil
}
