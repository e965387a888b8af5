package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

var approvalRowColumns = []string{"id", "email", "name", "password_hash", "department", "year", "section", "phone", "status", "approving_role_id", "approved_by", "rejection_reason", "created_user_id", "created_at", "updated_at", "decided_at"}

func approvalRow(status models.ApprovalStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(approvalRowColumns).
		AddRow("req-1", "new@example.com", "New Staff", "hash", "CSE", 0, "", "", string(status), "hod-1", "hod-1", nil, nil, now, now, now)
}

func TestApprovalDecideCreatesAccountInTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE approval_requests SET status = $2")).
		WithArgs("req-1", string(models.ApprovalApproved), "hod-1", nil, sqlmock.AnyArg(), string(models.ApprovalPending)).
		WillReturnRows(approvalRow(models.ApprovalApproved))
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_requests SET created_user_id = $2")).
		WithArgs("req-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	account := &models.User{ID: "user-1", Email: "new@example.com", Role: models.RoleStaff, Active: true}
	out, err := repo.Decide(context.Background(), ApprovalDecision{
		ID: "req-1", From: models.ApprovalPending, To: models.ApprovalApproved, DecidedBy: "hod-1", DecidedAt: time.Now(),
	}, account)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, out.Status)
	require.NotNil(t, out.CreatedUserID)
	assert.Equal(t, "user-1", *out.CreatedUserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalDecideStaleStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE approval_requests SET status = $2")).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Decide(context.Background(), ApprovalDecision{ID: "req-1", From: models.ApprovalPending, To: models.ApprovalRejected, DecidedBy: "hod-1"}, nil)
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalDecideDuplicateEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE approval_requests SET status = $2")).
		WillReturnRows(approvalRow(models.ApprovalApproved))
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "users_email_key"`})
	mock.ExpectRollback()

	account := &models.User{ID: "user-1", Email: "new@example.com", Role: models.RoleStaff, Active: true}
	_, err := repo.Decide(context.Background(), ApprovalDecision{
		ID: "req-1", From: models.ApprovalPending, To: models.ApprovalApproved, DecidedBy: "hod-1", DecidedAt: time.Now(),
	}, account)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalListForApprover(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + approvalColumns + " FROM approval_requests WHERE approving_role_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("hod-1", string(models.ApprovalPending)).
		WillReturnRows(approvalRow(models.ApprovalPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM approval_requests WHERE approving_role_id = $1 AND status = $2")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.ApprovalFilter{ApproverID: "hod-1", Status: models.ApprovalPending})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
