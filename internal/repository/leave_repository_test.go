package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

var leaveRowColumns = []string{"id", "type", "student_id", "student_snapshot", "reason", "status", "from_date", "to_date", "expected_arrival", "staff_id", "hod_id", "recorded_at", "arrival_confirmed_at", "rejection_reason", "created_at", "updated_at"}

const snapshotJSON = `{"name":"Asha","reg_number":"21CS001","year":2,"section":"A","department":"CSE","parent_phone":"9876543210"}`

func TestLeaveCreateAndFind(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	mock.ExpectExec("INSERT INTO leave_requests").WillReturnResult(sqlmock.NewResult(1, 1))
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM leave_requests WHERE id = $1")).
		WithArgs("leave-1").
		WillReturnRows(sqlmock.NewRows(leaveRowColumns).
			AddRow("leave-1", "leave", "stu-1", []byte(snapshotJSON), "fever", "requested", now, now, nil, nil, nil, nil, nil, nil, now, now))

	req := &models.LeaveRequest{ID: "leave-1", Type: models.LeaveTypeLeave, StudentID: "stu-1", Reason: "fever", Status: models.LeaveRequested}
	require.NoError(t, repo.Create(context.Background(), req))

	found, err := repo.FindByID(context.Background(), "leave-1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", found.Student.Name)
	assert.Equal(t, "9876543210", found.Student.ParentPhone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveTransitionUsesCompareAndSwap(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	now := time.Now()
	hod := "hod-1"
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE leave_requests SET status = $3") + ".*" + regexp.QuoteMeta("WHERE id = $1 AND status = ANY($2)")).
		WithArgs("leave-1", sqlmock.AnyArg(), string(models.LeaveApprovedByHOD), nil, hod, nil, nil, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(leaveRowColumns).
			AddRow("leave-1", "leave", "stu-1", []byte(snapshotJSON), "fever", "approved_by_hod", now, now, nil, nil, hod, nil, nil, nil, now, now))

	out, err := repo.Transition(context.Background(), "leave-1", []models.LeaveStatus{models.LeaveRequested}, models.LeaveUpdate{
		Status: models.LeaveApprovedByHOD, HODID: &hod, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, models.LeaveApprovedByHOD, out.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveTransitionStale(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	mock.ExpectQuery("UPDATE leave_requests").WillReturnError(sql.ErrNoRows)
	_, err := repo.Transition(context.Background(), "leave-1", []models.LeaveStatus{models.LeaveRequested}, models.LeaveUpdate{Status: models.LeaveRejectedByHOD})
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveDeleteOnlyWhenDeletable(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM leave_requests WHERE id = $1 AND status = ANY($2)")).
		WithArgs("leave-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "leave-1", []models.LeaveStatus{models.LeaveRequested})
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLeaveRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM leave_requests WHERE 1=1 AND student_snapshot->>'department' = $1 AND type = $2 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("CSE", string(models.LeaveTypeLate)).
		WillReturnRows(sqlmock.NewRows(leaveRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM leave_requests WHERE 1=1 AND student_snapshot->>'department' = $1 AND type = $2")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	list, total, err := repo.List(context.Background(), models.LeaveFilter{Department: "CSE", Type: models.LeaveTypeLate})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
