package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentFindByUserID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "reg_number", "full_name", "department", "year", "section", "parent_phone", "created_at", "updated_at"}).
		AddRow("stu-1", "user-1", "21CS001", "Asha", "CSE", 2, "A", "9876543210", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE user_id = $1")).
		WithArgs("user-1").
		WillReturnRows(rows)

	student, err := repo.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "21CS001", student.RegNumber)
	snap := student.Snapshot()
	assert.Equal(t, "Asha", snap.Name)
	assert.Equal(t, "9876543210", snap.ParentPhone)
	assert.NoError(t, mock.ExpectationsWereMet())
}
