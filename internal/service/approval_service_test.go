package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type fakeApprovalStore struct {
	requests  map[string]*models.ApprovalRequest
	decisions []repository.ApprovalDecision
	accounts  []*models.User
	stale     bool
	pending   bool
	duplicate bool
}

func (f *fakeApprovalStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = "apr-new"
	}
	f.requests[req.ID] = req
	return nil
}

func (f *fakeApprovalStore) FindByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	if r, ok := f.requests[id]; ok {
		clone := *r
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeApprovalStore) ExistsPending(ctx context.Context, email string) (bool, error) {
	return f.pending, nil
}

func (f *fakeApprovalStore) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, int, error) {
	var out []models.ApprovalRequest
	for _, r := range f.requests {
		if filter.ApproverID != "" && r.ApprovingRoleID != filter.ApproverID {
			continue
		}
		out = append(out, *r)
	}
	return out, len(out), nil
}

func (f *fakeApprovalStore) Decide(ctx context.Context, d repository.ApprovalDecision, account *models.User) (*models.ApprovalRequest, error) {
	if f.stale {
		f.requests[d.ID].Status = models.ApprovalApproved
		return nil, repository.ErrStaleStatus
	}
	r := f.requests[d.ID]
	if r.Status != d.From {
		return nil, repository.ErrStaleStatus
	}
	if account != nil && f.duplicate {
		return nil, fmt.Errorf("create user %s: %w", account.Email, repository.ErrDuplicateEmail)
	}
	f.decisions = append(f.decisions, d)
	r.Status = d.To
	r.ApprovedBy = &d.DecidedBy
	r.RejectionReason = d.RejectionReason
	if account != nil {
		account.ID = "user-new"
		f.accounts = append(f.accounts, account)
		r.CreatedUserID = &account.ID
	}
	clone := *r
	return &clone, nil
}

func approvalFixture() (*ApprovalService, *fakeApprovalStore, *fakeDirectory, *recordingNotifier) {
	hod := &models.User{ID: "hod-cse", Email: "hod.cse@example.edu", Role: models.RoleHOD, Department: "CSE", Active: true}
	firstYear := &models.User{ID: "hod-fy", Email: "hod.fy@example.edu", Role: models.RoleHOD, Department: "FIRST_YEAR", Active: true}
	dir := newFakeDirectory(hod, firstYear)
	store := &fakeApprovalStore{requests: map[string]*models.ApprovalRequest{
		"apr-1": {ID: "apr-1", Email: "new.staff@example.edu", Name: "New Staff", PasswordHash: "hash", Department: "CSE", Year: 2, Status: models.ApprovalPending, ApprovingRoleID: "hod-cse"},
	}}
	notifier := &recordingNotifier{}
	svc := NewApprovalService(store, dir, notifier, nil, nil, nil, ApprovalConfig{FirstYearDepartment: "FIRST_YEAR", BcryptCost: bcrypt.MinCost})
	return svc, store, dir, notifier
}

func hodActor() models.Actor {
	return models.Actor{UserID: "hod-cse", Email: "hod.cse@example.edu", Role: models.RoleHOD, Department: "CSE"}
}

func TestApprovalDecideApproveCreatesStaffAccount(t *testing.T) {
	svc, store, dir, notifier := approvalFixture()

	res, err := svc.Decide(context.Background(), hodActor(), "apr-1", dto.DecisionRequest{Action: "approve"})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, res.Status)
	require.NotNil(t, res.CreatedUserID)
	assert.Equal(t, "user-new", *res.CreatedUserID)

	require.Len(t, store.accounts, 1)
	assert.Equal(t, models.RoleStaff, store.accounts[0].Role)
	assert.Equal(t, "hash", store.accounts[0].PasswordHash)
	require.NotNil(t, store.accounts[0].Year)
	assert.Equal(t, 2, *store.accounts[0].Year)

	decided := notifier.byType(models.NotificationApprovalDecided)
	require.Len(t, decided, 1)
	assert.Equal(t, "new.staff@example.edu", decided[0].RecipientEmail)
	require.Len(t, dir.audits, 1)
	assert.Equal(t, models.AuditActionApprovalDecision, dir.audits[0].Action)
}

func TestApprovalDuplicateEmailIsConflict(t *testing.T) {
	svc, store, _, notifier := approvalFixture()
	store.duplicate = true

	_, err := svc.Decide(context.Background(), hodActor(), "apr-1", dto.DecisionRequest{Action: "approve"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Contains(t, err.Error(), "new.staff@example.edu")
	assert.Equal(t, models.ApprovalPending, store.requests["apr-1"].Status)
	assert.Empty(t, notifier.messages)
}

func TestApprovalRejectTwiceIsConflictWithSingleMutation(t *testing.T) {
	svc, store, _, _ := approvalFixture()

	_, err := svc.Decide(context.Background(), hodActor(), "apr-1", dto.DecisionRequest{Action: "reject", Reason: "Unknown applicant"})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), hodActor(), "apr-1", dto.DecisionRequest{Action: "reject"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Contains(t, err.Error(), "rejected")
	require.Len(t, store.decisions, 1)
	assert.Equal(t, "Unknown applicant", *store.requests["apr-1"].RejectionReason)
	assert.Empty(t, store.accounts)
}

func TestApprovalWrongApproverIsForbidden(t *testing.T) {
	svc, store, _, notifier := approvalFixture()
	other := models.Actor{UserID: "hod-ece", Role: models.RoleHOD, Department: "ECE"}

	_, err := svc.Decide(context.Background(), other, "apr-1", dto.DecisionRequest{Action: "approve"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Equal(t, models.ApprovalPending, store.requests["apr-1"].Status)
	assert.Empty(t, store.decisions)
	assert.Empty(t, notifier.messages)
}

func TestApprovalConcurrentDecisionReportsCurrentStatus(t *testing.T) {
	svc, store, _, _ := approvalFixture()
	store.stale = true

	_, err := svc.Decide(context.Background(), hodActor(), "apr-1", dto.DecisionRequest{Action: "reject"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Contains(t, err.Error(), "approved")
}

func TestApprovalDecideValidatesAction(t *testing.T) {
	svc, _, _, _ := approvalFixture()
	_, err := svc.Decide(context.Background(), hodActor(), "apr-1", dto.DecisionRequest{Action: "escalate"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Decide(context.Background(), hodActor(), "missing", dto.DecisionRequest{Action: "approve"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestSignupRoutesToApprover(t *testing.T) {
	svc, store, _, notifier := approvalFixture()

	req, err := svc.Signup(context.Background(), dto.SignupRequest{
		Email: "Lecturer@Example.edu", Name: "Lecturer", Password: "supersecret", Department: "CSE", Year: 1,
	}, "127.0.0.1", "test")
	require.NoError(t, err)
	assert.Equal(t, "lecturer@example.edu", req.Email)
	assert.Equal(t, "hod-fy", req.ApprovingRoleID)
	assert.Equal(t, models.ApprovalPending, req.Status)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(store.requests[req.ID].PasswordHash), []byte("supersecret")))

	requested := notifier.byType(models.NotificationApprovalRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, "hod.fy@example.edu", requested[0].RecipientEmail)

	req, err = svc.Signup(context.Background(), dto.SignupRequest{
		Email: "second@example.edu", Name: "Second", Password: "supersecret", Department: "CSE", Year: 3,
	}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "hod-cse", req.ApprovingRoleID)
}

func TestSignupRejectsDuplicatesAndUnknownDepartment(t *testing.T) {
	svc, store, _, _ := approvalFixture()

	_, err := svc.Signup(context.Background(), dto.SignupRequest{Email: "hod.cse@example.edu", Name: "Dup", Password: "supersecret", Department: "CSE"}, "", "")
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	store.pending = true
	_, err = svc.Signup(context.Background(), dto.SignupRequest{Email: "x@example.edu", Name: "Dup", Password: "supersecret", Department: "CSE"}, "", "")
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	store.pending = false
	_, err = svc.Signup(context.Background(), dto.SignupRequest{Email: "y@example.edu", Name: "Nobody", Password: "supersecret", Department: "MECH"}, "", "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestApprovalListAndGetScopedToApprover(t *testing.T) {
	svc, _, _, _ := approvalFixture()

	items, page, err := svc.List(context.Background(), hodActor(), dto.ApprovalQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, page.TotalCount)

	items, _, err = svc.List(context.Background(), models.Actor{UserID: "hod-ece", Role: models.RoleHOD}, dto.ApprovalQuery{})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = svc.Get(context.Background(), models.Actor{UserID: "hod-ece", Role: models.RoleHOD}, "apr-1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = svc.Get(context.Background(), models.Actor{UserID: "admin", Role: models.RoleAdmin}, "apr-1")
	assert.NoError(t, err)
}
