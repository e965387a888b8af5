package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type approvalStore interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	FindByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	ExistsPending(ctx context.Context, email string) (bool, error)
	List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, int, error)
	Decide(ctx context.Context, d repository.ApprovalDecision, account *models.User) (*models.ApprovalRequest, error)
}

type directoryStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindHOD(ctx context.Context, department string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ApprovalConfig holds approver routing rules.
type ApprovalConfig struct {
	FirstYearDepartment string
	BcryptCost          int
}

// ApprovalService runs staff signup requests through their approver.
type ApprovalService struct {
	repo      approvalStore
	users     directoryStore
	notifier  Notifier
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       ApprovalConfig
	now       func() time.Time
}

// NewApprovalService constructs an ApprovalService.
func NewApprovalService(repo approvalStore, users directoryStore, notifier Notifier, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg ApprovalConfig) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &ApprovalService{repo: repo, users: users, notifier: notifier, validator: validate, metrics: metrics, logger: logger, cfg: cfg, now: time.Now}
}

// Signup files a pending staff account request and routes it to an approver.
func (s *ApprovalService) Signup(ctx context.Context, req dto.SignupRequest, ip, userAgent string) (*models.ApprovalRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signup payload")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an account with this email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing account")
	}
	pending, err := s.repo.ExistsPending(ctx, email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}
	if pending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a signup request for this email is already pending")
	}

	approver, err := s.resolveApprover(ctx, req.Department, req.Year)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	request := &models.ApprovalRequest{
		Email:           email,
		Name:            strings.TrimSpace(req.Name),
		PasswordHash:    string(hash),
		Department:      req.Department,
		Year:            req.Year,
		Section:         req.Section,
		Phone:           req.Phone,
		Status:          models.ApprovalPending,
		ApprovingRoleID: approver.ID,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create signup request")
	}

	s.notifier.Notify(ctx, models.NotificationMessage{
		RecipientEmail: approver.Email,
		Type:           models.NotificationApprovalRequested,
		Title:          "New staff signup",
		Body:           fmt.Sprintf("%s (%s) is waiting for your approval.", request.Name, request.Department),
		Data:           models.NotificationData{"approval_id": request.ID},
		URL:            "/approvals/" + request.ID,
	})
	writeAudit(ctx, s.users, s.logger, models.Actor{IP: ip, UserAgent: userAgent}, models.AuditActionSignup, "approval_request", request.ID, nil, map[string]interface{}{"email": email, "approver": approver.ID})
	return request, nil
}

// resolveApprover picks the first-year HOD for year 1 when one exists and the
// department HOD otherwise.
func (s *ApprovalService) resolveApprover(ctx context.Context, department string, year int) (*models.User, error) {
	if year == 1 && s.cfg.FirstYearDepartment != "" {
		hod, err := s.users.FindHOD(ctx, s.cfg.FirstYearDepartment)
		if err == nil {
			return hod, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve approver")
		}
	}
	hod, err := s.users.FindHOD(ctx, department)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("no head of department is registered for %s", department))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve approver")
	}
	return hod, nil
}

// List returns the approver's queue. Admins see every request.
func (s *ApprovalService) List(ctx context.Context, actor models.Actor, query dto.ApprovalQuery) ([]models.ApprovalRequest, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval filter")
	}
	filter := models.ApprovalFilter{Status: models.ApprovalStatus(query.Status), Page: query.Page, PageSize: query.PageSize}
	if actor.Role != models.RoleAdmin {
		filter.ApproverID = actor.UserID
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approval requests")
	}
	if items == nil {
		items = []models.ApprovalRequest{}
	}
	return items, buildPagination(query.Page, query.PageSize, total), nil
}

// Get returns one request visible to its approver or an admin.
func (s *ApprovalService) Get(ctx context.Context, actor models.Actor, id string) (*models.ApprovalRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && req.ApprovingRoleID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "this request is assigned to another approver")
	}
	return req, nil
}

func (s *ApprovalService) load(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval request")
	}
	return req, nil
}

// Decide approves or rejects a pending request. Approval creates the staff
// account in the same transaction as the status change.
func (s *ApprovalService) Decide(ctx context.Context, actor models.Actor, id string, req dto.DecisionRequest) (*models.ApprovalDecisionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	action := workflow.Action(req.Action)
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	t, err := workflow.Approval(current.Status, action, actor.UserID, current.ApprovingRoleID)
	if err != nil {
		s.metrics.RecordTransition("approval", req.Action, outcomeFor(err))
		return nil, err
	}

	decision := repository.ApprovalDecision{
		ID:        current.ID,
		From:      t.From,
		To:        t.To,
		DecidedBy: actor.UserID,
		DecidedAt: s.now().UTC(),
	}
	if t.To == models.ApprovalRejected && strings.TrimSpace(req.Reason) != "" {
		reason := strings.TrimSpace(req.Reason)
		decision.RejectionReason = &reason
	}

	var account *models.User
	if t.Has(workflow.EffectCreateAccount) {
		account = &models.User{
			Email:        current.Email,
			PasswordHash: current.PasswordHash,
			FullName:     current.Name,
			Role:         models.RoleStaff,
			Department:   current.Department,
			Phone:        current.Phone,
			Active:       true,
		}
		if current.Year > 0 {
			year := current.Year
			account.Year = &year
		}
	}

	updated, err := s.repo.Decide(ctx, decision, account)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			s.metrics.RecordTransition("approval", req.Action, OutcomeConflict)
			return nil, s.staleConflict(ctx, id, req.Action)
		}
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.metrics.RecordTransition("approval", req.Action, OutcomeConflict)
			return nil, appErrors.Conflictf("an account for %s already exists", current.Email)
		}
		s.metrics.RecordTransition("approval", req.Action, OutcomeFailed)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}
	s.metrics.RecordTransition("approval", req.Action, OutcomeSuccess)

	result := &models.ApprovalDecisionResult{Status: updated.Status, CreatedUserID: updated.CreatedUserID}
	title, body := "Staff account approved", "Your staff account has been approved. You can now sign in."
	if updated.Status == models.ApprovalRejected {
		title, body = "Staff signup rejected", "Your staff signup request was rejected."
		if decision.RejectionReason != nil {
			body += " Reason: " + *decision.RejectionReason
		}
		result.Message = "signup request rejected"
	} else {
		result.Message = "staff account created"
	}

	if t.Has(workflow.EffectNotifyRequester) {
		s.notifier.Notify(ctx, models.NotificationMessage{
			RecipientEmail: updated.Email,
			Type:           models.NotificationApprovalDecided,
			Title:          title,
			Body:           body,
			Data:           models.NotificationData{"approval_id": updated.ID, "status": string(updated.Status)},
		})
	}
	writeAudit(ctx, s.users, s.logger, actor, models.AuditActionApprovalDecision, "approval_request", updated.ID,
		map[string]interface{}{"status": t.From}, map[string]interface{}{"status": t.To, "created_user_id": updated.CreatedUserID})
	return result, nil
}

func (s *ApprovalService) staleConflict(ctx context.Context, id, action string) error {
	latest, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return appErrors.InvalidTransition(string(latest.Status), action)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, appErrors.ErrForbidden), errors.Is(err, appErrors.ErrValidation):
		return OutcomeDenied
	default:
		return OutcomeFailed
	}
}
