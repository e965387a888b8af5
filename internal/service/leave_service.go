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

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type leaveStore interface {
	Create(ctx context.Context, req *models.LeaveRequest) error
	FindByID(ctx context.Context, id string) (*models.LeaveRequest, error)
	List(ctx context.Context, filter models.LeaveFilter) ([]models.LeaveRequest, int, error)
	Transition(ctx context.Context, id string, from []models.LeaveStatus, upd models.LeaveUpdate) (*models.LeaveRequest, error)
	Delete(ctx context.Context, id string, deletable []models.LeaveStatus) error
}

type studentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

// LeaveService runs leave and late-arrival requests through their workflows.
type LeaveService struct {
	repo      leaveStore
	students  studentStore
	users     directoryStore
	notifier  Notifier
	whatsapp  whatsappDispatcher
	letters   letterIssuer
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
	loc       *time.Location
}

// NewLeaveService constructs a LeaveService.
func NewLeaveService(repo leaveStore, students studentStore, users directoryStore, notifier Notifier, whatsapp whatsappDispatcher, letters letterIssuer, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *LeaveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &LeaveService{
		repo:      repo,
		students:  students,
		users:     users,
		notifier:  notifier,
		whatsapp:  whatsapp,
		letters:   letters,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		loc:       time.UTC,
	}
}

// WithLocation sets the time zone used when telling parents arrival times.
func (s *LeaveService) WithLocation(loc *time.Location) *LeaveService {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Create files a request for the calling student with a snapshot of their profile.
func (s *LeaveService) Create(ctx context.Context, actor models.Actor, req dto.CreateLeaveRequest) (*models.LeaveRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid leave payload")
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can file leave requests")
	}
	student, err := s.students.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile is linked to this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
	}

	leave := &models.LeaveRequest{
		Type:      models.LeaveType(req.Type),
		StudentID: student.ID,
		Student:   student.Snapshot(),
		Reason:    strings.TrimSpace(req.Reason),
		Status:    models.LeaveRequested,
	}
	if err := parseLeaveDates(req, leave); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, leave); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create leave request")
	}

	if hod, err := s.users.FindHOD(ctx, student.Department); err == nil {
		s.notifier.Notify(ctx, models.NotificationMessage{
			RecipientEmail: hod.Email,
			Type:           models.NotificationLeaveRequested,
			Title:          fmt.Sprintf("New %s request", leave.Type),
			Body:           fmt.Sprintf("%s (%s): %s", student.FullName, student.RegNumber, leave.Reason),
			Data:           models.NotificationData{"leave_id": leave.ID, "type": string(leave.Type)},
			URL:            "/leaves/" + leave.ID,
		})
	} else {
		s.logger.Warn("no head of department to notify", zap.String("department", student.Department), zap.Error(err))
	}
	writeAudit(ctx, s.users, s.logger, actor, models.AuditActionLeaveCreate, "leave_request", leave.ID, nil, map[string]interface{}{"type": leave.Type})
	return leave, nil
}

func parseLeaveDates(req dto.CreateLeaveRequest, leave *models.LeaveRequest) error {
	if req.FromDate != "" {
		from, err := time.Parse("2006-01-02", req.FromDate)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "from_date must be YYYY-MM-DD")
		}
		leave.FromDate = &from
	}
	if req.ToDate != "" {
		to, err := time.Parse("2006-01-02", req.ToDate)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "to_date must be YYYY-MM-DD")
		}
		leave.ToDate = &to
	}
	if leave.FromDate != nil && leave.ToDate != nil && leave.ToDate.Before(*leave.FromDate) {
		return appErrors.Clone(appErrors.ErrValidation, "to_date must not be before from_date")
	}
	if req.ExpectedArrival != "" {
		at, err := time.Parse(time.RFC3339, req.ExpectedArrival)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "expected_arrival must be RFC3339")
		}
		at = at.UTC()
		leave.ExpectedArrival = &at
	}
	return nil
}

// List returns the requests the actor may see.
func (s *LeaveService) List(ctx context.Context, actor models.Actor, query dto.LeaveQuery) ([]models.LeaveRequest, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid leave filter")
	}
	filter := models.LeaveFilter{
		Type:     models.LeaveType(query.Type),
		Status:   models.LeaveStatus(query.Status),
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	switch actor.Role {
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return []models.LeaveRequest{}, buildPagination(query.Page, query.PageSize, 0), nil
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		filter.StudentID = student.ID
	case models.RoleAdmin:
	default:
		filter.Department = actor.Department
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list leave requests")
	}
	if items == nil {
		items = []models.LeaveRequest{}
	}
	return items, buildPagination(query.Page, query.PageSize, total), nil
}

// Get returns one request the actor may see.
func (s *LeaveService) Get(ctx context.Context, actor models.Actor, id string) (*models.LeaveRequest, error) {
	leave, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, actor, leave); err != nil {
		return nil, err
	}
	return leave, nil
}

func (s *LeaveService) load(ctx context.Context, id string) (*models.LeaveRequest, error) {
	leave, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "leave request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load leave request")
	}
	return leave, nil
}

// authorize checks visibility and returns the owning student.
func (s *LeaveService) authorize(ctx context.Context, actor models.Actor, leave *models.LeaveRequest) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, leave.StudentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	switch actor.Role {
	case models.RoleAdmin:
		return student, nil
	case models.RoleStudent:
		if student != nil && student.UserID == actor.UserID {
			return student, nil
		}
	default:
		if actor.Department != "" && actor.Department == leave.Student.Department {
			return student, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "this request belongs to another student or department")
}

// Transition applies a workflow action and runs its side effects.
func (s *LeaveService) Transition(ctx context.Context, actor models.Actor, id string, req dto.TransitionRequest) (*models.LeaveTransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	student, err := s.authorize(ctx, actor, current)
	if err != nil {
		return nil, err
	}
	owner := student != nil && actor.Role == models.RoleStudent && student.UserID == actor.UserID

	action := workflow.Action(req.Action)
	t, err := workflow.Leave(current.Type, current.Status, action, workflow.Actor{Role: actor.Role, Owner: owner})
	if err != nil {
		s.metrics.RecordTransition(string(current.Type), req.Action, outcomeFor(err))
		return nil, err
	}

	now := s.now().UTC()
	upd := models.LeaveUpdate{Status: t.To, UpdatedAt: now}
	switch action {
	case workflow.ActionApprove:
		upd.HODID = &actor.UserID
	case workflow.ActionReject:
		upd.HODID = &actor.UserID
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			upd.RejectionReason = &reason
		}
	case workflow.ActionAcknowledge:
		upd.StaffID = &actor.UserID
		upd.RecordedAt = &now
	case workflow.ActionConfirmArrival:
		upd.ArrivalConfirmedAt = &now
	}

	updated, err := s.repo.Transition(ctx, id, []models.LeaveStatus{t.From}, upd)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			s.metrics.RecordTransition(string(current.Type), req.Action, OutcomeConflict)
			latest, lerr := s.load(ctx, id)
			if lerr != nil {
				return nil, lerr
			}
			return nil, appErrors.InvalidTransition(string(latest.Status), req.Action)
		}
		s.metrics.RecordTransition(string(current.Type), req.Action, OutcomeFailed)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update leave request")
	}
	s.metrics.RecordTransition(string(current.Type), req.Action, OutcomeSuccess)

	result := &models.LeaveTransitionResult{Request: updated}
	s.runEffects(ctx, actor, t, updated, student, result)

	writeAudit(ctx, s.users, s.logger, actor, models.AuditActionLeaveTransition, "leave_request", updated.ID,
		map[string]interface{}{"status": t.From}, map[string]interface{}{"status": t.To, "action": req.Action})
	return result, nil
}

func (s *LeaveService) runEffects(ctx context.Context, actor models.Actor, t workflow.Transition[models.LeaveStatus], leave *models.LeaveRequest, student *models.Student, result *models.LeaveTransitionResult) {
	if t.Has(workflow.EffectNotifyStudent) && student != nil {
		if email := s.emailOf(ctx, student.UserID); email != "" {
			kind, title, body := models.NotificationLeaveDecided, "Leave request "+humanStatus(string(leave.Status)), "Your "+string(leave.Type)+" request was "+humanStatus(string(leave.Status))+"."
			if leave.Status == models.LeaveWaitingForArrivalConfirmation {
				kind, title, body = models.NotificationLateRecorded, "Late arrival recorded", "Please confirm your arrival once you reach the campus."
			}
			if leave.RejectionReason != nil {
				body += " Reason: " + *leave.RejectionReason
			}
			s.notifier.Notify(ctx, models.NotificationMessage{
				RecipientEmail: email,
				Type:           kind,
				Title:          title,
				Body:           body,
				Data:           models.NotificationData{"leave_id": leave.ID, "status": string(leave.Status)},
				URL:            "/leaves/" + leave.ID,
			})
		}
	}

	if t.Has(workflow.EffectNotifyStaff) && leave.StaffID != nil {
		if email := s.emailOf(ctx, *leave.StaffID); email != "" {
			s.notifier.Notify(ctx, models.NotificationMessage{
				RecipientEmail: email,
				Type:           models.NotificationArrivalConfirmed,
				Title:          "Arrival confirmed",
				Body:           fmt.Sprintf("%s (%s) confirmed arrival.", leave.Student.Name, leave.Student.RegNumber),
				Data:           models.NotificationData{"leave_id": leave.ID},
				URL:            "/leaves/" + leave.ID,
			})
		}
	}

	if s.whatsapp == nil || !s.whatsapp.Enabled() {
		return
	}
	switch {
	case t.Has(workflow.EffectWhatsAppLetter):
		result.WhatsAppResult = s.sendLetter(ctx, actor, leave)
	case t.Has(workflow.EffectWhatsAppArrivalText):
		at := s.now()
		if leave.ArrivalConfirmedAt != nil {
			at = *leave.ArrivalConfirmedAt
		}
		at = at.In(s.loc)
		result.WhatsAppResult = deliverDetached(ctx, s.whatsapp, Delivery{
			Kind:  "late_arrival",
			Phone: leave.Student.ParentPhone,
			Text: fmt.Sprintf("Dear Parent, %s (%s) arrived on campus at %s on %s. Reason for delay: %s",
				leave.Student.Name, leave.Student.RegNumber, at.Format("15:04 MST"), at.Format("02 Jan 2006"), leave.Reason),
		})
	}
	if t.Has(workflow.EffectNotifyActorDispatch) && result.WhatsAppResult != nil {
		reportDispatch(ctx, s.notifier, actor, "leave letter for "+leave.Student.Name, models.NotificationData{"leave_id": leave.ID}, result.WhatsAppResult)
	}
}

func (s *LeaveService) sendLetter(ctx context.Context, actor models.Actor, leave *models.LeaveRequest) *models.DispatchResult {
	delivery := Delivery{
		Kind:     "leave_letter",
		Phone:    leave.Student.ParentPhone,
		Filename: "leave-" + leave.ID + ".pdf",
		Caption:  "Leave approval for " + leave.Student.Name,
	}
	text := fmt.Sprintf("Dear Parent, the leave requested by %s (%s) has been approved by the Head of Department.", leave.Student.Name, leave.Student.RegNumber)

	var letterErr error
	if s.letters != nil {
		letter, err := s.letters.LeaveLetter(leave, actor.FullName)
		if err != nil {
			letterErr = err
			s.logger.Warn("leave letter not rendered", zap.String("leave_id", leave.ID), zap.Error(err))
		} else {
			delivery.Document = DocumentSource{Bytes: letter.Bytes, URL: letter.URL}
			delivery.Filename = letter.Filename
			text += " Download the letter: " + letter.URL
		}
	}
	delivery.Text = text

	res := deliverDetached(ctx, s.whatsapp, delivery)
	if letterErr != nil {
		res.AddError(models.ChannelPDF, letterErr)
	}
	return res
}

func (s *LeaveService) emailOf(ctx context.Context, userID string) string {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger.Warn("notification recipient not found", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return user.Email
}

// Delete withdraws a request that has not been finalised.
func (s *LeaveService) Delete(ctx context.Context, actor models.Actor, id string) error {
	leave, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	student, err := s.authorize(ctx, actor, leave)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin && (student == nil || student.UserID != actor.UserID) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the student who filed the request can delete it")
	}
	if !workflow.LeaveDeletable(leave.Status) {
		return appErrors.Conflictf("cannot delete: request is currently %s", leave.Status)
	}
	if err := s.repo.Delete(ctx, id, workflow.DeletableLeaveStatuses()); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			latest, lerr := s.load(ctx, id)
			if lerr != nil {
				return lerr
			}
			return appErrors.Conflictf("cannot delete: request is currently %s", latest.Status)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete leave request")
	}
	writeAudit(ctx, s.users, s.logger, actor, models.AuditActionLeaveDelete, "leave_request", id, map[string]interface{}{"status": leave.Status}, nil)
	return nil
}

func humanStatus(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}
