package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type marksheetStore interface {
	Create(ctx context.Context, m *models.Marksheet) error
	FindByID(ctx context.Context, id string) (*models.Marksheet, error)
	List(ctx context.Context, filter models.MarksheetFilter) ([]models.Marksheet, int, error)
	Transition(ctx context.Context, id string, from []models.MarksheetStatus, upd models.MarksheetUpdate) (*models.Marksheet, error)
	ClaimSend(ctx context.Context, id, token string, at, expireBefore time.Time) error
	ReleaseSend(ctx context.Context, id, token string, pdfURL *string) error
}

// ChannelDownload marks a marksheet fulfilled by download instead of WhatsApp.
const ChannelDownload = "download"

// sendLeaseMargin is added to the WhatsApp pipeline timeout to get the
// lifetime of a send claim. A claim older than that was abandoned.
const sendLeaseMargin = 30 * time.Second

// MarksheetService moves verified marksheets through HOD approval to the parent.
type MarksheetService struct {
	repo      marksheetStore
	students  studentStore
	users     directoryStore
	notifier  Notifier
	whatsapp  whatsappDispatcher
	letters   letterIssuer
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewMarksheetService constructs a MarksheetService.
func NewMarksheetService(repo marksheetStore, students studentStore, users directoryStore, notifier Notifier, whatsapp whatsappDispatcher, letters letterIssuer, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *MarksheetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &MarksheetService{
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
	}
}

// Create registers a marksheet the calling staff member has verified.
func (s *MarksheetService) Create(ctx context.Context, actor models.Actor, req dto.CreateMarksheetRequest) (*models.Marksheet, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid marksheet payload")
	}
	if actor.Role == models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students cannot create marksheets")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if actor.Role != models.RoleAdmin && actor.Department != student.Department {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student belongs to another department")
	}

	subjects := make(models.SubjectMarks, len(req.Subjects))
	for i, subject := range req.Subjects {
		if subject.Marks > subject.MaxMarks {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("marks for %s exceed the maximum", subject.Code))
		}
		if subject.Grade == "" {
			subject.Grade = gradeFor(subject.Marks, subject.MaxMarks)
		}
		subjects[i] = subject
	}

	m := &models.Marksheet{
		StudentID: student.ID,
		Student:   student.Snapshot(),
		ExamName:  strings.TrimSpace(req.ExamName),
		Semester:  req.Semester,
		Subjects:  subjects,
		Status:    models.MarksheetVerifiedByStaff,
		StaffID:   actor.UserID,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create marksheet")
	}
	writeAudit(ctx, s.users, s.logger, actor, models.AuditActionMarksheetCreate, "marksheet", m.ID, nil, map[string]interface{}{"student_id": m.StudentID, "exam": m.ExamName})
	return m, nil
}

func gradeFor(marks, outOf float64) string {
	if outOf <= 0 {
		return ""
	}
	pct := marks / outOf * 100
	switch {
	case pct >= 90:
		return "O"
	case pct >= 80:
		return "A+"
	case pct >= 70:
		return "A"
	case pct >= 60:
		return "B+"
	case pct >= 50:
		return "B"
	case pct >= 40:
		return "C"
	default:
		return "F"
	}
}

// List returns the marksheets the actor may see.
func (s *MarksheetService) List(ctx context.Context, actor models.Actor, query dto.MarksheetQuery) ([]models.Marksheet, *models.Pagination, error) {
	filter := models.MarksheetFilter{Status: models.MarksheetStatus(query.Status), Page: query.Page, PageSize: query.PageSize}
	switch actor.Role {
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return []models.Marksheet{}, buildPagination(query.Page, query.PageSize, 0), nil
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
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list marksheets")
	}
	if items == nil {
		items = []models.Marksheet{}
	}
	return items, buildPagination(query.Page, query.PageSize, total), nil
}

// Get returns one marksheet the actor may see.
func (s *MarksheetService) Get(ctx context.Context, actor models.Actor, id string) (*models.Marksheet, error) {
	m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MarksheetService) load(ctx context.Context, id string) (*models.Marksheet, error) {
	m, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "marksheet not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load marksheet")
	}
	return m, nil
}

func (s *MarksheetService) authorize(ctx context.Context, actor models.Actor, m *models.Marksheet) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err == nil && student.ID == m.StudentID {
			return nil
		}
	default:
		if actor.Department != "" && actor.Department == m.Student.Department {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "this marksheet belongs to another student or department")
}

// Transition applies a workflow action. send claims the marksheet, runs the
// WhatsApp pipeline, and only moves it to dispatched when at least one
// channel reached the parent. While a send holds its claim every other action
// on the marksheet is refused.
func (s *MarksheetService) Transition(ctx context.Context, actor models.Actor, id string, req dto.TransitionRequest) (*models.MarksheetTransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, current); err != nil {
		return nil, err
	}

	action := workflow.Action(req.Action)
	t, err := workflow.Marksheet(current.Status, action, workflow.Actor{Role: actor.Role})
	if err != nil {
		s.metrics.RecordTransition("marksheet", req.Action, outcomeFor(err))
		return nil, err
	}

	now := s.now().UTC()
	upd := models.MarksheetUpdate{Status: t.To, UpdatedAt: now, ClaimsExpireBefore: now.Add(-s.sendLease())}
	result := &models.MarksheetTransitionResult{}

	switch action {
	case workflow.ActionApprove, workflow.ActionReject:
		upd.HODID = &actor.UserID
		response := strings.TrimSpace(req.Reason)
		if response == "" {
			response = humanStatus(string(t.To))
		}
		upd.HODResponse = &response
	case workflow.ActionReschedule:
		upd.ClearHOD = true
	case workflow.ActionMarkDispatched:
		channel := ChannelDownload
		upd.DispatchChannel = &channel
		upd.DispatchedAt = &now
	case workflow.ActionSend:
		if s.whatsapp == nil || !s.whatsapp.Enabled() {
			s.metrics.RecordTransition("marksheet", req.Action, OutcomeDenied)
			return nil, appErrors.Dependency(errWhatsAppDisabled, "whatsapp dispatch is not configured")
		}
		token := uuid.NewString()
		if err := s.repo.ClaimSend(ctx, id, token, now, upd.ClaimsExpireBefore); err != nil {
			return nil, s.transitionFailed(ctx, id, req.Action, t, err)
		}
		upd.SendClaim = token

		dispatch, pdfURL := s.sendMarksheet(ctx, actor, current)
		result.WhatsAppResult = dispatch
		reportDispatch(ctx, s.notifier, actor, fmt.Sprintf("%s marksheet for %s", current.ExamName, current.Student.Name),
			models.NotificationData{"marksheet_id": current.ID}, dispatch)
		if !dispatch.Delivered() {
			s.metrics.RecordTransition("marksheet", req.Action, OutcomeFailed)
			var stored *string
			if pdfURL != "" {
				stored = &pdfURL
			}
			// The pipeline ran detached; release on a context that outlives the client.
			if err := s.repo.ReleaseSend(context.WithoutCancel(ctx), id, token, stored); err != nil {
				s.logger.Warn("marksheet send claim not released", zap.String("marksheet_id", id), zap.Error(err))
			} else if stored != nil {
				current.PDFURL = stored
			}
			result.Marksheet = current
			return result, nil
		}
		channel := dispatch.Channels()[0]
		upd.DispatchChannel = &channel
		upd.DispatchedAt = &now
		if pdfURL != "" {
			upd.PDFURL = &pdfURL
		}
		ctx = context.WithoutCancel(ctx)
	}

	updated, err := s.repo.Transition(ctx, id, workflow.MarksheetCASFrom(t.From), upd)
	if err != nil {
		if upd.SendClaim != "" {
			s.logger.Error("marksheet delivered but not marked dispatched",
				zap.String("marksheet_id", id), zap.Strings("channels", result.WhatsAppResult.Channels()), zap.Error(err))
		}
		return nil, s.transitionFailed(ctx, id, req.Action, t, err)
	}
	s.metrics.RecordTransition("marksheet", req.Action, OutcomeSuccess)
	result.Marksheet = updated

	s.notifyParties(ctx, t, updated)
	writeAudit(ctx, s.users, s.logger, actor, models.AuditActionMarksheetAction, "marksheet", updated.ID,
		map[string]interface{}{"status": t.From}, map[string]interface{}{"status": t.To, "action": req.Action})
	return result, nil
}

// transitionFailed maps a failed conditional write to the error the actor
// sees. A stale write whose status still matches was blocked by a send claim.
func (s *MarksheetService) transitionFailed(ctx context.Context, id, action string, t workflow.Transition[models.MarksheetStatus], err error) error {
	if !errors.Is(err, repository.ErrStaleStatus) {
		s.metrics.RecordTransition("marksheet", action, OutcomeFailed)
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update marksheet")
	}
	s.metrics.RecordTransition("marksheet", action, OutcomeConflict)
	latest, lerr := s.load(ctx, id)
	if lerr != nil {
		return lerr
	}
	if latest.Status == t.From {
		return appErrors.Conflictf("cannot %s: the marksheet is being sent to the parent", action)
	}
	return appErrors.InvalidTransition(string(latest.Status), action)
}

func (s *MarksheetService) sendLease() time.Duration {
	if s.whatsapp == nil {
		return sendLeaseMargin
	}
	return s.whatsapp.PipelineTimeout() + sendLeaseMargin
}

func (s *MarksheetService) sendMarksheet(ctx context.Context, actor models.Actor, m *models.Marksheet) (*models.DispatchResult, string) {
	obtained, outOf := m.TotalMarks()
	delivery := Delivery{
		Kind:     "marksheet",
		Phone:    m.Student.ParentPhone,
		Filename: "marksheet-" + m.ID + ".pdf",
		Caption:  fmt.Sprintf("%s marksheet - %s", m.ExamName, m.Student.Name),
	}
	if m.ImageURL != nil {
		delivery.ImageURL = *m.ImageURL
	}
	text := fmt.Sprintf("Dear Parent, the %s (semester %d) marksheet of %s (%s) is ready. Total: %s/%s.",
		m.ExamName, m.Semester, m.Student.Name, m.Student.RegNumber, formatMarks(obtained), formatMarks(outOf))

	var pdfURL string
	var letterErr error
	if s.letters != nil {
		letter, err := s.letters.MarksheetLetter(m, actor.FullName)
		if err != nil {
			letterErr = err
			s.logger.Warn("marksheet pdf not rendered", zap.String("marksheet_id", m.ID), zap.Error(err))
		} else {
			delivery.Document = DocumentSource{Bytes: letter.Bytes, URL: letter.URL}
			delivery.Filename = letter.Filename
			pdfURL = letter.URL
		}
	}
	if pdfURL == "" && m.PDFURL != nil {
		delivery.Document.URL = *m.PDFURL
	}
	if delivery.Document.URL != "" {
		text += " Download: " + delivery.Document.URL
	}
	delivery.Text = text

	res := deliverDetached(ctx, s.whatsapp, delivery)
	if letterErr != nil {
		res.AddError(models.ChannelPDF, letterErr)
	}
	return res, pdfURL
}

func (s *MarksheetService) notifyParties(ctx context.Context, t workflow.Transition[models.MarksheetStatus], m *models.Marksheet) {
	label := fmt.Sprintf("%s marksheet for %s", m.ExamName, m.Student.Name)
	data := models.NotificationData{"marksheet_id": m.ID, "status": string(m.Status)}

	if t.Has(workflow.EffectNotifyHOD) {
		if hod, err := s.users.FindHOD(ctx, m.Student.Department); err == nil {
			s.notifier.Notify(ctx, models.NotificationMessage{
				RecipientEmail: hod.Email,
				Type:           models.NotificationMarksheetRequested,
				Title:          "Marksheet dispatch requested",
				Body:           label + " is waiting for your approval.",
				Data:           data,
				URL:            "/marksheets/" + m.ID,
			})
		} else {
			s.logger.Warn("no head of department to notify", zap.String("department", m.Student.Department), zap.Error(err))
		}
	}

	if t.Has(workflow.EffectNotifyStaff) {
		staff, err := s.users.FindByID(ctx, m.StaffID)
		if err != nil {
			s.logger.Warn("marksheet staff not found", zap.String("staff_id", m.StaffID), zap.Error(err))
			return
		}
		kind := models.NotificationMarksheetDecided
		if t.To == models.MarksheetDispatched {
			kind = models.NotificationMarksheetSent
		}
		body := label + " is now " + humanStatus(string(t.To)) + "."
		if m.HODResponse != nil && t.To != models.MarksheetApprovedByHOD {
			body += " HOD: " + *m.HODResponse
		}
		s.notifier.Notify(ctx, models.NotificationMessage{
			RecipientEmail: staff.Email,
			Type:           kind,
			Title:          "Marksheet " + humanStatus(string(t.To)),
			Body:           body,
			Data:           data,
			URL:            "/marksheets/" + m.ID,
		})
	}
}
