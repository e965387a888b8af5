package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type sendClaim struct {
	token string
	at    time.Time
}

type fakeMarksheetStore struct {
	mu      sync.Mutex
	sheets  map[string]*models.Marksheet
	seq     int
	pdfURLs map[string]string
	claims  map[string]sendClaim
}

func newFakeMarksheetStore() *fakeMarksheetStore {
	return &fakeMarksheetStore{sheets: map[string]*models.Marksheet{}, pdfURLs: map[string]string{}, claims: map[string]sendClaim{}}
}

// claimBlocks reports whether a live claim held by someone other than token exists.
func (f *fakeMarksheetStore) claimBlocks(id, token string, expireBefore time.Time) bool {
	c, ok := f.claims[id]
	return ok && c.token != token && !c.at.Before(expireBefore)
}

func (f *fakeMarksheetStore) Create(ctx context.Context, m *models.Marksheet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m.ID = fmt.Sprintf("ms-%d", f.seq)
	clone := *m
	f.sheets[m.ID] = &clone
	return nil
}

func (f *fakeMarksheetStore) FindByID(ctx context.Context, id string) (*models.Marksheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.sheets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *m
	clone.Normalize()
	return &clone, nil
}

func (f *fakeMarksheetStore) List(ctx context.Context, filter models.MarksheetFilter) ([]models.Marksheet, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Marksheet
	for _, m := range f.sheets {
		if filter.StudentID != "" && m.StudentID != filter.StudentID {
			continue
		}
		if filter.Department != "" && m.Student.Department != filter.Department {
			continue
		}
		clone := *m
		clone.Normalize()
		out = append(out, clone)
	}
	return out, len(out), nil
}

func (f *fakeMarksheetStore) Transition(ctx context.Context, id string, from []models.MarksheetStatus, upd models.MarksheetUpdate) (*models.Marksheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.sheets[id]
	if !ok || !containsStatus(from, m.Status) || f.claimBlocks(id, upd.SendClaim, upd.ClaimsExpireBefore) {
		return nil, repository.ErrStaleStatus
	}
	delete(f.claims, id)
	m.Status = upd.Status
	if upd.ClearHOD {
		m.HODID, m.HODResponse = nil, nil
	}
	if upd.HODID != nil {
		m.HODID = upd.HODID
	}
	if upd.HODResponse != nil {
		m.HODResponse = upd.HODResponse
	}
	if upd.DispatchChannel != nil {
		m.DispatchChannel = upd.DispatchChannel
	}
	if upd.DispatchedAt != nil {
		m.DispatchedAt = upd.DispatchedAt
	}
	if upd.PDFURL != nil {
		m.PDFURL = upd.PDFURL
	}
	m.UpdatedAt = upd.UpdatedAt
	clone := *m
	clone.Normalize()
	return &clone, nil
}

func (f *fakeMarksheetStore) ClaimSend(ctx context.Context, id, token string, at, expireBefore time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.sheets[id]
	if !ok || m.Status != models.MarksheetApprovedByHOD || f.claimBlocks(id, token, expireBefore) {
		return repository.ErrStaleStatus
	}
	f.claims[id] = sendClaim{token: token, at: at}
	return nil
}

func (f *fakeMarksheetStore) ReleaseSend(ctx context.Context, id, token string, pdfURL *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.claims[id]; !ok || c.token != token {
		return nil
	}
	delete(f.claims, id)
	if pdfURL != nil {
		f.pdfURLs[id] = *pdfURL
		f.sheets[id].PDFURL = pdfURL
	}
	return nil
}

func (f *fakeMarksheetStore) stored(id string) models.MarksheetStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sheets[id].Status
}

type marksheetFixture struct {
	svc      *MarksheetService
	store    *fakeMarksheetStore
	notifier *recordingNotifier
	whatsapp *fakeWhatsApp
}

func newMarksheetFixture() *marksheetFixture {
	students := newFakeStudents(
		&models.Student{ID: "stu-asha", UserID: "user-asha", RegNumber: "REG-1", FullName: "Asha", Department: "CSE", Year: 2, Section: "A", ParentPhone: "9876543210"},
		&models.Student{ID: "stu-meera", UserID: "user-meera", RegNumber: "REG-9", FullName: "Meera", Department: "ECE", Year: 3, Section: "B", ParentPhone: "9811111111"},
	)
	dir := newFakeDirectory(
		&models.User{ID: "staff-1", Email: "staff@example.edu", Role: models.RoleStaff, Department: "CSE"},
		&models.User{ID: "hod-cse", Email: "hod.cse@example.edu", Role: models.RoleHOD, Department: "CSE"},
	)
	store := newFakeMarksheetStore()
	notifier := &recordingNotifier{}
	wa := &fakeWhatsApp{enabled: true}
	svc := NewMarksheetService(store, students, dir, notifier, wa, &fakeLetters{}, nil, nil, nil)
	return &marksheetFixture{svc: svc, store: store, notifier: notifier, whatsapp: wa}
}

func (f *marksheetFixture) create(t *testing.T) *models.Marksheet {
	t.Helper()
	m, err := f.svc.Create(context.Background(), staffActor, dto.CreateMarksheetRequest{
		StudentID: "stu-asha",
		ExamName:  "Model Exam",
		Semester:  3,
		Subjects: []models.SubjectMark{
			{Code: "CS301", Name: "Data Structures", Marks: 87, MaxMarks: 100},
			{Code: "CS302", Name: "Operating Systems", Marks: 64, MaxMarks: 100, Grade: "B"},
		},
	})
	require.NoError(t, err)
	return m
}

func (f *marksheetFixture) step(t *testing.T, actor models.Actor, id, action string) *models.MarksheetTransitionResult {
	t.Helper()
	res, err := f.svc.Transition(context.Background(), actor, id, dto.TransitionRequest{Action: action})
	require.NoError(t, err)
	return res
}

func TestMarksheetCreate(t *testing.T) {
	f := newMarksheetFixture()
	m := f.create(t)

	assert.Equal(t, models.MarksheetVerifiedByStaff, m.Status)
	assert.Equal(t, "staff-1", m.StaffID)
	assert.Equal(t, "Asha", m.Student.Name)
	assert.Equal(t, "A+", m.Subjects[0].Grade)
	assert.Equal(t, "B", m.Subjects[1].Grade)

	_, err := f.svc.Create(context.Background(), staffActor, dto.CreateMarksheetRequest{
		StudentID: "stu-meera", ExamName: "Model Exam", Semester: 5,
		Subjects: []models.SubjectMark{{Code: "EC501", Name: "VLSI", Marks: 50, MaxMarks: 100}},
	})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Create(context.Background(), studentActor, dto.CreateMarksheetRequest{
		StudentID: "stu-asha", ExamName: "Model Exam", Semester: 3,
		Subjects: []models.SubjectMark{{Code: "CS301", Name: "DS", Marks: 50, MaxMarks: 100}},
	})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Create(context.Background(), staffActor, dto.CreateMarksheetRequest{
		StudentID: "stu-asha", ExamName: "Model Exam", Semester: 3,
		Subjects: []models.SubjectMark{{Code: "CS301", Name: "DS", Marks: 120, MaxMarks: 100}},
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestMarksheetSendUsesInlineBytesWhenURLUnreachable(t *testing.T) {
	f := newMarksheetFixture()
	f.whatsapp.result = func(d Delivery) *models.DispatchResult {
		// The gateway cannot fetch the URL but accepts the inline upload.
		return &models.DispatchResult{Phone: d.Phone, SentPDF: len(d.Document.Bytes) > 0, SentText: true}
	}
	m := f.create(t)
	f.step(t, staffActor, m.ID, "request-dispatch")
	f.step(t, leaveHOD, m.ID, "approve")

	res := f.step(t, leaveHOD, m.ID, "send")
	assert.Equal(t, models.MarksheetDispatched, res.Marksheet.Status)
	require.NotNil(t, res.WhatsAppResult)
	assert.True(t, res.WhatsAppResult.SentPDF)
	require.NotNil(t, res.Marksheet.DispatchChannel)
	assert.Equal(t, models.ChannelPDF, *res.Marksheet.DispatchChannel)
	assert.NotNil(t, res.Marksheet.DispatchedAt)
	require.NotNil(t, res.Marksheet.PDFURL)
	assert.Equal(t, "https://portal.example.edu/api/v1/letters/ms", *res.Marksheet.PDFURL)

	require.Len(t, f.whatsapp.deliveries, 1)
	d := f.whatsapp.deliveries[0]
	assert.Equal(t, "9876543210", d.Phone)
	assert.Contains(t, d.Text, "Total: 151/200")

	reports := f.notifier.byType(models.NotificationDispatchReport)
	require.Len(t, reports, 1)
	assert.Equal(t, "hod.cse@example.edu", reports[0].RecipientEmail)
	assert.Equal(t, true, reports[0].Data["sent_pdf"])

	_, err := f.svc.Transition(context.Background(), leaveHOD, m.ID, dto.TransitionRequest{Action: "send"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestMarksheetConcurrentSendMessagesParentOnce(t *testing.T) {
	f := newMarksheetFixture()
	entered := make(chan struct{})
	release := make(chan struct{})
	f.whatsapp.result = func(d Delivery) *models.DispatchResult {
		close(entered)
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		return &models.DispatchResult{Phone: d.Phone, SentPDF: true, SentText: true}
	}
	m := f.create(t)
	f.step(t, staffActor, m.ID, "request-dispatch")
	f.step(t, leaveHOD, m.ID, "approve")

	done := make(chan *models.MarksheetTransitionResult, 1)
	go func() {
		res, err := f.svc.Transition(context.Background(), leaveHOD, m.ID, dto.TransitionRequest{Action: "send"})
		assert.NoError(t, err)
		done <- res
	}()
	<-entered

	_, err := f.svc.Transition(context.Background(), staffActor, m.ID, dto.TransitionRequest{Action: "send"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Contains(t, err.Error(), "being sent")

	_, err = f.svc.Transition(context.Background(), leaveHOD, m.ID, dto.TransitionRequest{Action: "mark-dispatched"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	close(release)
	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, models.MarksheetDispatched, res.Marksheet.Status)
	assert.Len(t, f.whatsapp.deliveries, 1)
	assert.Len(t, f.notifier.byType(models.NotificationDispatchReport), 1)
}

func TestMarksheetAbandonedSendClaimExpires(t *testing.T) {
	f := newMarksheetFixture()
	m := f.create(t)
	f.step(t, staffActor, m.ID, "request-dispatch")
	f.step(t, leaveHOD, m.ID, "approve")

	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.store.ClaimSend(context.Background(), m.ID, "crashed-worker", stale, stale.Add(-time.Minute)))

	res := f.step(t, leaveHOD, m.ID, "send")
	assert.Equal(t, models.MarksheetDispatched, res.Marksheet.Status)
}

func TestMarksheetSendWithNoChannelStaysApproved(t *testing.T) {
	f := newMarksheetFixture()
	f.whatsapp.result = func(d Delivery) *models.DispatchResult {
		return &models.DispatchResult{Phone: d.Phone, Errors: []string{"pdf: after 3 attempts: 502", "text: 502"}}
	}
	m := f.create(t)
	f.step(t, staffActor, m.ID, "request-dispatch")
	f.step(t, leaveHOD, m.ID, "approve")

	res := f.step(t, staffActor, m.ID, "send")
	assert.Equal(t, models.MarksheetApprovedByHOD, res.Marksheet.Status)
	assert.False(t, res.WhatsAppResult.Delivered())
	assert.Len(t, res.WhatsAppResult.Errors, 2)
	assert.Equal(t, models.MarksheetApprovedByHOD, f.store.stored(m.ID))
	assert.Equal(t, "https://portal.example.edu/api/v1/letters/ms", f.store.pdfURLs[m.ID])

	reports := f.notifier.byType(models.NotificationDispatchReport)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Title, "Parent not reached")

	res = f.step(t, staffActor, m.ID, "mark-dispatched")
	assert.Equal(t, models.MarksheetDispatched, res.Marksheet.Status)
	assert.Equal(t, ChannelDownload, *res.Marksheet.DispatchChannel)
}

func TestMarksheetSendRequiresWhatsApp(t *testing.T) {
	f := newMarksheetFixture()
	f.whatsapp.enabled = false
	m := f.create(t)
	f.step(t, staffActor, m.ID, "request-dispatch")
	f.step(t, leaveHOD, m.ID, "approve")

	_, err := f.svc.Transition(context.Background(), leaveHOD, m.ID, dto.TransitionRequest{Action: "send"})
	assert.ErrorIs(t, err, appErrors.ErrDependency)
	assert.Empty(t, f.whatsapp.deliveries)
	assert.Equal(t, models.MarksheetApprovedByHOD, f.store.stored(m.ID))
}

func TestMarksheetRescheduleReadsAsDispatchRequested(t *testing.T) {
	f := newMarksheetFixture()
	m := f.create(t)
	f.step(t, staffActor, m.ID, "request-dispatch")
	requested := f.notifier.byType(models.NotificationMarksheetRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, "hod.cse@example.edu", requested[0].RecipientEmail)

	_, err := f.svc.Transition(context.Background(), leaveHOD, m.ID, dto.TransitionRequest{Action: "reject", Reason: "Recheck CS302"})
	require.NoError(t, err)

	res := f.step(t, leaveHOD, m.ID, "reschedule")
	assert.Equal(t, models.MarksheetRescheduledByHOD, f.store.stored(m.ID))
	assert.Equal(t, models.MarksheetDispatchRequested, res.Marksheet.Status)
	assert.Nil(t, res.Marksheet.HODID)
	assert.Nil(t, res.Marksheet.HODResponse)

	got, err := f.svc.Get(context.Background(), staffActor, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MarksheetDispatchRequested, got.Status)

	// The rescheduled sheet goes through approval again.
	res = f.step(t, leaveHOD, m.ID, "approve")
	assert.Equal(t, models.MarksheetApprovedByHOD, res.Marksheet.Status)

	decided := f.notifier.byType(models.NotificationMarksheetDecided)
	require.Len(t, decided, 3)
	for _, n := range decided {
		assert.Equal(t, "staff@example.edu", n.RecipientEmail)
	}
	assert.Contains(t, decided[0].Body, "Recheck CS302")
}

func TestMarksheetRolesAndConflicts(t *testing.T) {
	f := newMarksheetFixture()
	m := f.create(t)

	_, err := f.svc.Transition(context.Background(), staffActor, m.ID, dto.TransitionRequest{Action: "approve"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Transition(context.Background(), leaveHOD, m.ID, dto.TransitionRequest{Action: "approve"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.svc.Transition(context.Background(), leaveHOD, m.ID, dto.TransitionRequest{Action: "archive"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	eceStaff := models.Actor{UserID: "staff-9", Email: "ece@example.edu", Role: models.RoleStaff, Department: "ECE"}
	_, err = f.svc.Get(context.Background(), eceStaff, m.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	own, err := f.svc.Get(context.Background(), studentActor, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, own.ID)

	items, page, err := f.svc.List(context.Background(), otherStudent, dto.MarksheetQuery{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 0, page.TotalCount)

	_, err = f.svc.Get(context.Background(), studentActor, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
