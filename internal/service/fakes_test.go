package service

import (
	"context"
	"database/sql"
	"sync"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []models.NotificationMessage
}

func (n *recordingNotifier) Notify(ctx context.Context, msg models.NotificationMessage) models.NotifyResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return models.NotifyResult{Record: &models.NotificationRecord{RecipientEmail: msg.RecipientEmail, Type: msg.Type}}
}

func (n *recordingNotifier) byType(kind models.NotificationType) []models.NotificationMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.NotificationMessage
	for _, m := range n.messages {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

type fakeDirectory struct {
	mu       sync.Mutex
	byEmail  map[string]*models.User
	byID     map[string]*models.User
	hods     map[string]*models.User
	audits   []*models.AuditLog
	auditErr error
}

func newFakeDirectory(users ...*models.User) *fakeDirectory {
	d := &fakeDirectory{byEmail: map[string]*models.User{}, byID: map[string]*models.User{}, hods: map[string]*models.User{}}
	for _, u := range users {
		d.byEmail[u.Email] = u
		d.byID[u.ID] = u
		if u.Role == models.RoleHOD {
			d.hods[u.Department] = u
		}
	}
	return d
}

func (d *fakeDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := d.byEmail[email]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (d *fakeDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := d.byID[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (d *fakeDirectory) FindHOD(ctx context.Context, department string) (*models.User, error) {
	if u, ok := d.hods[department]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (d *fakeDirectory) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audits = append(d.audits, log)
	return d.auditErr
}

type fakeStudents struct {
	byID map[string]*models.Student
}

func newFakeStudents(students ...*models.Student) *fakeStudents {
	f := &fakeStudents{byID: map[string]*models.Student{}}
	for _, s := range students {
		f.byID[s.ID] = s
	}
	return f
}

func (f *fakeStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := f.byID[id]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStudents) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	for _, s := range f.byID {
		if s.UserID == userID {
			clone := *s
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func strPtr(s string) *string { return &s }
