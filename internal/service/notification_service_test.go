package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type fakeNotificationStore struct {
	mu        sync.Mutex
	records   []*models.NotificationRecord
	counts    int
	createErr error
}

func (f *fakeNotificationStore) Create(ctx context.Context, n *models.NotificationRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *n
	f.records = append(f.records, &clone)
	return nil
}

func (f *fakeNotificationStore) List(ctx context.Context, email string, filter models.NotificationFilter) ([]models.NotificationRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NotificationRecord
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.RecipientEmail != email || (filter.UnreadOnly && r.Read) {
			continue
		}
		out = append(out, *r)
	}
	return out, len(out), nil
}

func (f *fakeNotificationStore) CountUnread(ctx context.Context, email string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts++
	n := 0
	for _, r := range f.records {
		if r.RecipientEmail == email && !r.Read {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotificationStore) MarkRead(ctx context.Context, id, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id && r.RecipientEmail == email {
			r.Read = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeNotificationStore) MarkAllRead(ctx context.Context, email string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.records {
		if r.RecipientEmail == email && !r.Read {
			r.Read = true
			n++
		}
	}
	return n, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]int
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*int)) = v
	return nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value.(int)
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

type fakePushDeliverer struct {
	enabled  bool
	payloads []models.PushPayload
}

func (f *fakePushDeliverer) Enabled() bool { return f.enabled }

func (f *fakePushDeliverer) Deliver(ctx context.Context, email string, payload models.PushPayload) *models.PushResult {
	f.payloads = append(f.payloads, payload)
	return &models.PushResult{Attempted: 1, Delivered: 1}
}

func TestNotifyRecordsAndPushes(t *testing.T) {
	store := &fakeNotificationStore{}
	push := &fakePushDeliverer{enabled: true}
	svc := NewNotificationService(store, push, nil, 0, nil, nil)

	res := svc.Notify(context.Background(), models.NotificationMessage{
		RecipientEmail: "hod.cse@example.edu",
		Type:           models.NotificationLeaveRequested,
		Title:          "New leave request",
		Body:           "Asha requested leave",
		Data:           models.NotificationData{"leave_id": "leave-1"},
		URL:            "/leaves/leave-1",
	})

	require.NotNil(t, res.Record)
	assert.Empty(t, res.Error)
	assert.NotEmpty(t, res.Record.ID)
	require.NotNil(t, res.Push)
	assert.Equal(t, 1, res.Push.Delivered)
	require.Len(t, push.payloads, 1)
	assert.Equal(t, "/leaves/leave-1", push.payloads[0].URL)
	assert.Equal(t, "leave_requested", push.payloads[0].Type)
	assert.Equal(t, "leave-1", push.payloads[0].Data["leave_id"])
}

func TestNotifyReportsStoreFailureWithoutPanicking(t *testing.T) {
	store := &fakeNotificationStore{createErr: errors.New("connection reset")}
	push := &fakePushDeliverer{enabled: false}
	svc := NewNotificationService(store, push, nil, 0, nil, nil)

	res := svc.Notify(context.Background(), models.NotificationMessage{RecipientEmail: "a@example.edu", Title: "x"})
	assert.Nil(t, res.Record)
	assert.NotEmpty(t, res.Error)
	assert.Nil(t, res.Push)

	_, err := svc.Record(context.Background(), "", models.NotificationApprovalDecided, "t", "b", nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestUnreadCountIsCachedAndInvalidatedOnWrite(t *testing.T) {
	store := &fakeNotificationStore{}
	cache := NewCacheService(&memoryCache{entries: map[string]int{}}, nil, time.Minute, nil, true)
	svc := NewNotificationService(store, nil, cache, time.Minute, nil, nil)
	ctx := context.Background()
	email := "asha@example.edu"

	first, err := svc.Record(ctx, email, models.NotificationLeaveDecided, "Leave approved", "", nil)
	require.NoError(t, err)
	_, err = svc.Record(ctx, email, models.NotificationLateRecorded, "Late recorded", "", nil)
	require.NoError(t, err)

	count, hit, err := svc.UnreadCount(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.False(t, hit)
	count, hit, err = svc.UnreadCount(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, hit)
	assert.Equal(t, 1, store.counts)

	require.NoError(t, svc.MarkRead(ctx, first.ID, email))
	require.NoError(t, svc.MarkRead(ctx, first.ID, email))
	count, _, err = svc.UnreadCount(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, store.counts)

	err = svc.MarkRead(ctx, first.ID, "ravi@example.edu")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	updated, err := svc.MarkAllRead(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)
	count, _, err = svc.UnreadCount(ctx, email)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListNewestFirstWithPagination(t *testing.T) {
	store := &fakeNotificationStore{}
	svc := NewNotificationService(store, nil, nil, 0, nil, nil)
	ctx := context.Background()
	for _, title := range []string{"one", "two", "three"} {
		_, err := svc.Record(ctx, "asha@example.edu", models.NotificationLeaveDecided, title, "", nil)
		require.NoError(t, err)
	}
	_, err := svc.Record(ctx, "ravi@example.edu", models.NotificationLeaveDecided, "other", "", nil)
	require.NoError(t, err)

	records, page, err := svc.List(ctx, "asha@example.edu", models.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "three", records[0].Title)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)

	records, _, err = svc.List(ctx, "nobody@example.edu", models.NotificationFilter{})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}
