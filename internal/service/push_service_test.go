package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/pkg/jobs"
	"github.com/noah-isme/campus-portal-api/pkg/webpush"
)

type fakePushStore struct {
	mu          sync.Mutex
	subs        map[string]*models.PushSubscription
	deactivated []string
}

func newFakePushStore(subs ...models.PushSubscription) *fakePushStore {
	f := &fakePushStore{subs: map[string]*models.PushSubscription{}}
	for i := range subs {
		s := subs[i]
		s.Active = true
		f.subs[s.Endpoint] = &s
	}
	return f
}

func (f *fakePushStore) Upsert(ctx context.Context, sub *models.PushSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *sub
	clone.Active = true
	f.subs[sub.Endpoint] = &clone
	return nil
}

func (f *fakePushStore) ListActive(ctx context.Context, email string) ([]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PushSubscription
	for _, s := range f.subs {
		if s.RecipientEmail == email && s.Active {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakePushStore) Deactivate(ctx context.Context, email, endpoint string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.subs {
		if s.RecipientEmail == email && s.Active && (endpoint == "" || s.Endpoint == endpoint) {
			s.Active = false
			n++
		}
	}
	return n, nil
}

func (f *fakePushStore) DeactivateEndpoint(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, endpoint)
	if s, ok := f.subs[endpoint]; ok {
		s.Active = false
	}
	return nil
}

type fakePushSender struct {
	mu    sync.Mutex
	errs  map[string]error
	sends []string
}

func (f *fakePushSender) PublicKey() string { return "BPublicKey" }

func (f *fakePushSender) Send(ctx context.Context, sub webpush.Subscription, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sub.Endpoint)
	return f.errs[sub.Endpoint]
}

type recordingQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) TryEnqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func pushFixture(errs map[string]error) (*PushService, *fakePushStore, *fakePushSender) {
	store := newFakePushStore(
		models.PushSubscription{Endpoint: "https://push.example/a", RecipientEmail: "asha@example.edu", P256dh: "p", Auth: "x"},
		models.PushSubscription{Endpoint: "https://push.example/b", RecipientEmail: "asha@example.edu", P256dh: "p", Auth: "x"},
		models.PushSubscription{Endpoint: "https://push.example/c", RecipientEmail: "asha@example.edu", P256dh: "p", Auth: "x"},
		models.PushSubscription{Endpoint: "https://push.example/z", RecipientEmail: "ravi@example.edu", P256dh: "p", Auth: "x"},
	)
	sender := &fakePushSender{errs: errs}
	return NewPushService(store, sender, true, nil, nil), store, sender
}

func TestDeliverPrunesGoneEndpointsInline(t *testing.T) {
	svc, store, sender := pushFixture(map[string]error{
		"https://push.example/b": webpush.ErrSubscriptionGone,
		"https://push.example/c": errors.New("push service returned 500"),
	})

	res := svc.Deliver(context.Background(), "asha@example.edu", models.PushPayload{Title: "Leave approved"})
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Pruned)
	assert.ElementsMatch(t, []string{"https://push.example/b", "https://push.example/c"}, res.FailedEndpoints)
	assert.Len(t, sender.sends, 3)
	assert.Equal(t, []string{"https://push.example/b"}, store.deactivated)

	active, err := store.ListActive(context.Background(), "asha@example.edu")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestDeliverRoutesPruneThroughQueue(t *testing.T) {
	svc, store, _ := pushFixture(map[string]error{"https://push.example/a": webpush.ErrSubscriptionGone})
	queue := &recordingQueue{}
	svc.AttachPruneQueue(queue)

	res := svc.Deliver(context.Background(), "asha@example.edu", models.PushPayload{Title: "x"})
	assert.Equal(t, 1, res.Pruned)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobTypePushPrune, queue.jobs[0].Type)
	assert.Empty(t, store.deactivated)

	require.NoError(t, svc.HandlePrune(context.Background(), queue.jobs[0]))
	assert.Equal(t, []string{"https://push.example/a"}, store.deactivated)
	assert.Error(t, svc.HandlePrune(context.Background(), jobs.Job{ID: "bad", Payload: 42}))

	require.NoError(t, store.Upsert(context.Background(), &models.PushSubscription{Endpoint: "https://push.example/a", RecipientEmail: "asha@example.edu", P256dh: "p", Auth: "x"}))
	queue.err = jobs.ErrQueueFull
	svc.Deliver(context.Background(), "asha@example.edu", models.PushPayload{Title: "y"})
	assert.Len(t, store.deactivated, 2)
}

func TestDeliverDisabledOrWithoutEndpoints(t *testing.T) {
	store := newFakePushStore()
	svc := NewPushService(store, &fakePushSender{}, false, nil, nil)
	assert.False(t, svc.Enabled())
	assert.Empty(t, svc.PublicKey())
	res := svc.Deliver(context.Background(), "asha@example.edu", models.PushPayload{})
	assert.Zero(t, res.Attempted)

	svc = NewPushService(store, &fakePushSender{}, true, nil, nil)
	assert.Equal(t, "BPublicKey", svc.PublicKey())
	res = svc.Deliver(context.Background(), "asha@example.edu", models.PushPayload{})
	assert.Zero(t, res.Attempted)
}

func TestSubscribeReassignsAndDeactivates(t *testing.T) {
	svc, store, _ := pushFixture(nil)
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, "ravi@example.edu", webpush.Subscription{Endpoint: "https://push.example/a"}, "ua")
	assert.Error(t, err)

	sub, err := svc.Subscribe(ctx, "ravi@example.edu", webpush.Subscription{Endpoint: "https://push.example/a", P256dh: "p2", Auth: "a2"}, "Firefox")
	require.NoError(t, err)
	assert.Equal(t, "ravi@example.edu", sub.RecipientEmail)
	assert.True(t, sub.Active)

	mine, _ := store.ListActive(ctx, "asha@example.edu")
	assert.Len(t, mine, 2)

	n, err := svc.Deactivate(ctx, "ravi@example.edu", "https://push.example/a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = svc.Deactivate(ctx, "asha@example.edu", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
