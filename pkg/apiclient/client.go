// Package apiclient is the Go client for the campus portal API. A Client
// caches GET responses for a short TTL, collapses identical concurrent calls
// into one network request, retries transient read failures and purges
// cached reads when a mutation makes them stale.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRetries   = 2
	defaultRetryBase = 300 * time.Millisecond
	defaultCacheTTL  = 30 * time.Second
	maxResponseBytes = 4 << 20
	invalidateHeader = "X-Invalidate"
)

// ErrTimeout marks an attempt that exceeded its per-call timeout.
var ErrTimeout = errors.New("request timed out")

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// Timeout bounds each attempt, not the whole call.
	Timeout    time.Duration
	// MaxRetries applies to GET calls only. Mutations are sent once unless
	// the call passes WithRetries.
	MaxRetries int
	RetryBase  time.Duration
	CacheTTL   time.Duration
	Bus        *Bus
	Logger     *zap.Logger
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	ttl     time.Duration
	timeout time.Duration
	retries int
	noCache bool
}

// WithTTL overrides how long a GET response stays cached.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) { o.ttl = ttl }
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = timeout }
}

// WithRetries overrides the retry budget. For a mutation this opts in to
// resending it, so only pass it when the server treats repeats as no-ops.
func WithRetries(n int) CallOption {
	return func(o *callOptions) { o.retries = n }
}

// WithoutCache skips the cache lookup; the fresh response is still stored.
func WithoutCache() CallOption {
	return func(o *callOptions) { o.noCache = true }
}

// CallError describes a call that failed after every attempt.
type CallError struct {
	Operation Operation
	Attempts  int
	// TimedOut is set when any attempt hit the per-call timeout, meaning the
	// server may have applied the request anyway.
	TimedOut bool
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

type cacheEntry struct {
	data    []byte
	topic   Topic
	expires time.Time
}

type result struct {
	data   []byte
	topics []Topic
}

// Client is safe for concurrent use. Its cache and in-flight table are
// private to the instance.
type Client struct {
	baseURL string
	http    *http.Client
	opts    Options
	logger  *zap.Logger
	bus     *Bus

	group singleflight.Group

	mu    sync.Mutex
	token string
	cache map[string]cacheEntry

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New constructs a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		opts:    opts,
		logger:  opts.Logger,
		bus:     opts.Bus,
		token:   opts.Token,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Bus exposes the invalidation bus so callers can refresh views.
func (c *Client) Bus() *Bus { return c.bus }

// SetToken swaps the bearer token and drops every cached read.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.cache = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// NotificationReceived is called when the server signals a new notification,
// for example from a push message.
func (c *Client) NotificationReceived() {
	c.invalidate(OpNotificationSignal, []Topic{TopicNotifications})
}

// Purge drops cached reads tagged with any of topics without publishing.
func (c *Client) Purge(topics ...Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(topics)
}

func (c *Client) call(ctx context.Context, op Operation, method, path string, body, out interface{}, opts ...CallOption) error {
	isGet := method == http.MethodGet
	co := callOptions{ttl: c.opts.CacheTTL, timeout: c.opts.Timeout}
	if isGet {
		co.retries = c.opts.MaxRetries
	}
	for _, opt := range opts {
		opt(&co)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s body: %w", op, err)
		}
	}
	target := c.baseURL + path
	key := method + ":" + target + ":" + string(payload)

	if isGet && !co.noCache {
		if data, ok := c.cached(key); ok {
			return decodeData(data, out)
		}
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.execute(ctx, op, method, target, payload, co)
	})
	if err != nil {
		return err
	}
	if shared {
		c.logger.Debug("apiclient shared in-flight result", zap.String("operation", string(op)))
	}
	res := v.(*result)
	if isGet {
		c.store(key, res.data, readTopics[op], co.ttl)
	} else {
		c.invalidate(op, res.topics)
	}
	return decodeData(res.data, out)
}

func (c *Client) execute(ctx context.Context, op Operation, method, target string, payload []byte, co callOptions) (*result, error) {
	var (
		lastErr  error
		timedOut bool
		attempts int
	)
	for attempt := 0; attempt <= co.retries; attempt++ {
		if attempt > 0 {
			delay := c.opts.RetryBase * time.Duration(1<<(attempt-1))
			c.logger.Debug("apiclient retrying",
				zap.String("operation", string(op)),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				break
			}
		}
		attempts++
		res, err := c.attempt(ctx, method, target, payload, co.timeout)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrTimeout) {
			timedOut = true
		}
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, &CallError{Operation: op, Attempts: attempts, TimedOut: timedOut, Err: lastErr}
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

func (c *Client) attempt(ctx context.Context, method, target string, payload []byte, timeout time.Duration) (*result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, attemptCtx, timeout, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransport(ctx, attemptCtx, timeout, err)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < http.StatusBadRequest {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = appErrors.New(http.StatusText(resp.StatusCode), resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}

	return &result{data: env.Data, topics: parseTopics(resp.Header.Get(invalidateHeader))}, nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func classifyTransport(parent, attemptCtx context.Context, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return &transportError{err: err}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var apiErr *appErrors.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

func (c *Client) cached(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.cache, key)
		return nil, false
	}
	return entry.data, true
}

func (c *Client) store(key string, data []byte, topic Topic, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.cache[key] = cacheEntry{data: data, topic: topic, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Client) invalidate(op Operation, extra []Topic) {
	topics := mergeTopics(invalidations[op], extra)
	if len(topics) == 0 {
		return
	}
	c.mu.Lock()
	c.purgeLocked(topics)
	c.mu.Unlock()
	for _, topic := range topics {
		c.bus.Publish(Event{Topic: topic, Operation: op, At: c.now()})
	}
}

func (c *Client) purgeLocked(topics []Topic) {
	for key, entry := range c.cache {
		for _, topic := range topics {
			if entry.topic == topic {
				delete(c.cache, key)
				break
			}
		}
	}
}

func mergeTopics(a, b []Topic) []Topic {
	seen := make(map[Topic]bool, len(a)+len(b))
	out := make([]Topic, 0, len(a)+len(b))
	for _, list := range [][]Topic{a, b} {
		for _, t := range list {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func parseTopics(header string) []Topic {
	if header == "" {
		return nil
	}
	var out []Topic
	for _, part := range strings.Split(header, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, Topic(part))
		}
	}
	return out
}

func decodeData(data []byte, out interface{}) error {
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
