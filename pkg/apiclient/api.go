package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
)

var approvalTargets = map[string]models.ApprovalStatus{
	"approve": models.ApprovalApproved,
	"reject":  models.ApprovalRejected,
}

var leaveTargets = map[string]models.LeaveStatus{
	"approve":         models.LeaveApprovedByHOD,
	"reject":          models.LeaveRejectedByHOD,
	"acknowledge":     models.LeaveWaitingForArrivalConfirmation,
	"confirm-arrival": models.LeaveAcknowledgedByStaff,
}

// marksheetTargets is keyed by action; reschedule reads back as dispatch_requested.
var marksheetTargets = map[string]models.MarksheetStatus{
	"request-dispatch": models.MarksheetDispatchRequested,
	"approve":          models.MarksheetApprovedByHOD,
	"reject":           models.MarksheetRejectedByHOD,
	"send":             models.MarksheetDispatched,
	"mark-dispatched":  models.MarksheetDispatched,
	"reschedule":       models.MarksheetDispatchRequested,
}

// Login authenticates and stores the issued token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	var out models.LoginResponse
	body := models.LoginRequest{Email: email, Password: password}
	if err := c.call(ctx, OpLogin, http.MethodPost, "/auth/login", body, &out, WithRetries(0)); err != nil {
		return nil, err
	}
	c.SetToken(out.AccessToken)
	return &out, nil
}

// Signup files a staff signup request.
func (c *Client) Signup(ctx context.Context, req dto.SignupRequest) (*models.ApprovalRequest, error) {
	var out models.ApprovalRequest
	if err := c.call(ctx, OpSignup, http.MethodPost, "/approvals", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListApprovals returns the caller's approval queue.
func (c *Client) ListApprovals(ctx context.Context, status string, opts ...CallOption) ([]models.ApprovalRequest, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var out []models.ApprovalRequest
	if err := c.call(ctx, OpListApprovals, http.MethodGet, withQuery("/approvals", q), nil, &out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetApproval fetches one signup request.
func (c *Client) GetApproval(ctx context.Context, id string, opts ...CallOption) (*models.ApprovalRequest, error) {
	var out models.ApprovalRequest
	if err := c.call(ctx, OpGetApproval, http.MethodGet, "/approvals/"+url.PathEscape(id), nil, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecideApproval approves or rejects a signup request. When an attempt timed
// out the current state is re-read before failure is reported, because the
// server may already have applied the decision.
func (c *Client) DecideApproval(ctx context.Context, id string, req dto.DecisionRequest) (*models.ApprovalDecisionResult, error) {
	var out models.ApprovalDecisionResult
	err := c.call(ctx, OpDecideApproval, http.MethodPost, "/approvals/"+url.PathEscape(id)+"/decision", req, &out)
	if err == nil {
		return &out, nil
	}
	if !timedOut(err) {
		return nil, err
	}
	current, ferr := c.GetApproval(ctx, id, WithoutCache(), WithRetries(0))
	if ferr != nil {
		return nil, err
	}
	if want, ok := approvalTargets[req.Action]; ok && current.Status == want {
		c.invalidate(OpDecideApproval, nil)
		return &models.ApprovalDecisionResult{
			Status:        current.Status,
			Message:       "decision applied; confirmed after timeout",
			CreatedUserID: current.CreatedUserID,
		}, nil
	}
	return nil, fmt.Errorf("%w (request is currently %s)", err, current.Status)
}

// CreateLeave files a leave or late request for the logged-in student.
func (c *Client) CreateLeave(ctx context.Context, req dto.CreateLeaveRequest) (*models.LeaveRequest, error) {
	var out models.LeaveRequest
	if err := c.call(ctx, OpCreateLeave, http.MethodPost, "/leaves", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListLeaves lists leave requests visible to the caller.
func (c *Client) ListLeaves(ctx context.Context, status, kind string, opts ...CallOption) ([]models.LeaveRequest, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if kind != "" {
		q.Set("type", kind)
	}
	var out []models.LeaveRequest
	if err := c.call(ctx, OpListLeaves, http.MethodGet, withQuery("/leaves", q), nil, &out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLeave fetches one leave request.
func (c *Client) GetLeave(ctx context.Context, id string, opts ...CallOption) (*models.LeaveRequest, error) {
	var out models.LeaveRequest
	if err := c.call(ctx, OpGetLeave, http.MethodGet, "/leaves/"+url.PathEscape(id), nil, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransitionLeave applies a workflow action. Timeouts are recovered the same
// way as DecideApproval; a recovered result carries no WhatsApp report.
func (c *Client) TransitionLeave(ctx context.Context, id string, req dto.TransitionRequest) (*models.LeaveTransitionResult, error) {
	var out models.LeaveTransitionResult
	err := c.call(ctx, OpTransitionLeave, http.MethodPatch, "/leaves/"+url.PathEscape(id), req, &out)
	if err == nil {
		return &out, nil
	}
	if !timedOut(err) {
		return nil, err
	}
	current, ferr := c.GetLeave(ctx, id, WithoutCache(), WithRetries(0))
	if ferr != nil {
		return nil, err
	}
	if want, ok := leaveTargets[req.Action]; ok && current.Status == want {
		c.invalidate(OpTransitionLeave, nil)
		return &models.LeaveTransitionResult{Request: current}, nil
	}
	return nil, fmt.Errorf("%w (request is currently %s)", err, current.Status)
}

// DeleteLeave withdraws a leave request.
func (c *Client) DeleteLeave(ctx context.Context, id string) error {
	return c.call(ctx, OpDeleteLeave, http.MethodDelete, "/leaves/"+url.PathEscape(id), nil, nil)
}

// ListMarksheets lists marksheets visible to the caller.
func (c *Client) ListMarksheets(ctx context.Context, status string, opts ...CallOption) ([]models.Marksheet, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var out []models.Marksheet
	if err := c.call(ctx, OpListMarksheets, http.MethodGet, withQuery("/marksheets", q), nil, &out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMarksheet fetches one marksheet.
func (c *Client) GetMarksheet(ctx context.Context, id string, opts ...CallOption) (*models.Marksheet, error) {
	var out models.Marksheet
	if err := c.call(ctx, OpGetMarksheet, http.MethodGet, "/marksheets/"+url.PathEscape(id), nil, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransitionMarksheet applies a marksheet workflow action. A timed-out send
// is never resent: the state is re-read instead, since the server may still
// be talking to the WhatsApp gateway.
func (c *Client) TransitionMarksheet(ctx context.Context, id string, req dto.TransitionRequest) (*models.MarksheetTransitionResult, error) {
	var out models.MarksheetTransitionResult
	err := c.call(ctx, OpTransitionMarksheet, http.MethodPatch, "/marksheets/"+url.PathEscape(id), req, &out)
	if err == nil {
		return &out, nil
	}
	if !timedOut(err) {
		return nil, err
	}
	current, ferr := c.GetMarksheet(ctx, id, WithoutCache(), WithRetries(0))
	if ferr != nil {
		return nil, err
	}
	if want, ok := marksheetTargets[req.Action]; ok && current.Status == want {
		c.invalidate(OpTransitionMarksheet, nil)
		return &models.MarksheetTransitionResult{Marksheet: current}, nil
	}
	return nil, fmt.Errorf("%w (marksheet is currently %s)", err, current.Status)
}

// ListNotifications returns the caller's notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, unreadOnly bool, opts ...CallOption) ([]models.NotificationRecord, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread", "true")
	}
	var out []models.NotificationRecord
	if err := c.call(ctx, OpListNotifications, http.MethodGet, withQuery("/notifications", q), nil, &out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCount returns the caller's unread notification count.
func (c *Client) UnreadCount(ctx context.Context, opts ...CallOption) (int, error) {
	var out dto.UnreadCountResponse
	if err := c.call(ctx, OpUnreadCount, http.MethodGet, "/notifications/unread-count", nil, &out, opts...); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.call(ctx, OpMarkRead, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllRead marks every notification of the caller read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.call(ctx, OpMarkAllRead, http.MethodPatch, "/notifications/read-all", nil, nil)
}

// PublicKey returns the server's VAPID public key.
func (c *Client) PublicKey(ctx context.Context) (*dto.PublicKeyResponse, error) {
	var out dto.PublicKeyResponse
	if err := c.call(ctx, OpPublicKey, http.MethodGet, "/push/public-key", nil, &out, WithTTL(0)); err != nil {
		return nil, err
	}
	return &out, nil
}

// Subscribe registers a browser push subscription for the caller.
func (c *Client) Subscribe(ctx context.Context, req dto.SubscribeRequest) error {
	return c.call(ctx, OpSubscribe, http.MethodPost, "/push/subscribe", req, nil)
}

// Deactivate disables one endpoint, or all of the caller's when endpoint is empty.
func (c *Client) Deactivate(ctx context.Context, endpoint string) error {
	return c.call(ctx, OpDeactivate, http.MethodPost, "/push/deactivate", dto.DeactivateRequest{Endpoint: endpoint}, nil)
}

func timedOut(err error) bool {
	var callErr *CallError
	return errors.As(err, &callErr) && callErr.TimedOut
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
