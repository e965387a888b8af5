package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
	"github.com/noah-isme/campus-portal-api/pkg/response"
)

type approvalService interface {
	Signup(ctx context.Context, req dto.SignupRequest, ip, userAgent string) (*models.ApprovalRequest, error)
	List(ctx context.Context, actor models.Actor, query dto.ApprovalQuery) ([]models.ApprovalRequest, *models.Pagination, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.ApprovalRequest, error)
	Decide(ctx context.Context, actor models.Actor, id string, req dto.DecisionRequest) (*models.ApprovalDecisionResult, error)
}

// ApprovalHandler exposes staff signup and its approval queue.
type ApprovalHandler struct {
	service approvalService
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(svc approvalService) *ApprovalHandler {
	return &ApprovalHandler{service: svc}
}

// Signup godoc
// @Summary Request a staff account
// @Tags Approvals
// @Accept json
// @Produce json
// @Param payload body dto.SignupRequest true "Signup payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /approvals [post]
func (h *ApprovalHandler) Signup(c *gin.Context) {
	var req dto.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid signup payload"))
		return
	}
	created, err := h.service.Signup(c.Request.Context(), req, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Invalidate(c, topicApprovals)
	response.Created(c, created)
}

// List godoc
// @Summary List the caller's approval queue
// @Tags Approvals
// @Produce json
// @Param status query string false "pending, approved or rejected"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /approvals [get]
func (h *ApprovalHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var query dto.ApprovalQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get an approval request
// @Tags Approvals
// @Produce json
// @Param id path string true "Approval ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /approvals/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	item, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Decide godoc
// @Summary Approve or reject a signup request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /approvals/{id}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	res, err := h.service.Decide(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Invalidate(c, topicApprovals, topicNotifications)
	response.JSON(c, http.StatusOK, res, nil)
}
