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

type leaveService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateLeaveRequest) (*models.LeaveRequest, error)
	List(ctx context.Context, actor models.Actor, query dto.LeaveQuery) ([]models.LeaveRequest, *models.Pagination, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.LeaveRequest, error)
	Transition(ctx context.Context, actor models.Actor, id string, req dto.TransitionRequest) (*models.LeaveTransitionResult, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
}

// LeaveHandler exposes leave and late-arrival requests.
type LeaveHandler struct {
	service leaveService
}

// NewLeaveHandler constructs the handler.
func NewLeaveHandler(svc leaveService) *LeaveHandler {
	return &LeaveHandler{service: svc}
}

// Create godoc
// @Summary File a leave or late-arrival request
// @Tags Leaves
// @Accept json
// @Produce json
// @Param payload body dto.CreateLeaveRequest true "Leave payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /leaves [post]
func (h *LeaveHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.CreateLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid leave payload"))
		return
	}
	created, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Invalidate(c, topicLeaves, topicNotifications)
	response.Created(c, created)
}

// List godoc
// @Summary List visible leave requests
// @Tags Leaves
// @Produce json
// @Param status query string false "Status"
// @Param type query string false "leave or late"
// @Success 200 {object} response.Envelope
// @Router /leaves [get]
func (h *LeaveHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var query dto.LeaveQuery
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
// @Summary Get a leave request
// @Tags Leaves
// @Produce json
// @Param id path string true "Leave ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /leaves/{id} [get]
func (h *LeaveHandler) Get(c *gin.Context) {
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

// Transition godoc
// @Summary Apply a workflow action to a leave request
// @Description approve, reject, acknowledge or confirm-arrival. The WhatsApp result is included when the parent was contacted.
// @Tags Leaves
// @Accept json
// @Produce json
// @Param id path string true "Leave ID"
// @Param payload body dto.TransitionRequest true "Action"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /leaves/{id} [patch]
func (h *LeaveHandler) Transition(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
		return
	}
	res, err := h.service.Transition(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Invalidate(c, topicLeaves, topicNotifications)
	response.JSON(c, http.StatusOK, res, nil)
}

// Delete godoc
// @Summary Withdraw a leave request
// @Tags Leaves
// @Param id path string true "Leave ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /leaves/{id} [delete]
func (h *LeaveHandler) Delete(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Invalidate(c, topicLeaves)
	response.NoContent(c)
}
