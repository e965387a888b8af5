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

type marksheetService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateMarksheetRequest) (*models.Marksheet, error)
	List(ctx context.Context, actor models.Actor, query dto.MarksheetQuery) ([]models.Marksheet, *models.Pagination, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Marksheet, error)
	Transition(ctx context.Context, actor models.Actor, id string, req dto.TransitionRequest) (*models.MarksheetTransitionResult, error)
}

// MarksheetHandler exposes marksheet dispatch.
type MarksheetHandler struct {
	service marksheetService
}

// NewMarksheetHandler constructs the handler.
func NewMarksheetHandler(svc marksheetService) *MarksheetHandler {
	return &MarksheetHandler{service: svc}
}

// Create godoc
// @Summary Register a staff-verified marksheet
// @Tags Marksheets
// @Accept json
// @Produce json
// @Param payload body dto.CreateMarksheetRequest true "Marksheet"
// @Success 201 {object} response.Envelope
// @Router /marksheets [post]
func (h *MarksheetHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.CreateMarksheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid marksheet payload"))
		return
	}
	created, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Invalidate(c, topicMarksheets)
	response.Created(c, created)
}

// List godoc
// @Summary List visible marksheets
// @Tags Marksheets
// @Produce json
// @Param status query string false "Status"
// @Success 200 {object} response.Envelope
// @Router /marksheets [get]
func (h *MarksheetHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var query dto.MarksheetQuery
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
// @Summary Get a marksheet
// @Tags Marksheets
// @Produce json
// @Param id path string true "Marksheet ID"
// @Success 200 {object} response.Envelope
// @Router /marksheets/{id} [get]
func (h *MarksheetHandler) Get(c *gin.Context) {
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
// @Summary Apply a workflow action to a marksheet
// @Description request-dispatch, approve, reject, send, mark-dispatched or reschedule.
// @Tags Marksheets
// @Accept json
// @Produce json
// @Param id path string true "Marksheet ID"
// @Param payload body dto.TransitionRequest true "Action"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /marksheets/{id} [patch]
func (h *MarksheetHandler) Transition(c *gin.Context) {
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
	response.Invalidate(c, topicMarksheets, topicNotifications)
	response.JSON(c, http.StatusOK, res, nil)
}
