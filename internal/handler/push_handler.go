package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
	"github.com/noah-isme/campus-portal-api/pkg/response"
	"github.com/noah-isme/campus-portal-api/pkg/webpush"
)

type pushService interface {
	Enabled() bool
	PublicKey() string
	Subscribe(ctx context.Context, recipientEmail string, sub webpush.Subscription, userAgent string) (*models.PushSubscription, error)
	Deactivate(ctx context.Context, recipientEmail, endpoint string) (int64, error)
}

// PushHandler manages browser push subscriptions.
type PushHandler struct {
	service pushService
}

// NewPushHandler constructs the handler.
func NewPushHandler(svc pushService) *PushHandler {
	return &PushHandler{service: svc}
}

// PublicKey godoc
// @Summary VAPID application server key
// @Tags Push
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /push/public-key [get]
func (h *PushHandler) PublicKey(c *gin.Context) {
	response.JSON(c, http.StatusOK, dto.PublicKeyResponse{PublicKey: h.service.PublicKey(), Enabled: h.service.Enabled()}, nil)
}

// Subscribe godoc
// @Summary Register this browser for push
// @Tags Push
// @Accept json
// @Produce json
// @Param payload body dto.SubscribeRequest true "PushSubscription JSON"
// @Success 201 {object} response.Envelope
// @Router /push/subscribe [post]
func (h *PushHandler) Subscribe(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid subscription payload"))
		return
	}
	sub, err := h.service.Subscribe(c.Request.Context(), actor.Email, webpush.Subscription{
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}, c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Invalidate(c, topicPush)
	response.Created(c, sub)
}

// Deactivate godoc
// @Summary Stop push for one endpoint or all of the caller's browsers
// @Tags Push
// @Accept json
// @Produce json
// @Param payload body dto.DeactivateRequest false "Endpoint"
// @Success 200 {object} response.Envelope
// @Router /push/deactivate [post]
func (h *PushHandler) Deactivate(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.DeactivateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid deactivate payload"))
			return
		}
	}
	n, err := h.service.Deactivate(c.Request.Context(), actor.Email, req.Endpoint)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Invalidate(c, topicPush)
	response.JSON(c, http.StatusOK, gin.H{"deactivated": n}, nil)
}
