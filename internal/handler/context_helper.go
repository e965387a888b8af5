package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-portal-api/internal/middleware"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
	"github.com/noah-isme/campus-portal-api/pkg/response"
)

// Client cache topics advertised through the X-Invalidate header.
const (
	topicApprovals     = "approvals"
	topicLeaves        = "leaves"
	topicMarksheets    = "marksheets"
	topicNotifications = "notifications"
	topicPush          = "push"
)

// requireActor writes a 401 and returns false when the request carries no claims.
func requireActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return actor, true
}
