package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-portal-api/pkg/response"
)

type letterResolver interface {
	Resolve(token string) (string, []byte, error)
}

// LetterHandler serves generated PDFs behind signed, expiring links. The
// route is public because WhatsApp recipients and the gateway fetch it.
type LetterHandler struct {
	letters letterResolver
}

// NewLetterHandler constructs the handler.
func NewLetterHandler(letters letterResolver) *LetterHandler {
	return &LetterHandler{letters: letters}
}

// Download godoc
// @Summary Download a generated letter
// @Tags Letters
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /letters/{token} [get]
func (h *LetterHandler) Download(c *gin.Context) {
	filename, data, err := h.letters.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+filename+`"`)
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "application/pdf", data)
}
