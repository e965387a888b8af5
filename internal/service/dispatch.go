package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/campus-portal-api/internal/models"
)

type whatsappDispatcher interface {
	Enabled() bool
	PipelineTimeout() time.Duration
	Deliver(ctx context.Context, d Delivery) *models.DispatchResult
}

type letterIssuer interface {
	LeaveLetter(req *models.LeaveRequest, approverName string) (*Letter, error)
	MarksheetLetter(m *models.Marksheet, approverName string) (*Letter, error)
}

// deliverDetached runs the WhatsApp pipeline on a context that survives the
// caller going away, bounded by the pipeline timeout.
func deliverDetached(ctx context.Context, wa whatsappDispatcher, d Delivery) *models.DispatchResult {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wa.PipelineTimeout())
	defer cancel()
	return wa.Deliver(pctx, d)
}

// reportDispatch tells the actor which channels reached the parent.
func reportDispatch(ctx context.Context, notifier Notifier, actor models.Actor, subject string, data models.NotificationData, res *models.DispatchResult) {
	if actor.Email == "" || res == nil {
		return
	}
	title := "Parent notified: " + subject
	body := "Delivered via " + strings.Join(res.Channels(), ", ") + "."
	if !res.Delivered() {
		title = "Parent not reached: " + subject
		body = "No WhatsApp message was delivered."
	}
	if len(res.Errors) > 0 {
		body += fmt.Sprintf(" %d problem(s): %s", len(res.Errors), strings.Join(res.Errors, "; "))
	}
	if data == nil {
		data = models.NotificationData{}
	}
	data["channels"] = res.Channels()
	data["errors"] = res.Errors
	data["sent_pdf"] = res.SentPDF
	data["sent_image"] = res.SentImage
	data["sent_text"] = res.SentText
	notifier.Notify(ctx, models.NotificationMessage{
		RecipientEmail: actor.Email,
		Type:           models.NotificationDispatchReport,
		Title:          title,
		Body:           body,
		Data:           data,
	})
}
