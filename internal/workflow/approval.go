package workflow

import (
	"fmt"

	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

// Approval applies approve or reject to a signup request. Only the approver
// resolved when the request was created may decide it.
func Approval(current models.ApprovalStatus, action Action, actorID, approverID string) (Transition[models.ApprovalStatus], error) {
	var t Transition[models.ApprovalStatus]
	switch action {
	case ActionApprove:
		t.To = models.ApprovalApproved
		t.Effects = []Effect{EffectCreateAccount, EffectNotifyRequester}
	case ActionReject:
		t.To = models.ApprovalRejected
		t.Effects = []Effect{EffectNotifyRequester}
	default:
		return t, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %q is not valid for approval requests", action))
	}
	if actorID == "" || actorID != approverID {
		return Transition[models.ApprovalStatus]{}, appErrors.Clone(appErrors.ErrForbidden, "only the assigned approver can decide this request")
	}
	if current != models.ApprovalPending {
		return Transition[models.ApprovalStatus]{}, appErrors.InvalidTransition(string(current), string(action))
	}
	t.From = current
	return t, nil
}

// ApprovalTerminal reports whether no further decision is possible.
func ApprovalTerminal(status models.ApprovalStatus) bool {
	return status == models.ApprovalApproved || status == models.ApprovalRejected
}
