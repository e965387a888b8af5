// Package workflow holds the fixed state tables for approvals, leave and late
// requests and marksheet dispatch. Nothing here performs I/O; services load
// the entity, ask for a Transition and persist it with a compare-and-swap on
// the status column.
package workflow

import (
	"fmt"

	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

// Action names a requested transition.
type Action string

const (
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionAcknowledge     Action = "acknowledge"
	ActionConfirmArrival  Action = "confirm-arrival"
	ActionRequestDispatch Action = "request-dispatch"
	ActionSend            Action = "send"
	ActionMarkDispatched  Action = "mark-dispatched"
	ActionReschedule      Action = "reschedule"
)

// Effect is a side effect the caller must run after persisting a transition.
type Effect string

const (
	EffectCreateAccount       Effect = "create_account"
	EffectNotifyRequester     Effect = "notify_requester"
	EffectNotifyStudent       Effect = "notify_student"
	EffectNotifyStaff         Effect = "notify_staff"
	EffectNotifyHOD           Effect = "notify_hod"
	EffectWhatsAppLetter      Effect = "whatsapp_letter"
	EffectWhatsAppArrivalText Effect = "whatsapp_arrival_text"
	EffectWhatsAppMarksheet   Effect = "whatsapp_marksheet"
	EffectNotifyActorDispatch Effect = "notify_actor_dispatch"
)

// Transition is the outcome of applying an action to a status.
type Transition[S ~string] struct {
	From    S
	To      S
	Effects []Effect
}

// Has reports whether effect is part of the transition.
func (t Transition[S]) Has(effect Effect) bool {
	for _, e := range t.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

// Actor is the subset of the caller the tables need.
type Actor struct {
	Role models.UserRole
	// Owner is true when the actor is the student the request belongs to.
	Owner bool
}

type rule[S ~string] struct {
	from    []S
	to      S
	roles   []models.UserRole
	owner   bool
	effects []Effect
}

func (r rule[S]) permits(actor Actor) bool {
	if r.owner {
		return actor.Owner && actor.Role == models.RoleStudent
	}
	for _, role := range r.roles {
		if role == actor.Role {
			return true
		}
	}
	return false
}

func (r rule[S]) accepts(current S) bool {
	for _, s := range r.from {
		if s == current {
			return true
		}
	}
	return false
}

func apply[S ~string](table map[Action]rule[S], kind string, current S, action Action, actor Actor) (Transition[S], error) {
	r, ok := table[action]
	if !ok {
		return Transition[S]{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("action %q is not valid for %s", action, kind))
	}
	if !r.permits(actor) {
		return Transition[S]{}, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s cannot %s this %s", actor.Role, action, kind))
	}
	if !r.accepts(current) {
		return Transition[S]{}, appErrors.InvalidTransition(string(current), string(action))
	}
	effects := make([]Effect, len(r.effects))
	copy(effects, r.effects)
	return Transition[S]{From: current, To: r.to, Effects: effects}, nil
}

func edges[S ~string](table map[Action]rule[S]) map[[2]S]bool {
	out := make(map[[2]S]bool)
	for _, r := range table {
		for _, from := range r.from {
			out[[2]S{from, r.to}] = true
		}
	}
	return out
}
