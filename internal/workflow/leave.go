package workflow

import (
	"fmt"

	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

var leaveTable = map[Action]rule[models.LeaveStatus]{
	ActionApprove: {
		from:    []models.LeaveStatus{models.LeaveRequested},
		to:      models.LeaveApprovedByHOD,
		roles:   []models.UserRole{models.RoleHOD},
		effects: []Effect{EffectNotifyStudent, EffectWhatsAppLetter, EffectNotifyActorDispatch},
	},
	ActionReject: {
		from:    []models.LeaveStatus{models.LeaveRequested},
		to:      models.LeaveRejectedByHOD,
		roles:   []models.UserRole{models.RoleHOD},
		effects: []Effect{EffectNotifyStudent},
	},
}

var lateTable = map[Action]rule[models.LeaveStatus]{
	ActionAcknowledge: {
		from:    []models.LeaveStatus{models.LeaveRequested},
		to:      models.LeaveWaitingForArrivalConfirmation,
		roles:   []models.UserRole{models.RoleStaff, models.RoleHOD},
		effects: []Effect{EffectNotifyStudent},
	},
	ActionConfirmArrival: {
		from:    []models.LeaveStatus{models.LeaveWaitingForArrivalConfirmation},
		to:      models.LeaveAcknowledgedByStaff,
		owner:   true,
		effects: []Effect{EffectWhatsAppArrivalText, EffectNotifyStaff},
	},
	ActionReject: {
		from:    []models.LeaveStatus{models.LeaveRequested},
		to:      models.LeaveRejectedByHOD,
		roles:   []models.UserRole{models.RoleHOD},
		effects: []Effect{EffectNotifyStudent},
	},
}

var deletableLeaveStatuses = map[models.LeaveStatus]bool{
	models.LeaveRequested:                     true,
	models.LeaveWaitingForArrivalConfirmation: true,
	models.LeaveRejectedByHOD:                 true,
}

// Leave applies action to a leave or late request depending on kind.
func Leave(kind models.LeaveType, current models.LeaveStatus, action Action, actor Actor) (Transition[models.LeaveStatus], error) {
	switch kind {
	case models.LeaveTypeLeave:
		return apply(leaveTable, "leave request", current, action, actor)
	case models.LeaveTypeLate:
		return apply(lateTable, "late request", current, action, actor)
	default:
		return Transition[models.LeaveStatus]{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request type %q", kind))
	}
}

// LeaveDeletable reports whether a request in status may still be withdrawn.
func LeaveDeletable(status models.LeaveStatus) bool {
	return deletableLeaveStatuses[status]
}

// DeletableLeaveStatuses lists the statuses LeaveDeletable accepts.
func DeletableLeaveStatuses() []models.LeaveStatus {
	return []models.LeaveStatus{
		models.LeaveRequested,
		models.LeaveWaitingForArrivalConfirmation,
		models.LeaveRejectedByHOD,
	}
}
