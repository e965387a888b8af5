package workflow

import "github.com/noah-isme/campus-portal-api/internal/models"

var marksheetTable = map[Action]rule[models.MarksheetStatus]{
	ActionRequestDispatch: {
		from:    []models.MarksheetStatus{models.MarksheetVerifiedByStaff},
		to:      models.MarksheetDispatchRequested,
		roles:   []models.UserRole{models.RoleStaff, models.RoleHOD},
		effects: []Effect{EffectNotifyHOD},
	},
	ActionApprove: {
		from:    []models.MarksheetStatus{models.MarksheetDispatchRequested},
		to:      models.MarksheetApprovedByHOD,
		roles:   []models.UserRole{models.RoleHOD},
		effects: []Effect{EffectNotifyStaff},
	},
	ActionReject: {
		from:    []models.MarksheetStatus{models.MarksheetDispatchRequested},
		to:      models.MarksheetRejectedByHOD,
		roles:   []models.UserRole{models.RoleHOD},
		effects: []Effect{EffectNotifyStaff},
	},
	ActionSend: {
		from:    []models.MarksheetStatus{models.MarksheetApprovedByHOD},
		to:      models.MarksheetDispatched,
		roles:   []models.UserRole{models.RoleHOD, models.RoleStaff},
		effects: []Effect{EffectWhatsAppMarksheet, EffectNotifyActorDispatch},
	},
	ActionMarkDispatched: {
		from:    []models.MarksheetStatus{models.MarksheetApprovedByHOD},
		to:      models.MarksheetDispatched,
		roles:   []models.UserRole{models.RoleHOD, models.RoleStaff},
		effects: []Effect{EffectNotifyStaff},
	},
	ActionReschedule: {
		from:    []models.MarksheetStatus{models.MarksheetApprovedByHOD, models.MarksheetRejectedByHOD},
		to:      models.MarksheetRescheduledByHOD,
		roles:   []models.UserRole{models.RoleHOD},
		effects: []Effect{EffectNotifyStaff},
	},
}

// Marksheet applies action to a marksheet. current must already be
// normalized; the reschedule alias is never a valid starting point.
func Marksheet(current models.MarksheetStatus, action Action, actor Actor) (Transition[models.MarksheetStatus], error) {
	return apply(marksheetTable, "marksheet", NormalizeMarksheetStatus(current), action, actor)
}

// NormalizeMarksheetStatus maps the stored reschedule alias to the status
// readers observe.
func NormalizeMarksheetStatus(status models.MarksheetStatus) models.MarksheetStatus {
	if status == models.MarksheetRescheduledByHOD {
		return models.MarksheetDispatchRequested
	}
	return status
}

// MarksheetCASFrom lists the stored statuses a conditional update must match
// for a record currently read as status.
func MarksheetCASFrom(status models.MarksheetStatus) []models.MarksheetStatus {
	if status == models.MarksheetDispatchRequested {
		return []models.MarksheetStatus{models.MarksheetDispatchRequested, models.MarksheetRescheduledByHOD}
	}
	return []models.MarksheetStatus{status}
}
