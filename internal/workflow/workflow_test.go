package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

var allActions = []Action{
	ActionApprove, ActionReject, ActionAcknowledge, ActionConfirmArrival,
	ActionRequestDispatch, ActionSend, ActionMarkDispatched, ActionReschedule,
}

var allActors = []Actor{
	{Role: models.RoleAdmin},
	{Role: models.RoleHOD},
	{Role: models.RoleStaff},
	{Role: models.RoleStudent},
	{Role: models.RoleStudent, Owner: true},
}

func TestApprovalDecisions(t *testing.T) {
	tr, err := Approval(models.ApprovalPending, ActionApprove, "hod-1", "hod-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, tr.To)
	assert.True(t, tr.Has(EffectCreateAccount))
	assert.True(t, tr.Has(EffectNotifyRequester))

	tr, err = Approval(models.ApprovalPending, ActionReject, "hod-1", "hod-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, tr.To)
	assert.False(t, tr.Has(EffectCreateAccount))
}

func TestApprovalRejectTwiceConflicts(t *testing.T) {
	_, err := Approval(models.ApprovalRejected, ActionReject, "hod-1", "hod-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Contains(t, err.Error(), "rejected")
}

func TestApprovalWrongApproverForbidden(t *testing.T) {
	_, err := Approval(models.ApprovalPending, ActionApprove, "hod-2", "hod-1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = Approval(models.ApprovalPending, ActionApprove, "", "")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestApprovalUnknownAction(t *testing.T) {
	_, err := Approval(models.ApprovalPending, ActionSend, "hod-1", "hod-1")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestLeaveApproveEffects(t *testing.T) {
	tr, err := Leave(models.LeaveTypeLeave, models.LeaveRequested, ActionApprove, Actor{Role: models.RoleHOD})
	require.NoError(t, err)
	assert.Equal(t, models.LeaveApprovedByHOD, tr.To)
	assert.Equal(t, []Effect{EffectNotifyStudent, EffectWhatsAppLetter, EffectNotifyActorDispatch}, tr.Effects)

	tr.Effects[0] = EffectCreateAccount
	again, err := Leave(models.LeaveTypeLeave, models.LeaveRequested, ActionApprove, Actor{Role: models.RoleHOD})
	require.NoError(t, err)
	assert.Equal(t, EffectNotifyStudent, again.Effects[0], "table effects must not be shared with callers")
}

func TestLeaveStaffCannotApprove(t *testing.T) {
	_, err := Leave(models.LeaveTypeLeave, models.LeaveRequested, ActionApprove, Actor{Role: models.RoleStaff})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestLateScenario(t *testing.T) {
	staff := Actor{Role: models.RoleStaff}
	owner := Actor{Role: models.RoleStudent, Owner: true}

	tr, err := Leave(models.LeaveTypeLate, models.LeaveRequested, ActionAcknowledge, staff)
	require.NoError(t, err)
	require.Equal(t, models.LeaveWaitingForArrivalConfirmation, tr.To)

	_, err = Leave(models.LeaveTypeLate, tr.To, ActionConfirmArrival, staff)
	assert.ErrorIs(t, err, appErrors.ErrForbidden, "staff cannot confirm on behalf of the student")

	_, err = Leave(models.LeaveTypeLate, tr.To, ActionConfirmArrival, Actor{Role: models.RoleStudent})
	assert.ErrorIs(t, err, appErrors.ErrForbidden, "another student cannot confirm")

	done, err := Leave(models.LeaveTypeLate, tr.To, ActionConfirmArrival, owner)
	require.NoError(t, err)
	assert.Equal(t, models.LeaveAcknowledgedByStaff, done.To)
	assert.True(t, done.Has(EffectWhatsAppArrivalText))
	assert.True(t, done.Has(EffectNotifyStaff))

	_, err = Leave(models.LeaveTypeLate, models.LeaveRequested, ActionConfirmArrival, owner)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	_, err = Leave(models.LeaveTypeLate, models.LeaveAcknowledgedByStaff, ActionConfirmArrival, owner)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestLateRejectByHOD(t *testing.T) {
	tr, err := Leave(models.LeaveTypeLate, models.LeaveRequested, ActionReject, Actor{Role: models.RoleHOD})
	require.NoError(t, err)
	assert.Equal(t, models.LeaveRejectedByHOD, tr.To)

	_, err = Leave(models.LeaveTypeLate, models.LeaveWaitingForArrivalConfirmation, ActionReject, Actor{Role: models.RoleHOD})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestLeaveActionNotInTable(t *testing.T) {
	_, err := Leave(models.LeaveTypeLeave, models.LeaveRequested, ActionAcknowledge, Actor{Role: models.RoleStaff})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = Leave(models.LeaveType("holiday"), models.LeaveRequested, ActionApprove, Actor{Role: models.RoleHOD})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestLeaveDeletable(t *testing.T) {
	cases := map[models.LeaveStatus]bool{
		models.LeaveRequested:                     true,
		models.LeaveWaitingForArrivalConfirmation: true,
		models.LeaveRejectedByHOD:                 true,
		models.LeaveApprovedByHOD:                 false,
		models.LeaveAcknowledgedByStaff:           false,
	}
	for status, want := range cases {
		assert.Equal(t, want, LeaveDeletable(status), string(status))
	}
	assert.Len(t, DeletableLeaveStatuses(), 3)
}

func TestMarksheetLifecycle(t *testing.T) {
	staff := Actor{Role: models.RoleStaff}
	hod := Actor{Role: models.RoleHOD}

	tr, err := Marksheet(models.MarksheetVerifiedByStaff, ActionRequestDispatch, staff)
	require.NoError(t, err)
	require.Equal(t, models.MarksheetDispatchRequested, tr.To)

	tr, err = Marksheet(tr.To, ActionApprove, hod)
	require.NoError(t, err)
	require.Equal(t, models.MarksheetApprovedByHOD, tr.To)

	send, err := Marksheet(tr.To, ActionSend, staff)
	require.NoError(t, err)
	assert.Equal(t, models.MarksheetDispatched, send.To)
	assert.True(t, send.Has(EffectWhatsAppMarksheet))

	_, err = Marksheet(models.MarksheetDispatched, ActionSend, hod)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestMarksheetRescheduleAlias(t *testing.T) {
	hod := Actor{Role: models.RoleHOD}

	tr, err := Marksheet(models.MarksheetRejectedByHOD, ActionReschedule, hod)
	require.NoError(t, err)
	assert.Equal(t, models.MarksheetRescheduledByHOD, tr.To)

	// Stored alias behaves exactly like dispatch_requested.
	tr, err = Marksheet(models.MarksheetRescheduledByHOD, ActionApprove, hod)
	require.NoError(t, err)
	assert.Equal(t, models.MarksheetDispatchRequested, tr.From)
	assert.Equal(t, models.MarksheetApprovedByHOD, tr.To)

	assert.ElementsMatch(t,
		[]models.MarksheetStatus{models.MarksheetDispatchRequested, models.MarksheetRescheduledByHOD},
		MarksheetCASFrom(models.MarksheetDispatchRequested))
	assert.Equal(t, []models.MarksheetStatus{models.MarksheetApprovedByHOD}, MarksheetCASFrom(models.MarksheetApprovedByHOD))
}

func TestMarksheetSkipRejected(t *testing.T) {
	_, err := Marksheet(models.MarksheetVerifiedByStaff, ActionSend, Actor{Role: models.RoleHOD})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = Marksheet(models.MarksheetVerifiedByStaff, ActionApprove, Actor{Role: models.RoleHOD})
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestNoTransitionSkipsAStep(t *testing.T) {
	allowedLeave := map[[2]models.LeaveStatus]bool{
		{models.LeaveRequested, models.LeaveApprovedByHOD}: true,
		{models.LeaveRequested, models.LeaveRejectedByHOD}: true,
	}
	allowedLate := map[[2]models.LeaveStatus]bool{
		{models.LeaveRequested, models.LeaveWaitingForArrivalConfirmation}:           true,
		{models.LeaveWaitingForArrivalConfirmation, models.LeaveAcknowledgedByStaff}: true,
		{models.LeaveRequested, models.LeaveRejectedByHOD}:                           true,
	}
	allowedMarksheet := map[[2]models.MarksheetStatus]bool{
		{models.MarksheetVerifiedByStaff, models.MarksheetDispatchRequested}: true,
		{models.MarksheetDispatchRequested, models.MarksheetApprovedByHOD}:   true,
		{models.MarksheetDispatchRequested, models.MarksheetRejectedByHOD}:   true,
		{models.MarksheetApprovedByHOD, models.MarksheetDispatched}:          true,
		{models.MarksheetApprovedByHOD, models.MarksheetRescheduledByHOD}:    true,
		{models.MarksheetRejectedByHOD, models.MarksheetRescheduledByHOD}:    true,
	}

	leaveStatuses := []models.LeaveStatus{
		models.LeaveRequested, models.LeaveApprovedByHOD, models.LeaveRejectedByHOD,
		models.LeaveWaitingForArrivalConfirmation, models.LeaveAcknowledgedByStaff,
	}
	marksheetStatuses := []models.MarksheetStatus{
		models.MarksheetVerifiedByStaff, models.MarksheetDispatchRequested, models.MarksheetApprovedByHOD,
		models.MarksheetRejectedByHOD, models.MarksheetDispatched,
	}

	for _, action := range allActions {
		for _, actor := range allActors {
			for _, status := range leaveStatuses {
				if tr, err := Leave(models.LeaveTypeLeave, status, action, actor); err == nil {
					assert.True(t, allowedLeave[[2]models.LeaveStatus{tr.From, tr.To}], "leave %s -> %s via %s", tr.From, tr.To, action)
				}
				if tr, err := Leave(models.LeaveTypeLate, status, action, actor); err == nil {
					assert.True(t, allowedLate[[2]models.LeaveStatus{tr.From, tr.To}], "late %s -> %s via %s", tr.From, tr.To, action)
				}
			}
			for _, status := range marksheetStatuses {
				if tr, err := Marksheet(status, action, actor); err == nil {
					assert.True(t, allowedMarksheet[[2]models.MarksheetStatus{tr.From, tr.To}], "marksheet %s -> %s via %s", tr.From, tr.To, action)
				}
			}
		}
	}

	assert.Equal(t, allowedLeave, edges(leaveTable))
	assert.Equal(t, allowedLate, edges(lateTable))
	assert.Equal(t, allowedMarksheet, edges(marksheetTable))
}

func TestTerminalStatusesRejectEverything(t *testing.T) {
	for _, action := range allActions {
		for _, actor := range allActors {
			_, err := Leave(models.LeaveTypeLeave, models.LeaveApprovedByHOD, action, actor)
			assert.Error(t, err)
			_, err = Leave(models.LeaveTypeLate, models.LeaveAcknowledgedByStaff, action, actor)
			assert.Error(t, err)
			_, err = Marksheet(models.MarksheetDispatched, action, actor)
			assert.Error(t, err)
		}
	}
	assert.True(t, ApprovalTerminal(models.ApprovalApproved))
	assert.False(t, ApprovalTerminal(models.ApprovalPending))
}
