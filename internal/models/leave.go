package models

import "time"

// LeaveType distinguishes absence requests from late-arrival reports.
type LeaveType string

const (
	LeaveTypeLeave LeaveType = "leave"
	LeaveTypeLate  LeaveType = "late"
)

// LeaveStatus is the lifecycle state shared by leave and late requests.
type LeaveStatus string

const (
	LeaveRequested                     LeaveStatus = "requested"
	LeaveApprovedByHOD                 LeaveStatus = "approved_by_hod"
	LeaveRejectedByHOD                 LeaveStatus = "rejected_by_hod"
	LeaveWaitingForArrivalConfirmation LeaveStatus = "waiting_for_arrival_confirmation"
	LeaveAcknowledgedByStaff           LeaveStatus = "acknowledged_by_staff"
)

// LeaveRequest is a student's leave or late-arrival request.
type LeaveRequest struct {
	ID                 string          `db:"id" json:"id"`
	Type               LeaveType       `db:"type" json:"type"`
	StudentID          string          `db:"student_id" json:"student_id"`
	Student            StudentSnapshot `db:"student_snapshot" json:"student"`
	Reason             string          `db:"reason" json:"reason"`
	Status             LeaveStatus     `db:"status" json:"status"`
	FromDate           *time.Time      `db:"from_date" json:"from_date,omitempty"`
	ToDate             *time.Time      `db:"to_date" json:"to_date,omitempty"`
	ExpectedArrival    *time.Time      `db:"expected_arrival" json:"expected_arrival,omitempty"`
	StaffID            *string         `db:"staff_id" json:"staff_id,omitempty"`
	HODID              *string         `db:"hod_id" json:"hod_id,omitempty"`
	RecordedAt         *time.Time      `db:"recorded_at" json:"recorded_at,omitempty"`
	ArrivalConfirmedAt *time.Time      `db:"arrival_confirmed_at" json:"arrival_confirmed_at,omitempty"`
	RejectionReason    *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// LeaveFilter narrows leave listings.
type LeaveFilter struct {
	StudentID  string
	Department string
	Type       LeaveType
	Status     LeaveStatus
	Page       int
	PageSize   int
}

// LeaveUpdate carries the columns a transition writes alongside the status.
type LeaveUpdate struct {
	Status             LeaveStatus
	StaffID            *string
	HODID              *string
	RecordedAt         *time.Time
	ArrivalConfirmedAt *time.Time
	RejectionReason    *string
	UpdatedAt          time.Time
}

// LeaveTransitionResult is returned to the actor after a leave action.
type LeaveTransitionResult struct {
	Request        *LeaveRequest   `json:"request"`
	WhatsAppResult *DispatchResult `json:"whatsapp_result,omitempty"`
}
