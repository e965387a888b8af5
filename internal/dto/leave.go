package dto

// CreateLeaveRequest files a leave or late-arrival request for the calling student.
type CreateLeaveRequest struct {
	Type            string `json:"type" validate:"required,oneof=leave late"`
	Reason          string `json:"reason" validate:"required,min=3,max=1000"`
	FromDate        string `json:"from_date" validate:"required_if=Type leave,omitempty,datetime=2006-01-02"`
	ToDate          string `json:"to_date" validate:"required_if=Type leave,omitempty,datetime=2006-01-02"`
	ExpectedArrival string `json:"expected_arrival" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// TransitionRequest asks for a workflow action on a leave request or marksheet.
type TransitionRequest struct {
	Action string `json:"action" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

// LeaveQuery filters leave listings.
type LeaveQuery struct {
	Status   string `form:"status"`
	Type     string `form:"type" validate:"omitempty,oneof=leave late"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
