package dto

// SignupRequest is the public staff signup payload.
type SignupRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"required,min=2,max=120"`
	Password   string `json:"password" validate:"required,min=8"`
	Department string `json:"department" validate:"required"`
	Year       int    `json:"year" validate:"gte=0,lte=6"`
	Section    string `json:"section" validate:"max=16"`
	Phone      string `json:"phone" validate:"omitempty,min=10,max=16"`
}

// DecisionRequest approves or rejects a signup request.
type DecisionRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Reason string `json:"reason" validate:"max=500"`
}

// ApprovalQuery filters an approver's queue.
type ApprovalQuery struct {
	Status   string `form:"status" validate:"omitempty,oneof=pending approved rejected"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
