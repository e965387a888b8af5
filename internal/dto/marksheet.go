package dto

import "github.com/noah-isme/campus-portal-api/internal/models"

// CreateMarksheetRequest registers a marksheet already verified by staff.
type CreateMarksheetRequest struct {
	StudentID string               `json:"student_id" validate:"required,uuid"`
	ExamName  string               `json:"exam_name" validate:"required,max=120"`
	Semester  int                  `json:"semester" validate:"required,gte=1,lte=12"`
	Subjects  []models.SubjectMark `json:"subjects" validate:"required,min=1,dive"`
}

// MarksheetQuery filters marksheet listings.
type MarksheetQuery struct {
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
