package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MarksheetStatus is the lifecycle state of a marksheet dispatch.
type MarksheetStatus string

const (
	MarksheetVerifiedByStaff   MarksheetStatus = "verified_by_staff"
	MarksheetDispatchRequested MarksheetStatus = "dispatch_requested"
	MarksheetApprovedByHOD     MarksheetStatus = "approved_by_hod"
	MarksheetRejectedByHOD     MarksheetStatus = "rejected_by_hod"
	MarksheetDispatched        MarksheetStatus = "dispatched"
	// MarksheetRescheduledByHOD is stored only; reads surface it as dispatch_requested.
	MarksheetRescheduledByHOD MarksheetStatus = "rescheduled_by_hod"
)

// SubjectMark is one row of a marksheet.
type SubjectMark struct {
	Code     string  `json:"code" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	Marks    float64 `json:"marks" validate:"gte=0"`
	MaxMarks float64 `json:"max_marks" validate:"gt=0"`
	Grade    string  `json:"grade"`
}

// SubjectMarks is persisted as a JSONB array.
type SubjectMarks []SubjectMark

// Value marshals subjects to JSON for persistence.
func (s SubjectMarks) Value() (driver.Value, error) {
	if s == nil {
		s = SubjectMarks{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal subject marks: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB into subjects.
func (s *SubjectMarks) Scan(value interface{}) error {
	return scanJSON(value, s, "subject marks")
}

// Marksheet is an exam result travelling through staff verification, HOD
// approval and dispatch to the parent.
type Marksheet struct {
	ID              string          `db:"id" json:"id"`
	StudentID       string          `db:"student_id" json:"student_id"`
	Student         StudentSnapshot `db:"student_snapshot" json:"student"`
	ExamName        string          `db:"exam_name" json:"exam_name"`
	Semester        int             `db:"semester" json:"semester"`
	Subjects        SubjectMarks    `db:"subjects" json:"subjects"`
	PDFURL          *string         `db:"pdf_url" json:"pdf_url,omitempty"`
	ImageURL        *string         `db:"image_url" json:"image_url,omitempty"`
	Status          MarksheetStatus `db:"status" json:"status"`
	StaffID         string          `db:"staff_id" json:"staff_id"`
	HODID           *string         `db:"hod_id" json:"hod_id,omitempty"`
	HODResponse     *string         `db:"hod_response" json:"hod_response,omitempty"`
	DispatchChannel *string         `db:"dispatch_channel" json:"dispatch_channel,omitempty"`
	DispatchedAt    *time.Time      `db:"dispatched_at" json:"dispatched_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Normalize folds the stored reschedule alias back into dispatch_requested.
func (m *Marksheet) Normalize() {
	if m.Status != MarksheetRescheduledByHOD {
		return
	}
	m.Status = MarksheetDispatchRequested
	m.HODID = nil
	m.HODResponse = nil
}

// TotalMarks sums obtained and maximum marks.
func (m *Marksheet) TotalMarks() (obtained, max float64) {
	for _, s := range m.Subjects {
		obtained += s.Marks
		max += s.MaxMarks
	}
	return obtained, max
}

// MarksheetFilter narrows marksheet listings.
type MarksheetFilter struct {
	StudentID  string
	Department string
	Status     MarksheetStatus
	Page       int
	PageSize   int
}

// MarksheetUpdate carries the columns a transition writes alongside the status.
type MarksheetUpdate struct {
	Status          MarksheetStatus
	HODID           *string
	HODResponse     *string
	ClearHOD        bool
	DispatchChannel *string
	DispatchedAt    *time.Time
	PDFURL          *string
	UpdatedAt       time.Time
	// SendClaim is the claim token held by the caller, if any. A live claim
	// held by anyone else blocks the update.
	SendClaim string
	// ClaimsExpireBefore: claims taken before this instant are abandoned.
	ClaimsExpireBefore time.Time
}

// MarksheetTransitionResult is returned to the actor after a marksheet action.
type MarksheetTransitionResult struct {
	Marksheet      *Marksheet      `json:"marksheet"`
	WhatsAppResult *DispatchResult `json:"whatsapp_result,omitempty"`
}
