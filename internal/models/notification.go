package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotificationApprovalRequested  NotificationType = "approval_requested"
	NotificationApprovalDecided    NotificationType = "approval_decided"
	NotificationLeaveRequested     NotificationType = "leave_requested"
	NotificationLeaveDecided       NotificationType = "leave_decided"
	NotificationLateRecorded       NotificationType = "late_recorded"
	NotificationArrivalConfirmed   NotificationType = "arrival_confirmed"
	NotificationMarksheetRequested NotificationType = "marksheet_dispatch_requested"
	NotificationMarksheetDecided   NotificationType = "marksheet_decided"
	NotificationMarksheetSent      NotificationType = "marksheet_dispatched"
	NotificationDispatchReport     NotificationType = "dispatch_report"
)

// NotificationData is free-form context stored as JSONB.
type NotificationData map[string]interface{}

// Value marshals data to JSON for persistence.
func (d NotificationData) Value() (driver.Value, error) {
	if d == nil {
		d = NotificationData{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal notification data: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB into data.
func (d *NotificationData) Scan(value interface{}) error {
	return scanJSON(value, d, "notification data")
}

// NotificationRecord is an append-only in-app notification.
type NotificationRecord struct {
	ID             string           `db:"id" json:"id"`
	RecipientEmail string           `db:"recipient_email" json:"recipient_email"`
	Type           NotificationType `db:"type" json:"type"`
	Title          string           `db:"title" json:"title"`
	Body           string           `db:"body" json:"body"`
	Data           NotificationData `db:"data" json:"data,omitempty"`
	Read           bool             `db:"read" json:"read"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter narrows a recipient's notification list.
type NotificationFilter struct {
	UnreadOnly bool
	Page       int
	PageSize   int
}

// NotificationMessage is what workflows hand to the notification sink.
type NotificationMessage struct {
	RecipientEmail string
	Type           NotificationType
	Title          string
	Body           string
	Data           NotificationData
	URL            string
}

// NotifyResult reports the outcome of recording and pushing one message.
type NotifyResult struct {
	Record *NotificationRecord `json:"record,omitempty"`
	Push   *PushResult         `json:"push,omitempty"`
	Error  string              `json:"error,omitempty"`
}
