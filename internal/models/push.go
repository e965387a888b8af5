package models

import "time"

// PushSubscription is a browser push endpoint owned by one recipient.
type PushSubscription struct {
	Endpoint       string    `db:"endpoint" json:"endpoint"`
	RecipientEmail string    `db:"recipient_email" json:"recipient_email"`
	Active         bool      `db:"active" json:"active"`
	P256dh         string    `db:"p256dh" json:"p256dh"`
	Auth           string    `db:"auth" json:"auth"`
	UserAgent      string    `db:"user_agent" json:"user_agent"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// PushPayload is the JSON body delivered to service workers.
type PushPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Type  string                 `json:"type,omitempty"`
	URL   string                 `json:"url,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// PushResult summarises one fan-out to a recipient's endpoints.
type PushResult struct {
	Attempted       int      `json:"attempted"`
	Delivered       int      `json:"delivered"`
	FailedEndpoints []string `json:"failed_endpoints,omitempty"`
	Pruned          int      `json:"pruned,omitempty"`
}
