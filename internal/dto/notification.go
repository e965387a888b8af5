package dto

// NotificationQuery filters a recipient's notifications.
type NotificationQuery struct {
	Unread   bool `form:"unread"`
	Page     int  `form:"page"`
	PageSize int  `form:"page_size"`
}

// UnreadCountResponse carries the unread badge value.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// PushKeys mirrors the keys object of a browser PushSubscription.
type PushKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

// SubscribeRequest is the JSON a browser PushSubscription serialises to.
type SubscribeRequest struct {
	Endpoint string   `json:"endpoint" validate:"required,url"`
	Keys     PushKeys `json:"keys" validate:"required"`
}

// DeactivateRequest deactivates one endpoint, or all of the caller's when empty.
type DeactivateRequest struct {
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
}

// PublicKeyResponse exposes the VAPID application server key.
type PublicKeyResponse struct {
	PublicKey string `json:"public_key"`
	Enabled   bool   `json:"enabled"`
}
