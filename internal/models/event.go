package models

import "time"

// InboundEvent — входящее текстовое сообщение от мессенджера.
type InboundEvent struct {
	UpdateID int
	UserID   int64  `validate:"required,gt=0"`
	ChatID   int64  `validate:"required"`
	Text     string `validate:"max=4096"`
	Profile
}

// NotificationKind — тип уведомления планировщика.
type NotificationKind string

const (
	// NotificationTrialEndsTomorrow отправляется за день до окончания пробного периода.
	NotificationTrialEndsTomorrow NotificationKind = "trial_ends_tomorrow"
	// NotificationTrialEnded отправляется после автоматической блокировки.
	NotificationTrialEnded NotificationKind = "trial_ended"
)

// Notification — сообщение в очереди уведомлений.
type Notification struct {
	ID           string           `json:"id" validate:"required,uuid"`
	UserID       int64            `json:"user_id" validate:"required,gt=0"`
	Kind         NotificationKind `json:"kind" validate:"required,oneof=trial_ends_tomorrow trial_ended"`
	FirstName    string           `json:"first_name,omitempty"`
	TrialExpires string           `json:"trial_expires,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
