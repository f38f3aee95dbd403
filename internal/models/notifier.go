package models

import "time"

// NotifierType identifies a notification channel.
type NotifierType string

const (
	NotifierEmail    NotifierType = "email"
	NotifierSlack    NotifierType = "slack"
	NotifierDiscord  NotifierType = "discord"
	NotifierTelegram NotifierType = "telegram"
)

// ParseNotifierType converts a string to NotifierType.
func ParseNotifierType(s string) (NotifierType, bool) {
	switch NotifierType(s) {
	case NotifierEmail, NotifierSlack, NotifierDiscord, NotifierTelegram:
		return NotifierType(s), true
	default:
		return "", false
	}
}

// Notifier is a user-owned notification destination. Value is a single
// URL-encoded connection string carrying every destination-specific field.
type Notifier struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Name      string       `json:"name"`
	Type      NotifierType `json:"type"`
	Value     string       `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
