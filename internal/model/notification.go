package model

import "time"

type NotificationLevel string

const (
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelDanger  NotificationLevel = "danger"
)

// Notification is an operator-facing message about a campaign action.
type Notification struct {
	ID        int               `db:"id" json:"id"`
	UserID    string            `db:"user_id" json:"user_id"`
	Level     NotificationLevel `db:"level" json:"level"`
	Title     string            `db:"title" json:"title"`
	Body      string            `db:"body" json:"body"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

// RenderedMessage is what the mail sender delivers to one subscriber.
type RenderedMessage struct {
	To        string `json:"to"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	Subject   string `json:"subject"`
	Preheader string `json:"preheader,omitempty"`
	HTML      string `json:"html"`
}
