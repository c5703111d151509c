// internal/model/campaign_log.go
package model

import "time"

// CampaignLog is the per-subscriber delivery record of a campaign run.
type CampaignLog struct {
	ID           int         `db:"id" json:"id"`
	CampaignID   int         `db:"campaign_id" json:"campaign_id"`
	BatchID      string      `db:"batch_id" json:"batch_id"`
	SubscriberID int         `db:"subscriber_id" json:"subscriber_id"`
	Email        string      `db:"email" json:"email"`
	Status       TaskOutcome `db:"status" json:"status"` // success, failure
	LastError    string      `db:"last_error" json:"last_error,omitempty"`
	Attempts     int         `db:"attempts" json:"attempts"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}
