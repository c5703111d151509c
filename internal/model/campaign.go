// internal/model/campaign.go
package model

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusDraft           CampaignStatus = "draft"
	StatusQueued          CampaignStatus = "queued"
	StatusSending         CampaignStatus = "sending"
	StatusSent            CampaignStatus = "sent"
	StatusCancelled       CampaignStatus = "cancelled"
	StatusFailed          CampaignStatus = "failed"
	StatusSentWithFailure CampaignStatus = "sent_with_failure"
)

// AllStatuses lists every campaign status in lifecycle order.
var AllStatuses = []CampaignStatus{
	StatusDraft, StatusQueued, StatusSending, StatusSent,
	StatusCancelled, StatusFailed, StatusSentWithFailure,
}

func (s CampaignStatus) String() string { return string(s) }

// IsValid reports whether s is one of the known statuses.
func (s CampaignStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusCancelled, StatusFailed, StatusSentWithFailure:
		return true
	}
	return false
}

// InFlight reports whether a batch is running for the campaign.
func (s CampaignStatus) InFlight() bool {
	return s == StatusQueued || s == StatusSending
}

type Campaign struct {
	ID              int            `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Subject         string         `db:"subject" json:"subject"`
	Preheader       string         `db:"preheader" json:"preheader"`
	FromName        string         `db:"from_name" json:"from_name"`
	FromEmail       string         `db:"from_email" json:"from_email"`
	Status          CampaignStatus `db:"status" json:"status"`
	JobID           *string        `db:"job_id" json:"job_id,omitempty"`
	EmailListID     int            `db:"email_list_id" json:"email_list_id"`
	TemplateID      int            `db:"template_id" json:"template_id"`
	TemplateContent string         `db:"template_content" json:"-"`
	Content         string         `db:"campaign_content" json:"content"`
	TagIDs          []int          `db:"-" json:"tag_ids"`
	Version         int            `db:"version" json:"version"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// Replica returns a copy suitable for inserting as a new draft. Status,
// job id and identity are not carried over.
func (c *Campaign) Replica() *Campaign {
	cp := *c
	cp.ID = 0
	cp.Status = StatusDraft
	cp.JobID = nil
	cp.Version = 0
	cp.UpdatedAt = nil
	cp.TagIDs = append([]int(nil), c.TagIDs...)
	return &cp
}

type Tag struct {
	ID   int    `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
