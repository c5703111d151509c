package model

import "time"

// TaskOutcome is the terminal (or pending) state of a single send.
type TaskOutcome string

const (
	TaskPending TaskOutcome = "pending"
	TaskSuccess TaskOutcome = "success"
	TaskFailed  TaskOutcome = "failure"
)

// SendTask is one subscriber's share of a campaign dispatch. It travels
// through the task transport as JSON, so it only carries identifiers.
type SendTask struct {
	BatchID      string        `json:"batch_id"`
	Index        int           `json:"index"`
	CampaignID   int           `json:"campaign_id"`
	SubscriberID int           `json:"subscriber_id"`
	Email        string        `json:"email"`
	RunAt        time.Time     `json:"run_at"`
	Delay        time.Duration `json:"delay"`
	Attempt      int           `json:"attempt,omitempty"`
	Outcome      TaskOutcome   `json:"outcome,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Due reports whether the task may run at now.
func (t SendTask) Due(now time.Time) bool {
	return !now.Before(t.RunAt)
}
