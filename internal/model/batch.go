package model

import "time"

// BatchOutcome classifies a batch once every task is terminal.
type BatchOutcome string

const (
	BatchRunning               BatchOutcome = "running"
	BatchCompleted             BatchOutcome = "completed"
	BatchCompletedWithFailures BatchOutcome = "completed_with_failures"
	BatchCancelled             BatchOutcome = "cancelled"
)

// TaskFailure records why one task of a batch failed.
type TaskFailure struct {
	Index        int    `json:"index"`
	SubscriberID int    `json:"subscriber_id"`
	Error        string `json:"error"`
}

// BatchResult is the aggregate view of a batch, keyed by its id (the
// campaign's job_id).
type BatchResult struct {
	BatchID       string        `json:"batch_id"`
	CampaignID    int           `json:"campaign_id"`
	InitiatedBy   string        `json:"initiated_by"`
	AllowFailures bool          `json:"allow_failures"`
	TotalJobs     int           `json:"total_jobs"`
	ProcessedJobs int           `json:"processed_jobs"`
	FailedJobs    int           `json:"failed_jobs"`
	Failures      []TaskFailure `json:"failures,omitempty"`
	Cancelled     bool          `json:"cancelled"`
	CreatedAt     time.Time     `json:"created_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
}

func (r BatchResult) PendingJobs() int { return r.TotalJobs - r.ProcessedJobs }

func (r BatchResult) HasFailures() bool { return r.FailedJobs > 0 }

func (r BatchResult) Finished() bool { return r.ProcessedJobs >= r.TotalJobs }

// Outcome classifies the batch.
func (r BatchResult) Outcome() BatchOutcome {
	switch {
	case !r.Finished():
		return BatchRunning
	case r.Cancelled:
		return BatchCancelled
	case r.HasFailures():
		return BatchCompletedWithFailures
	default:
		return BatchCompleted
	}
}
