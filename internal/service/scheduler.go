package service

import (
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// DefaultSpacing is the gap between two consecutive sends of a campaign.
const DefaultSpacing = 6 * time.Second

// Schedule turns recipients into send tasks. Task i may run no earlier than
// base + i*spacing. A non-positive spacing means DefaultSpacing.
func Schedule(campaignID int, recipients []model.Subscriber, base time.Time, spacing time.Duration) []model.SendTask {
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	tasks := make([]model.SendTask, len(recipients))
	for i, s := range recipients {
		tasks[i] = model.SendTask{
			Index:        i,
			CampaignID:   campaignID,
			SubscriberID: s.ID,
			Email:        s.Email,
			RunAt:        base.Add(time.Duration(i) * spacing),
			Delay:        time.Duration(i) * spacing,
			Outcome:      model.TaskPending,
		}
	}
	return tasks
}
