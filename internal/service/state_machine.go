package service

import (
	"fmt"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Event moves a campaign from one status to another.
type Event string

const (
	EventStart                Event = "start"
	EventCancel               Event = "cancel"
	EventBeginSending         Event = "begin_sending"
	EventBatchSucceeded       Event = "batch_succeeded"
	EventBatchPartiallyFailed Event = "batch_partially_failed"
	EventDispatchFailed       Event = "dispatch_failed"
)

type transitionKey struct {
	from  model.CampaignStatus
	event Event
}

var transitions = map[transitionKey]model.CampaignStatus{
	{model.StatusDraft, EventStart}:  model.StatusQueued,
	{model.StatusDraft, EventCancel}: model.StatusCancelled,

	{model.StatusQueued, EventBeginSending}: model.StatusSending,

	{model.StatusQueued, EventBatchSucceeded}:        model.StatusSent,
	{model.StatusSending, EventBatchSucceeded}:       model.StatusSent,
	{model.StatusQueued, EventBatchPartiallyFailed}:  model.StatusSentWithFailure,
	{model.StatusSending, EventBatchPartiallyFailed}: model.StatusSentWithFailure,
	{model.StatusQueued, EventDispatchFailed}:        model.StatusFailed,
	{model.StatusSending, EventDispatchFailed}:       model.StatusFailed,
}

// Transition returns the status reached by applying event in status from.
func Transition(from model.CampaignStatus, event Event) (model.CampaignStatus, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", appErrors.ErrInvalidTransition, event, from)
	}
	return to, nil
}

// Editable reports whether a campaign in status may be edited or deleted.
func Editable(status model.CampaignStatus) bool {
	return status == model.StatusDraft
}

// eventFor maps a finished batch to the event applied to its campaign.
func eventFor(result model.BatchResult) Event {
	switch result.Outcome() {
	case model.BatchCompleted:
		return EventBatchSucceeded
	case model.BatchCompletedWithFailures:
		return EventBatchPartiallyFailed
	default:
		return EventDispatchFailed
	}
}
