package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func TestTransition(t *testing.T) {
	allowed := map[model.CampaignStatus]map[service.Event]model.CampaignStatus{
		model.StatusDraft: {
			service.EventStart:  model.StatusQueued,
			service.EventCancel: model.StatusCancelled,
		},
		model.StatusQueued: {
			service.EventBeginSending:         model.StatusSending,
			service.EventBatchSucceeded:       model.StatusSent,
			service.EventBatchPartiallyFailed: model.StatusSentWithFailure,
			service.EventDispatchFailed:       model.StatusFailed,
		},
		model.StatusSending: {
			service.EventBatchSucceeded:       model.StatusSent,
			service.EventBatchPartiallyFailed: model.StatusSentWithFailure,
			service.EventDispatchFailed:       model.StatusFailed,
		},
	}
	events := []service.Event{
		service.EventStart, service.EventCancel, service.EventBeginSending,
		service.EventBatchSucceeded, service.EventBatchPartiallyFailed, service.EventDispatchFailed,
	}

	for _, from := range model.AllStatuses {
		for _, event := range events {
			t.Run(string(from)+"/"+string(event), func(t *testing.T) {
				to, err := service.Transition(from, event)
				want, ok := allowed[from][event]
				if !ok {
					require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
					assert.Equal(t, from, to)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, want, to)
			})
		}
	}
}

func TestTransition_TerminalStatusesAreFinal(t *testing.T) {
	for _, s := range model.AllStatuses {
		if !s.IsTerminal() {
			continue
		}
		for _, event := range []service.Event{service.EventStart, service.EventCancel, service.EventDispatchFailed} {
			_, err := service.Transition(s, event)
			assert.Error(t, err, "%s via %s", s, event)
		}
	}
}

func TestEditable(t *testing.T) {
	for _, s := range model.AllStatuses {
		assert.Equal(t, s == model.StatusDraft, service.Editable(s), s)
	}
}
