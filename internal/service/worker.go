package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// SendWorker sends one campaign email per task and records the outcome in
// the campaign log.
type SendWorker struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	SubscriberRepo repository.SubscriberRepositoryInterface
	LogRepo        repository.CampaignLogRepositoryInterface
	Renderer       Renderer
	Sender         mailer.Sender
	Logger         *zap.Logger
}

func (w *SendWorker) log() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

// HandleTask implements queue.TaskHandler. Missing rows and render errors
// are permanent; send errors are retried by the executor.
func (w *SendWorker) HandleTask(ctx context.Context, task model.SendTask) error {
	campaign, err := w.CampaignRepo.GetByID(ctx, task.CampaignID)
	if err != nil {
		return permanentIfNotFound(err)
	}
	subscriber, err := w.SubscriberRepo.GetByID(ctx, task.SubscriberID)
	if err != nil {
		return permanentIfNotFound(err)
	}

	var sendErr error
	if !subscriber.IsSubscribed() {
		sendErr = queue.Permanent(fmt.Errorf("subscriber %d unsubscribed after dispatch", subscriber.ID))
	} else if msg, err := w.Renderer.Render(campaign, subscriber); err != nil {
		sendErr = queue.Permanent(err)
	} else if _, err := w.Sender.Send(ctx, campaign.ID, subscriber.ID, msg); err != nil {
		sendErr = err
	}

	entry := &model.CampaignLog{
		CampaignID:   task.CampaignID,
		BatchID:      task.BatchID,
		SubscriberID: subscriber.ID,
		Email:        subscriber.Email,
		Status:       model.TaskSuccess,
		Attempts:     task.Attempt,
	}
	if sendErr != nil {
		entry.Status = model.TaskFailed
		entry.LastError = sendErr.Error()
	}
	if err := w.LogRepo.Record(ctx, entry); err != nil {
		w.log().Warn("record campaign log",
			zap.Int("campaign_id", task.CampaignID),
			logger.Email(subscriber.Email),
			zap.Error(err))
	}

	if sendErr != nil {
		return sendErr
	}
	w.log().Debug("campaign email sent", zap.Int("campaign_id", task.CampaignID), logger.Email(subscriber.Email))
	return nil
}

func permanentIfNotFound(err error) error {
	if appErrors.IsNotFound(err) {
		return queue.Permanent(err)
	}
	return err
}

var _ queue.TaskHandler = (*SendWorker)(nil)
