package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/lock"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/notify"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// BatchRunner is the part of the executor the dispatcher needs.
type BatchRunner interface {
	Prepare(ctx context.Context, b queue.Batch) (*queue.PendingBatch, error)
	Status(ctx context.Context, batchID string) (model.BatchResult, error)
	Durable() bool
}

const (
	finalizeAttempts = 3
	reconcilePage    = 100
)

// Dispatcher runs a campaign through its lifecycle: start, batch start,
// batch completion and cancel.
type Dispatcher struct {
	Repo     repository.CampaignRepositoryInterface
	Executor BatchRunner
	Locker   lock.Locker
	Notifier notify.Notifier
	Spacing  time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

func (d *Dispatcher) log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Dispatcher) notify(ctx context.Context, userID string, level model.NotificationLevel, title, body string) {
	if d.Notifier == nil || userID == "" {
		return
	}
	d.Notifier.Notify(context.WithoutCancel(ctx), userID, level, title, body)
}

// Start dispatches a draft campaign to its recipients. On success the
// campaign is queued with its job id and a batch is running; on failure
// the campaign keeps its status, except when the batch could not be
// released after queueing, which fails the campaign.
func (d *Dispatcher) Start(ctx context.Context, campaignID int, actorID string) (*model.Campaign, error) {
	c, err := d.start(ctx, campaignID, actorID)
	if err != nil {
		d.log().Warn("campaign start failed", zap.Int("campaign_id", campaignID), zap.String("actor", actorID), zap.Error(err))
		d.notify(ctx, actorID, model.LevelDanger, "Error", err.Error())
		return nil, err
	}
	d.log().Info("campaign started", zap.Int("campaign_id", c.ID), zap.String("job_id", *c.JobID), zap.String("actor", actorID))
	d.notify(ctx, actorID, model.LevelSuccess, "Campaign Started", "The campaign has been started.")
	return c, nil
}

func (d *Dispatcher) start(ctx context.Context, campaignID int, actorID string) (*model.Campaign, error) {
	l := d.Locker.NewLock(lock.CampaignKey(campaignID))
	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, appErrors.NewSetupError(campaignID, "lock", err)
	}
	if !ok {
		return nil, appErrors.ErrStartInProgress
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			d.log().Warn("release start lock", zap.Int("campaign_id", campaignID), zap.Error(err))
		}
	}()

	c, subscribers, err := d.Repo.LoadForDispatch(ctx, campaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return nil, err
		}
		return nil, appErrors.NewSetupError(campaignID, "load", err)
	}

	next, err := Transition(c.Status, EventStart)
	if err != nil {
		return nil, err
	}

	recipients := SelectRecipients(subscribers, c.TagIDs)
	if len(recipients) == 0 {
		return nil, appErrors.NewSetupError(campaignID, "select recipients", appErrors.ErrNoRecipients)
	}
	tasks := Schedule(c.ID, recipients, d.now(), d.Spacing)

	pending, err := d.Executor.Prepare(ctx, queue.Batch{
		CampaignID:    c.ID,
		InitiatedBy:   actorID,
		AllowFailures: true,
		Tasks:         tasks,
	})
	if err != nil {
		return nil, err
	}

	jobID := pending.ID
	c.Status = next
	c.JobID = &jobID
	if err := d.Repo.UpdateStatus(ctx, c); err != nil {
		if derr := pending.Discard(context.WithoutCancel(ctx)); derr != nil {
			d.log().Warn("discard batch", zap.String("job_id", jobID), zap.Error(derr))
		}
		return nil, fmt.Errorf("queue campaign %d: %w", campaignID, err)
	}

	if err := pending.Release(context.WithoutCancel(ctx)); err != nil {
		d.markFailed(ctx, c)
		return nil, err
	}
	return c, nil
}

// markFailed moves a queued campaign whose batch never went out to failed.
func (d *Dispatcher) markFailed(ctx context.Context, c *model.Campaign) {
	next, err := Transition(c.Status, EventDispatchFailed)
	if err != nil {
		return
	}
	c.Status = next
	if err := d.Repo.UpdateStatus(context.WithoutCancel(ctx), c); err != nil {
		d.log().Error("mark campaign failed", zap.Int("campaign_id", c.ID), zap.Error(err))
	}
}

// OnBatchStarted moves the campaign to sending when its first task runs.
// It is informational, so conflicts and late calls are ignored.
func (d *Dispatcher) OnBatchStarted(ctx context.Context, batchID string, campaignID int) error {
	c, err := d.Repo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.JobID == nil || *c.JobID != batchID {
		return nil
	}
	next, err := Transition(c.Status, EventBeginSending)
	if err != nil {
		return nil
	}
	c.Status = next
	if err := d.Repo.UpdateStatus(ctx, c); err != nil && !errors.Is(err, appErrors.ErrPersistenceConflict) {
		return err
	}
	return nil
}

// Finalize applies a finished batch to its campaign and tells the user who
// started it. Results of stale batches and campaigns already final are
// ignored, so a repeated call never notifies twice.
func (d *Dispatcher) Finalize(ctx context.Context, result model.BatchResult) error {
	var err error
	for n := 0; n < finalizeAttempts; n++ {
		if err = d.finalize(ctx, result); !errors.Is(err, appErrors.ErrPersistenceConflict) {
			return err
		}
	}
	return err
}

func (d *Dispatcher) finalize(ctx context.Context, result model.BatchResult) error {
	log := d.log().With(zap.Int("campaign_id", result.CampaignID), zap.String("job_id", result.BatchID))

	c, err := d.Repo.GetByID(ctx, result.CampaignID)
	if err != nil {
		return err
	}
	if c.JobID == nil || *c.JobID != result.BatchID {
		log.Warn("ignoring result of stale batch")
		return nil
	}

	next, err := Transition(c.Status, eventFor(result))
	if err != nil {
		log.Info("campaign already final", zap.String("status", string(c.Status)))
		return nil
	}
	c.Status = next
	if err := d.Repo.UpdateStatus(ctx, c); err != nil {
		return err
	}
	log.Info("campaign finished",
		zap.String("status", string(next)),
		zap.Int("total", result.TotalJobs),
		zap.Int("failed", result.FailedJobs))

	switch next {
	case model.StatusSent:
		d.notify(ctx, result.InitiatedBy, model.LevelSuccess, "Campaign Sent Successfully",
			fmt.Sprintf("There are %d jobs in the campaign that were sent successfully.", result.TotalJobs))
	case model.StatusSentWithFailure:
		d.notify(ctx, result.InitiatedBy, model.LevelWarning, "Campaign Sent with Failure",
			fmt.Sprintf("There are %d failures in the campaign. Please check the campaign logs.", result.FailedJobs))
	case model.StatusFailed:
		d.notify(ctx, result.InitiatedBy, model.LevelDanger, "Campaign Failed",
			"The campaign could not be delivered. Please check the campaign logs.")
	}
	return nil
}

// Cancel cancels a draft campaign.
func (d *Dispatcher) Cancel(ctx context.Context, campaignID int, actorID string) (*model.Campaign, error) {
	c, err := d.Repo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	next, err := Transition(c.Status, EventCancel)
	if err != nil {
		return nil, err
	}
	c.Status = next
	if err := d.Repo.UpdateStatus(ctx, c); err != nil {
		return nil, err
	}
	d.log().Info("campaign cancelled", zap.Int("campaign_id", campaignID), zap.String("actor", actorID))
	d.notify(ctx, actorID, model.LevelSuccess, "Campaign Cancelled", "The campaign has been cancelled.")
	return c, nil
}

// Reconcile settles campaigns a previous process left queued or sending.
// A campaign whose batch the tracker does not know, or whose unfinished
// batch lived on a transport that did not survive the restart, is failed.
// A batch that finished without its result being applied is finalized.
// It returns how many campaigns it moved.
func (d *Dispatcher) Reconcile(ctx context.Context) (int, error) {
	var inFlight []*model.Campaign
	for _, status := range []model.CampaignStatus{model.StatusQueued, model.StatusSending} {
		for offset := 0; ; offset += reconcilePage {
			page, total, err := d.Repo.ListCampaigns(ctx, offset, reconcilePage, string(status))
			if err != nil {
				return 0, fmt.Errorf("list %s campaigns: %w", status, err)
			}
			inFlight = append(inFlight, page...)
			if len(page) == 0 || offset+len(page) >= total {
				break
			}
		}
	}

	durable := d.Executor.Durable()
	moved := 0
	for _, c := range inFlight {
		ok, err := d.reconcile(ctx, c, durable)
		if err != nil {
			return moved, err
		}
		if ok {
			moved++
		}
	}
	if moved > 0 {
		d.log().Info("reconciled campaigns in flight", zap.Int("moved", moved), zap.Int("checked", len(inFlight)))
	}
	return moved, nil
}

func (d *Dispatcher) reconcile(ctx context.Context, c *model.Campaign, durable bool) (bool, error) {
	if c.JobID == nil {
		return d.failStranded(ctx, c, "", "no batch")
	}
	result, err := d.Executor.Status(ctx, *c.JobID)
	switch {
	case errors.Is(err, appErrors.ErrBatchNotFound):
		return d.failStranded(ctx, c, "", "batch unknown")
	case err != nil:
		return false, fmt.Errorf("status of batch %s: %w", *c.JobID, err)
	case result.FinishedAt != nil:
		if err := d.Finalize(ctx, result); err != nil {
			return false, err
		}
		return true, nil
	case !durable:
		return d.failStranded(ctx, c, result.InitiatedBy, "tasks lost on restart")
	}
	return false, nil
}

func (d *Dispatcher) failStranded(ctx context.Context, c *model.Campaign, initiatedBy, reason string) (bool, error) {
	next, err := Transition(c.Status, EventDispatchFailed)
	if err != nil {
		return false, nil
	}
	c.Status = next
	if err := d.Repo.UpdateStatus(ctx, c); err != nil {
		if errors.Is(err, appErrors.ErrPersistenceConflict) {
			return false, nil
		}
		return false, fmt.Errorf("fail campaign %d: %w", c.ID, err)
	}
	d.log().Warn("stranded campaign failed", zap.Int("campaign_id", c.ID), zap.String("reason", reason))
	d.notify(ctx, initiatedBy, model.LevelDanger, "Campaign Failed",
		"The campaign could not be delivered. Please check the campaign logs.")
	return true, nil
}
