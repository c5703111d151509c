package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// TaskHandler performs one send.
type TaskHandler interface {
	HandleTask(ctx context.Context, task model.SendTask) error
}

// TaskHandlerFunc adapts a function to TaskHandler.
type TaskHandlerFunc func(ctx context.Context, task model.SendTask) error

func (f TaskHandlerFunc) HandleTask(ctx context.Context, task model.SendTask) error {
	return f(ctx, task)
}

// Hooks are called by the executor as batches progress. Started fires once
// per batch when its first task begins; Completed fires once after every
// task of the batch is terminal.
type Hooks struct {
	Started   func(ctx context.Context, batchID string, campaignID int) error
	Completed func(ctx context.Context, result model.BatchResult) error
}

// Batch is a set of send tasks dispatched as a unit.
type Batch struct {
	CampaignID    int
	InitiatedBy   string
	AllowFailures bool
	Tasks         []model.SendTask
}

const (
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 500 * time.Millisecond

	cancelledReason = "batch cancelled"
)

type Option func(*Executor)

func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.backoff = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Executor runs batches of send tasks over a Transport and tracks their
// aggregate outcome in a Tracker.
type Executor struct {
	transport   Transport
	tracker     Tracker
	handler     TaskHandler
	hooks       Hooks
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewExecutor(transport Transport, tracker Tracker, handler TaskHandler, opts ...Option) *Executor {
	e := &Executor{
		transport:   transport,
		tracker:     tracker,
		handler:     handler,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultRetryBackoff,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetHooks installs the batch callbacks. It must be called before Run.
func (e *Executor) SetHooks(h Hooks) {
	e.hooks = h
}

// PendingBatch is a prepared batch whose tasks were not published yet.
type PendingBatch struct {
	ID    string
	tasks []model.SendTask
	exec  *Executor
}

// Prepare registers the batch with the tracker and assigns its id. No task
// runs until Release is called.
func (e *Executor) Prepare(ctx context.Context, b Batch) (*PendingBatch, error) {
	if len(b.Tasks) == 0 {
		return nil, appErrors.NewBatchError("", "prepare", errors.New("batch has no tasks"))
	}

	id := uuid.NewString()
	tasks := make([]model.SendTask, len(b.Tasks))
	for i, t := range b.Tasks {
		t.BatchID = id
		t.Index = i
		t.CampaignID = b.CampaignID
		t.Outcome = model.TaskPending
		tasks[i] = t
	}

	err := e.tracker.Create(ctx, model.BatchResult{
		BatchID:       id,
		CampaignID:    b.CampaignID,
		InitiatedBy:   b.InitiatedBy,
		AllowFailures: b.AllowFailures,
		TotalJobs:     len(tasks),
		CreatedAt:     e.now().UTC(),
	})
	if err != nil {
		return nil, appErrors.NewBatchError(id, "prepare", err)
	}
	return &PendingBatch{ID: id, tasks: tasks, exec: e}, nil
}

// Release publishes every task. If publishing stops part way, the batch is
// cancelled and the unpublished tasks are recorded as failures so the batch
// still reaches a final state.
func (p *PendingBatch) Release(ctx context.Context) error {
	e := p.exec
	for i, task := range p.tasks {
		task.Delay = max(task.RunAt.Sub(e.now()), 0)
		if err := e.transport.Publish(ctx, task); err != nil {
			p.abandon(context.WithoutCancel(ctx), i, err)
			return appErrors.NewBatchError(p.ID, "release", err)
		}
	}
	e.logger.Info("batch released", zap.String("batch_id", p.ID), zap.Int("tasks", len(p.tasks)))
	return nil
}

func (p *PendingBatch) abandon(ctx context.Context, from int, cause error) {
	e := p.exec
	if err := e.tracker.Cancel(ctx, p.ID); err != nil {
		e.logger.Warn("cancel abandoned batch", zap.String("batch_id", p.ID), zap.Error(err))
		return
	}
	for _, task := range p.tasks[from:] {
		failure := &model.TaskFailure{Index: task.Index, SubscriberID: task.SubscriberID, Error: "not published: " + cause.Error()}
		if _, _, err := e.tracker.Record(ctx, p.ID, task.Index, failure); err != nil {
			e.logger.Warn("record unpublished task", zap.String("batch_id", p.ID), zap.Int("index", task.Index), zap.Error(err))
			return
		}
	}
}

// Discard forgets a batch that was never released.
func (p *PendingBatch) Discard(ctx context.Context) error {
	if err := p.exec.tracker.Delete(ctx, p.ID); err != nil {
		return appErrors.NewBatchError(p.ID, "discard", err)
	}
	return nil
}

// Run consumes tasks until ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	err := e.transport.Consume(ctx, e.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Status returns the current aggregate of a batch.
func (e *Executor) Status(ctx context.Context, batchID string) (model.BatchResult, error) {
	return e.tracker.Get(ctx, batchID)
}

// Durable reports whether tasks published by e survive a restart of the
// process. When they do not, a batch left unfinished by a previous process
// can never complete.
func (e *Executor) Durable() bool {
	d, ok := e.transport.(durable)
	return ok && d.Durable()
}

func (e *Executor) handle(ctx context.Context, task model.SendTask) error {
	log := e.logger.With(zap.String("batch_id", task.BatchID), zap.Int("index", task.Index))

	// Transports may deliver early; run_at is a lower bound.
	if wait := task.RunAt.Sub(e.now()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	first, cancelled, err := e.tracker.Begin(ctx, task.BatchID)
	if errors.Is(err, appErrors.ErrBatchNotFound) {
		log.Warn("dropping task of unknown batch")
		return nil
	}
	if err != nil {
		return appErrors.NewBatchError(task.BatchID, "begin", err)
	}
	if first && e.hooks.Started != nil {
		if err := e.hooks.Started(ctx, task.BatchID, task.CampaignID); err != nil {
			log.Warn("batch started hook failed", zap.Error(err))
		}
	}

	var failure *model.TaskFailure
	if cancelled {
		failure = &model.TaskFailure{Index: task.Index, SubscriberID: task.SubscriberID, Error: cancelledReason}
	} else if err := e.attempt(ctx, task); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("task failed", zap.Int("subscriber_id", task.SubscriberID), zap.Error(err))
		failure = &model.TaskFailure{Index: task.Index, SubscriberID: task.SubscriberID, Error: err.Error()}
	}

	result, completed, err := e.tracker.Record(ctx, task.BatchID, task.Index, failure)
	if err != nil {
		return appErrors.NewBatchError(task.BatchID, "record", err)
	}
	if completed {
		e.complete(ctx, result)
	}
	return nil
}

// attempt runs the handler up to maxAttempts times with linear backoff.
func (e *Executor) attempt(ctx context.Context, task model.SendTask) error {
	var err error
	for n := 1; n <= e.maxAttempts; n++ {
		task.Attempt = n
		if err = e.handler.HandleTask(ctx, task); err == nil {
			return nil
		}
		if IsPermanent(err) || n == e.maxAttempts {
			break
		}
		if werr := sleep(ctx, time.Duration(n)*e.backoff); werr != nil {
			return werr
		}
	}
	return appErrors.NewTaskError(task.SubscriberID, err)
}

// complete delivers the final result. Only one caller reaches here per
// batch, so the hook is retried instead of relying on redelivery.
func (e *Executor) complete(ctx context.Context, result model.BatchResult) {
	log := e.logger.With(zap.String("batch_id", result.BatchID), zap.Int("campaign_id", result.CampaignID))
	log.Info("batch finished",
		zap.String("outcome", string(result.Outcome())),
		zap.Int("total", result.TotalJobs),
		zap.Int("failed", result.FailedJobs))

	if e.hooks.Completed == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for n := 1; n <= e.maxAttempts; n++ {
		err := e.hooks.Completed(ctx, result)
		if err == nil {
			return
		}
		log.Warn("batch completed hook failed", zap.Int("attempt", n), zap.Error(err))
		if n < e.maxAttempts {
			time.Sleep(time.Duration(n) * e.backoff)
		}
	}
	log.Error(fmt.Sprintf("batch result not applied after %d attempts", e.maxAttempts))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
