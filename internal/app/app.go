// Package app wires repositories, the batch executor and the dispatcher
// into the pieces the server and worker binaries run.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/lock"
	"github.com/unclebandit/campaign-dispatch/internal/mailer"
	"github.com/unclebandit/campaign-dispatch/internal/notify"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger

	CampaignRepo     *repository.CampaignRepository
	SubscriberRepo   *repository.SubscriberRepository
	LogRepo          *repository.CampaignLogRepository
	NotificationRepo *repository.NotificationRepository

	CampaignService *service.CampaignService
	Dispatcher      *service.Dispatcher
	Executor        *queue.Executor

	transport queue.Transport
}

// New builds the application over an open database. rdb may be nil when
// Redis is not configured; the memory tracker and Postgres advisory locks
// are used then.
func New(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Dispatch.Tracker == config.TrackerRedis && rdb == nil {
		return nil, errors.New("redis tracker configured without a redis client")
	}

	a := &App{
		Config:           cfg,
		Logger:           log,
		CampaignRepo:     &repository.CampaignRepository{DB: db},
		SubscriberRepo:   &repository.SubscriberRepository{DB: db},
		LogRepo:          &repository.CampaignLogRepository{DB: db},
		NotificationRepo: &repository.NotificationRepository{DB: db},
	}

	renderer := service.NewLiquidRenderer()
	sender, err := mailer.New(ctx, cfg.Mailer, log.Named("mailer"))
	if err != nil {
		return nil, err
	}

	transport, err := newTransport(cfg, log)
	if err != nil {
		return nil, err
	}
	a.transport = transport

	worker := &service.SendWorker{
		CampaignRepo:   a.CampaignRepo,
		SubscriberRepo: a.SubscriberRepo,
		LogRepo:        a.LogRepo,
		Renderer:       renderer,
		Sender:         sender,
		Logger:         log.Named("worker"),
	}
	a.Executor = queue.NewExecutor(transport, newTracker(cfg, rdb), worker,
		queue.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		queue.WithRetryBackoff(cfg.Dispatch.RetryBackoff),
		queue.WithLogger(log.Named("executor")))

	notifier := notify.Multi{&notify.DatabaseNotifier{Repo: a.NotificationRepo, Logger: log}}
	if rdb != nil {
		notifier = append(notifier, &notify.RedisNotifier{Client: rdb, Logger: log})
	}

	a.Dispatcher = &service.Dispatcher{
		Repo:     a.CampaignRepo,
		Executor: a.Executor,
		Locker:   lock.NewLocker(rdb, db, cfg.Dispatch.LockTTL),
		Notifier: notifier,
		Spacing:  cfg.Dispatch.Spacing,
		Logger:   log.Named("dispatcher"),
	}
	a.Executor.SetHooks(queue.Hooks{
		Started:   a.Dispatcher.OnBatchStarted,
		Completed: a.Dispatcher.Finalize,
	})

	a.CampaignService = &service.CampaignService{
		CampaignRepo:   a.CampaignRepo,
		SubscriberRepo: a.SubscriberRepo,
		LogRepo:        a.LogRepo,
		Renderer:       renderer,
	}
	return a, nil
}

func newTransport(cfg *config.Config, log *zap.Logger) (queue.Transport, error) {
	switch cfg.Dispatch.Mode {
	case config.ModeAMQP:
		return queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue, cfg.Dispatch.Workers, log.Named("amqp"))
	case config.ModeMemory, "":
		return queue.NewMemoryTransport(cfg.Dispatch.Workers, log.Named("transport")), nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", cfg.Dispatch.Mode)
	}
}

func newTracker(cfg *config.Config, rdb *redis.Client) queue.Tracker {
	if cfg.Dispatch.Tracker == config.TrackerRedis {
		return queue.NewRedisTracker(rdb, cfg.Dispatch.BatchRetention)
	}
	return queue.NewMemoryTracker()
}

// OpenRedis connects to Redis when it is configured and returns nil
// otherwise.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Router returns the HTTP API.
func (a *App) Router() http.Handler {
	ctrl := &controller.CampaignController{
		CampaignService: a.CampaignService,
		Dispatcher:      a.Dispatcher,
		Logger:          a.Logger,
	}
	h := &handler.CampaignHandler{
		Service:       a.CampaignService,
		Batches:       a.Executor,
		Notifications: a.NotificationRepo,
		Logger:        a.Logger,
	}
	return controller.NewRouter(ctrl, h, a.Config.Server.AllowedOrigins, a.Logger.Named("http"))
}

// RunsInProcess reports whether tasks are executed by the process that
// dispatches them.
func (a *App) RunsInProcess() bool {
	return a.Config.Dispatch.Mode != config.ModeAMQP
}

// Close releases the task transport.
func (a *App) Close() error {
	return a.transport.Close()
}
