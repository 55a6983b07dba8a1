// Package app builds the engine's object graph from configuration. Both the
// HTTP server and the worker commands start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/controller"
	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/outcome"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/schedule"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type App struct {
	Config config.Config
	Logger *zap.Logger
	DB     *sqlx.DB
	Redis  redis.UniversalClient
	Queue  queue.Queue

	Campaigns   *service.CampaignService
	SendJob     *service.SendQueueJob
	Poller      *service.ReplyPoller
	Connections *service.ConnectionPoller

	closers []func() error
}

// New connects to Postgres, the optional Redis cache and the optional broker,
// and wires repositories, provider client and jobs.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	conn, err := db.Open(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)

	calendar := schedule.DefaultCalendar()
	if cfg.Schedule.CalendarFile != "" {
		data, err := os.ReadFile(cfg.Schedule.CalendarFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("read calendar: %w", err)
		}
		if calendar, err = schedule.LoadCalendar(data); err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("calendar loaded", zap.String("file", cfg.Schedule.CalendarFile), zap.String("version", calendar.Version))
	}

	var client provider.Client = provider.NewUnipileClient(provider.UnipileOptions{
		BaseURL:           cfg.Unipile.BaseURL(),
		APIKey:            cfg.Unipile.APIKey,
		Timeout:           cfg.Unipile.Timeout,
		RequestsPerSecond: cfg.Unipile.RequestsPerSecond,
		Burst:             cfg.Unipile.Burst,
		BreakerFailures:   cfg.Unipile.BreakerFailures,
		BreakerCooldown:   cfg.Unipile.BreakerCooldown,
		Logger:            logger.Named("unipile"),
	})
	if cfg.Redis.Enabled() {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, a.Redis.Close)
		client = provider.NewCachedClient(client, a.Redis, cfg.Redis.ResolveTTL, logger.Named("cache"))
	}

	if cfg.AMQP.Enabled() {
		q, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.MaxRetries, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	} else {
		a.Queue = queue.NewInMemoryQueue(logger)
		if err := queue.StartAlertSubscriber(a.Queue, logger.Named("alerts")); err != nil {
			a.Close()
			return nil, err
		}
		if err := queue.StartReplyEventSubscriber(a.Queue, logger.Named("replies")); err != nil {
			a.Close()
			return nil, err
		}
	}
	notifier := &queue.Notifier{Queue: a.Queue, Logger: logger}

	queueRepo := &repository.QueueRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	accountRepo := &repository.AccountRepository{DB: conn}
	prospectRepo := &repository.ProspectRepository{DB: conn}
	historyRepo := &repository.HistoryRepository{DB: conn}
	draftRepo := &repository.DraftRepository{DB: conn}

	hours := schedule.Settings{
		WorkingHoursStart: cfg.Schedule.WorkingHoursStart,
		WorkingHoursEnd:   cfg.Schedule.WorkingHoursEnd,
	}

	a.Campaigns = &service.CampaignService{
		CampaignRepo: campaignRepo,
		ProspectRepo: prospectRepo,
		QueueRepo:    queueRepo,
		Calendar:     calendar,
		Hours:        hours,
		Logger:       logger.Named("campaigns"),
	}
	a.SendJob = &service.SendQueueJob{
		Queue: queueRepo,
		Selector: &service.Selector{
			Queue:     queueRepo,
			Campaigns: campaignRepo,
			Accounts:  accountRepo,
			Prospects: prospectRepo,
			Calendar:  calendar,
			Limits:    cfg.Limits,
			Hours:     hours,
			Logger:    logger.Named("selector"),
		},
		Dispatcher: &service.Dispatcher{
			Queue:      queueRepo,
			Campaigns:  campaignRepo,
			Prospects:  prospectRepo,
			History:    historyRepo,
			Provider:   client,
			Classifier: outcome.Default(),
			Notifier:   notifier,
			Logger:     logger.Named("dispatch"),
		},
		BatchSize:  cfg.Job.BatchSize,
		Timeout:    cfg.Job.Timeout,
		StaleAfter: cfg.Job.StaleAfter,
		Logger:     logger,
	}
	a.Poller = &service.ReplyPoller{
		Prospects:     prospectRepo,
		Queue:         queueRepo,
		Drafts:        draftRepo,
		Provider:      client,
		Notifier:      notifier,
		Logger:        logger,
		ChatsLimit:    cfg.Job.ChatsLimit,
		MessagesLimit: cfg.Job.MessagesLimit,
		RepliedWindow: cfg.Job.RepliedWindow,
		DraftTTL:      cfg.Job.DraftTTL,
		Timeout:       cfg.Job.Timeout,
	}
	a.Connections = &service.ConnectionPoller{
		Prospects:    prospectRepo,
		Queue:        queueRepo,
		Provider:     client,
		Calendar:     calendar,
		Logger:       logger,
		BatchSize:    cfg.Job.ConnectionBatch,
		DeclineAfter: cfg.Job.DeclineAfter,
		Timeout:      cfg.Job.Timeout,
	}
	return a, nil
}

// Controllers returns the HTTP controllers bound to this app.
func (a *App) Controllers() (*controller.CampaignController, *controller.CronController) {
	return &controller.CampaignController{CampaignService: a.Campaigns, Logger: a.Logger},
		&controller.CronController{Send: a.SendJob, Replies: a.Poller, Connections: a.Connections, Secret: a.Config.CronSecret, Logger: a.Logger}
}

// Worker returns the ticker loop driving the jobs.
func (a *App) Worker() *service.Worker {
	w := service.NewWorker(a.SendJob, a.Poller, a.Config.Job.SendInterval, a.Config.Job.ReplyInterval, a.Logger)
	w.Connections = a.Connections
	w.ConnectionInterval = a.Config.Job.ConnectionInterval
	return w
}

// Ping checks the backing stores.
func (a *App) Ping(ctx context.Context) error {
	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
