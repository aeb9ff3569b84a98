package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/event-messaging/internal/api"
	"github.com/LeventeLantos/event-messaging/internal/cache"
	"github.com/LeventeLantos/event-messaging/internal/client"
	"github.com/LeventeLantos/event-messaging/internal/config"
	"github.com/LeventeLantos/event-messaging/internal/events"
	"github.com/LeventeLantos/event-messaging/internal/model"
	"github.com/LeventeLantos/event-messaging/internal/phone"
	"github.com/LeventeLantos/event-messaging/internal/reminder"
	"github.com/LeventeLantos/event-messaging/internal/repo"
	"github.com/LeventeLantos/event-messaging/internal/retry"
	"github.com/LeventeLantos/event-messaging/internal/scheduler"
	"github.com/LeventeLantos/event-messaging/internal/service"
)

// app holds every long-lived component of the server.
type app struct {
	db        *sql.DB
	rdb       *redis.Client
	publisher events.Publisher

	sched   *scheduler.Scheduler
	invites *service.InviteQueue
	handler http.Handler

	log *slog.Logger
}

func newDispatcher(cfg *config.Config, logger *slog.Logger) *service.Dispatcher {
	wa := client.NewWhatsAppClient(client.WhatsAppConfig{
		BaseURL:       cfg.WhatsApp.BaseURL,
		APIVersion:    cfg.WhatsApp.APIVersion,
		AccessToken:   cfg.WhatsApp.AccessToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		Timeout:       cfg.WhatsApp.Timeout,
	})

	policy := retry.Policy{
		MaxRetries:          cfg.Retry.MaxRetries,
		BaseDelay:           cfg.Retry.BaseDelay,
		MaxDelay:            cfg.Retry.MaxDelay,
		RateLimitMultiplier: cfg.Retry.RateLimitMultiplier,
		Logger:              logger,
	}

	phones := phone.NewNormalizer(cfg.WhatsApp.DefaultCountryCode)
	return service.NewDispatcher(wa, phones, policy, cfg.Templates.Language)
}

func templatesFrom(cfg config.TemplateConfig) service.Templates {
	return service.Templates{
		Language:            cfg.Language,
		Invitation:          cfg.Invitation,
		Reminder12h:         cfg.Reminder12h,
		Reminder3h:          cfg.Reminder3h,
		BookingConfirmation: cfg.BookingConfirmation,
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{log: logger}

	db, err := repo.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.db = db

	deduper, err := a.newDeduper(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Events.Enabled {
		pub, err := events.NewRabbitPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
	} else {
		a.publisher = events.NewLogPublisher(logger)
	}

	tokens := repo.NewTokenRepo(db)
	participants := repo.NewParticipantRepo(db)
	eventRepo := repo.NewEventRepo(db)

	phones := phone.NewNormalizer(cfg.WhatsApp.DefaultCountryCode)
	templates := templatesFrom(cfg.Templates)

	dispatcher := newDispatcher(cfg, logger)
	notifier := service.NewNotifier(dispatcher, tokens, phones, logger)

	correlator := service.NewCorrelator(tokens, participants, phones, logger).
		WithDeduper(deduper).
		WithPublisher(a.publisher).
		WithConfirmationTemplate(cfg.Templates.BookingConfirmation)

	job := reminder.NewJob(eventRepo, participants, notifier, templates, []reminder.Tier{
		{Tier: model.Tier12h, Window: cfg.Reminder.Window12h},
		{Tier: model.Tier3h, Window: cfg.Reminder.Window3h},
	}, logger)

	sched, err := scheduler.New("reminders", cfg.Reminder.Interval, job.Run, scheduler.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sched = sched

	a.invites = service.NewInviteQueue(notifier, eventRepo, participants, templates,
		cfg.Invites.Delay, cfg.Invites.QueueSize, logger)

	h := api.NewHandler(api.Deps{
		Scheduler:    sched,
		Tokens:       tokens,
		Participants: participants,
		Sender:       dispatcher,
		Notifier:     notifier,
		Correlator:   correlator,
		Invites:      a.invites,
		VerifyToken:  cfg.WhatsApp.VerifyToken,
		Logger:       logger,
	})
	a.handler = loggingMiddleware(api.Router(h))

	return a, nil
}

func (a *app) newDeduper(ctx context.Context, cfg config.RedisConfig) (cache.Deduper, error) {
	if !cfg.Enabled {
		a.log.Info("redis disabled, webhook dedup is in-process only")
		return cache.NewMemoryDeduper(cfg.TTL), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.rdb = rdb
	return cache.NewRedisDeduper(rdb, cfg.TTL), nil
}

func (a *app) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
