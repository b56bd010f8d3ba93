// Package app wires the services together: config, logging, storage,
// holiday calendar, scheduler, reminder service, Telegram transport and
// the maintenance cron.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/config"
	"remindbot/internal/holiday"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/session"
	"remindbot/internal/store"
	telegram "remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

const (
	defaultStorePath   = "./data/reminders.json"
	defaultHolidayPath = "./data/holiday.json"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger

	repo    *store.Repository
	cal     *holiday.Calendar
	sched   *scheduler.Service
	svc     *reminder.Service
	adapter *telegram.Adapter // nil when telegram is disabled

	maint *cron.Cron
	sup   *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	appLog := log.With(logx.String("comp", "app"))

	busyTimeout, err := parseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	storePath := cfg.Storage.Path
	if strings.TrimSpace(storePath) == "" {
		storePath = defaultStorePath
	}
	drv, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        storePath,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	repo := store.NewRepository(drv, log.With(logx.String("comp", "store")))
	if err := repo.Load(); err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	cacheTTL, err := parseDurationOrDefault("holiday.cache_ttl", cfg.Holiday.CacheTTL, holiday.DefaultTTL)
	if err != nil {
		return nil, err
	}
	holidayPath := cfg.Holiday.CachePath
	if strings.TrimSpace(holidayPath) == "" {
		holidayPath = defaultHolidayPath
	}
	cal := holiday.New(holiday.Config{
		BaseURL:   cfg.Holiday.BaseURL,
		CachePath: holidayPath,
		TTL:       cacheTTL,
	}, log.With(logx.String("comp", "holiday")))

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone},
		log.With(logx.String("comp", "scheduler")))

	resolver := session.NewResolver(nil, repo.Partitions)

	svc := reminder.NewService(repo, sched, resolver, cal, nil,
		mapReminderConfig(cfg), log.With(logx.String("comp", "reminder")))
	sched.SetFireFunc(svc.HandleFire)

	var adapter *telegram.Adapter
	if cfg.Telegram.Enabled {
		pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		adapter, err = telegram.New(telegram.Config{
			Token:             cfg.Telegram.Token,
			PollTimeout:       pollTimeout,
			MentionOnReminder: boolOr(cfg.Reminder.MentionOnReminder, true),
			MentionOnTask:     boolOr(cfg.Reminder.MentionOnTask, true),
			MentionOnCommand:  boolOr(cfg.Reminder.MentionOnCommand, false),
		}, svc, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		svc.SetDelivery(adapter)
	} else {
		appLog.Info("telegram disabled, deliveries go to the log only")
	}

	return &App{
		cfgm:    cfgm,
		log:     appLog,
		repo:    repo,
		cal:     cal,
		sched:   sched,
		svc:     svc,
		adapter: adapter,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.svc.Restore()
	a.sched.Start(a.sup.Context())
	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if err := a.startMaintenance(); err != nil {
		return err
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	updates := a.cfgm.Subscribe(1)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.log.Info("started", logx.Int("items", a.repo.CountAll()))
	return nil
}

// startMaintenance arms the nightly jobs: purge of expired one-shots and a
// holiday-data prefetch (current year, plus next year from December on).
func (a *App) startMaintenance() error {
	loc := time.Local
	if tz := strings.TrimSpace(a.cfgm.Get().Scheduler.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	a.maint = cron.New(cron.WithLocation(loc))
	if _, err := a.maint.AddFunc("0 0 * * *", func() {
		a.svc.Purge()
		a.prefetchHolidays()
	}); err != nil {
		return fmt.Errorf("maintenance cron: %w", err)
	}
	a.maint.Start()

	// Warm the holiday cache once at startup too.
	a.sup.Go0("holiday.prefetch", func(context.Context) { a.prefetchHolidays() })
	return nil
}

func (a *App) prefetchHolidays() {
	now := time.Now()
	years := []int{now.Year()}
	if now.Month() == time.December {
		years = append(years, now.Year()+1)
	}
	a.cal.Prefetch(a.sup.Context(), years...)
}

// applyConfig re-applies the hot-reloadable settings: log level and the
// reminder creation policy. Everything else needs a restart.
func (a *App) applyConfig(cfg *config.Config) {
	logx.SetGlobalLevel(cfg.Logging.Level)
	a.svc.Apply(mapReminderConfig(cfg))
	a.log.Info("config re-applied",
		logx.String("level", cfg.Logging.Level),
		logx.Int("max_items", cfg.Reminder.MaxItems))
}

func (a *App) Stop(ctx context.Context) error {
	if a.maint != nil {
		<-a.maint.Stop().Done()
	}
	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}
	a.sched.Stop(ctx)
	if err := a.repo.Save(); err != nil {
		a.log.Error("final save failed", logx.Err(err))
	}
	_ = a.repo.Close()

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	a.log.Info("stopped")
	return err
}

func mapReminderConfig(cfg *config.Config) reminder.Config {
	return reminder.Config{
		MaxItems:      cfg.Reminder.MaxItems,
		UniqueSession: cfg.Reminder.UniqueSession,
		Whitelist:     cfg.Reminder.Whitelist,
		CommandPrefix: cfg.Reminder.Prefix(),
	}
}

func parseDurationOrDefault(name, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
