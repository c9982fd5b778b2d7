// Package app wires the bot together: config, logging, transport, storage,
// scheduling, the tracker, and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/runasharp/telegram-hotel-bot/internal/config"
	"github.com/runasharp/telegram-hotel-bot/internal/eventbus"
	"github.com/runasharp/telegram-hotel-bot/internal/extract"
	"github.com/runasharp/telegram-hotel-bot/internal/notifier"
	"github.com/runasharp/telegram-hotel-bot/internal/router"
	"github.com/runasharp/telegram-hotel-bot/internal/runtime/supervisor"
	"github.com/runasharp/telegram-hotel-bot/internal/storage"
	"github.com/runasharp/telegram-hotel-bot/internal/task/scheduler"
	"github.com/runasharp/telegram-hotel-bot/internal/tracker"
	"github.com/runasharp/telegram-hotel-bot/internal/transport/telegram"
	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	logSvc *logx.Service
	log    logx.Logger

	bus     *eventbus.Bus
	sup     *supervisor.Supervisor
	adapter *telegram.Adapter
	store   storage.Store
	extract *extract.Client
	notify  *notifier.Service
	sched   *scheduler.Service

	items  *tracker.Store
	poller *tracker.Poller
	routes *router.Manager
}

// New loads configuration and constructs every component. Nothing runs yet;
// call Start.
func New(ctx context.Context, configPath string) (*App, error) {
	cfgm := config.NewManager(configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	if cfg.Telegram.Token == "" {
		// Token via environment keeps secrets out of the config file.
		cfg.Telegram.Token = os.Getenv("TOKEN")
	}
	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("no telegram token: set telegram.token or the TOKEN env var")
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	cfgm.SetLogger(log.With(logx.String("svc", "config")))

	bus := eventbus.New()

	store, err := storage.Open(ctx, mapStorageConfig(cfg.Storage), log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.ParseDurationOrDefault(cfg.Telegram.PollTimeout, 10*time.Second),
	}, log)
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}

	extractor := extract.New(mapExtractorConfig(cfg.Extractor), log)
	notify := notifier.New(mapNotifierConfig(cfg.Notifier), adapter, store, bus, log)

	sup := supervisor.New(ctx, supervisor.WithLogger(log))
	sched, err := scheduler.New(log, sup, scheduler.Config{Enabled: true})
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}

	items := tracker.NewStore()
	poller := tracker.NewPoller(mapTrackerConfig(cfg.Tracker), items, extractor, notify, store, bus, log)
	handlers := tracker.NewHandlers(items, poller, log)

	routes := router.NewManager(adapter, 4, log)
	if err := routes.Register(handlers.Commands()...); err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}
	routes.SetFallback(handlers.Fallback)

	return &App{
		cfgm:    cfgm,
		cfg:     cfg,
		logSvc:  logSvc,
		log:     log,
		bus:     bus,
		sup:     sup,
		adapter: adapter,
		store:   store,
		extract: extractor,
		notify:  notify,
		sched:   sched,
		items:   items,
		poller:  poller,
		routes:  routes,
	}, nil
}

// Start brings the bot up: adapter polling, the notifier pool, the poll
// schedule, command dispatch, and config hot-reload.
func (a *App) Start(ctx context.Context) error {
	a.cfgm.SetValidator(func(c *config.Config) error {
		if c.Telegram.Token == "" && os.Getenv("TOKEN") == "" {
			return fmt.Errorf("telegram token missing")
		}
		return nil
	})

	updates, err := a.adapter.Start(ctx)
	if err != nil {
		return err
	}
	if err := a.notify.Start(ctx); err != nil {
		return err
	}
	if err := a.poller.Register(a.sched); err != nil {
		return err
	}
	a.sched.Start()

	a.sup.Go0("commands.dispatch", func(ctx context.Context) {
		a.routes.DispatchLoop(ctx, updates)
	})
	a.sup.Go0("commands.menu", func(ctx context.Context) {
		a.routes.PublishMenu(ctx)
	})

	a.sup.Go0("bus.debuglog", func(ctx context.Context) {
		events, unsub := a.bus.Subscribe(64)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("topic", ev.Topic), logx.Any("data", ev.Data))
			}
		}
	})

	a.sup.Go0("config.reload", func(ctx context.Context) {
		snaps, unsub := a.cfgm.Subscribe()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-snaps:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("bot started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyReload pushes a fresh config snapshot into live components. Storage
// is the exception: driver changes need a restart.
func (a *App) applyReload(cfg *config.Config) {
	prev := a.cfg
	a.cfg = cfg

	a.logSvc.Apply(mapLoggingConfig(cfg.Logging))
	a.extract.Apply(mapExtractorConfig(cfg.Extractor))
	a.notify.Apply(mapNotifierConfig(cfg.Notifier))
	if err := a.poller.Apply(mapTrackerConfig(cfg.Tracker), a.sched); err != nil {
		a.log.Warn("poll reschedule failed", logx.Err(err))
	}

	if prev != nil && storageChanged(prev.Storage, cfg.Storage) {
		a.log.Warn("storage config changed; restart required to apply")
	}
	a.log.Info("config applied")
}

// Stop shuts components down in reverse dependency order, each under its own
// deadline slice of ctx.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	step := func(name string, d time.Duration, fn func(ctx context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		if err := fn(sctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", name, err)
		}
		if err := sctx.Err(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", name, err)
		}
	}

	step("scheduler", 10*time.Second, a.sched.Stop)
	step("notifier", 10*time.Second, a.notify.Stop)
	step("adapter", 10*time.Second, a.adapter.Stop)

	a.sup.Cancel()
	step("workers", 10*time.Second, func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			_ = a.sup.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	a.bus.Close()
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stop storage: %w", err)
	}

	a.log.Info("bot stopped")
	a.logSvc.Close()
	return firstErr
}

func storageChanged(a, b *config.StorageConfig) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return *a != *b
}

// ---- config mapping ----

func mapLoggingConfig(c config.LoggingConfig) logx.Config {
	console := true
	if c.Console != nil {
		console = *c.Console
	}
	return logx.Config{
		Level:   c.Level,
		Console: console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func mapStorageConfig(c *config.StorageConfig) storage.Config {
	if c == nil {
		return storage.Config{Driver: "none"}
	}
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: config.ParseDurationOrDefault(c.BusyTimeout, 5*time.Second),
	}
}

func mapExtractorConfig(c config.ExtractorConfig) extract.Config {
	return extract.Config{
		Timeout:    config.ParseDurationOrDefault(c.Timeout, 10*time.Second),
		UserAgent:  c.UserAgent,
		PriceClass: c.PriceClass,
	}
}

func mapTrackerConfig(c config.TrackerConfig) tracker.PollerConfig {
	return tracker.PollerConfig{
		Interval:     config.ParseDurationOrDefault(c.Interval, 150*time.Second),
		InitialDelay: config.ParseDurationOrDefault(c.InitialDelay, 10*time.Second),
		Currency:     c.Currency,
	}
}

func mapNotifierConfig(c *config.NotifierConfig) notifier.Config {
	out := notifier.Config{Enabled: true, DedupWindow: 24 * time.Hour}
	if c == nil {
		return out
	}
	if c.Enabled != nil {
		out.Enabled = *c.Enabled
	}
	out.Workers = c.Workers
	out.QueueSize = c.QueueSize
	out.RatePerSec = c.RatePerSec
	out.RetryMax = c.RetryMax
	out.RetryBase = config.ParseDurationOrDefault(c.RetryBase, 0)
	out.RetryMaxDelay = config.ParseDurationOrDefault(c.RetryMaxDelay, 0)
	out.DedupWindow = config.ParseDurationOrDefault(c.DedupWindow, 24*time.Hour)
	out.PersistDedup = c.PersistDedup
	return out
}
