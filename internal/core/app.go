package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"venuebot/internal/services/notify"
	"venuebot/internal/services/scheduler"
	"venuebot/internal/storage"
	kit "venuebot/internal/transport"
	"venuebot/internal/transport/telegram"
	"venuebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter

	sched *scheduler.Service
	notif *notify.Service
	store storage.Store

	cmdm *CommandManager
	pm   *PluginManager

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Adapter config mapping
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Logging service mapping
	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, ad)
	log = log.With(logx.String("comp", "app"))

	// Set Telegram log target (chat + thread)
	if strings.TrimSpace(cfg.Telegram.GroupLog) != "" {
		if chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64); err == nil {
			logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
		}
	}

	// Services mapping
	defaultTimeout, err := parseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	schedSvc := scheduler.New(scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Workers:        cfg.Scheduler.Workers,
		DefaultTimeout: defaultTimeout,
		HistorySize:    cfg.Scheduler.HistorySize,
		Timezone:       cfg.Scheduler.Timezone,
		RetryMax:       cfg.Scheduler.RetryMax,
	}, log.With(logx.String("comp", "scheduler")))

	notifSvc := notify.New(notifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")))

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	serv := &Services{
		Scheduler: schedSvc,
		Notifier:  notifSvc,
	}
	if store != nil {
		serv.Storage = store
	}

	cmdm := NewCommandManager(log.With(logx.String("comp", "commands")),
		ad, cfgm, serv, cfg.Telegram.OwnerUserIDs)

	pm := NewPluginManager(log.With(logx.String("comp", "plugins")),
		cfgm, PluginDeps{
			Logger:      log,
			Adapter:     ad,
			Config:      cfgm,
			Services:    serv,
			OwnerUserID: cfg.Telegram.OwnerUserIDs,
		}, cmdm)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		sched:   schedSvc,
		notif:   notifSvc,
		store:   store,
		cmdm:    cmdm,
		pm:      pm,
		updates: make(chan kit.Update, 256),
	}, nil
}

// notifierConfig maps the optional config section to service config.
// An omitted section means "enabled with defaults".
func notifierConfig(cfg *Config) notify.Config {
	if cfg.Notifier == nil {
		return notify.Config{Enabled: true}
	}
	return notify.Config{
		Enabled:    cfg.Notifier.Enabled,
		Workers:    cfg.Notifier.Workers,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func storageConfig(cfg *Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	busy, err := parseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		busy = 0
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func (a *App) Plugins() *PluginManager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
			// global validation
			if cfg.Scheduler.Workers < 0 {
				return fmt.Errorf("scheduler.workers must be >= 0")
			}
			if cfg.Scheduler.RetryMax < 0 {
				return fmt.Errorf("scheduler.retry_max must be >= 0")
			}
			// duration/timezone validation (reject bad hot-reload)
			if _, err := parseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout); err != nil {
				return err
			}
			if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
				return err
			}
			if cfg.Storage != nil {
				if _, err := parseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
					return err
				}
			}
			if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
				}
			}
			// per-plugin validation
			if a.pm != nil {
				return a.pm.ValidateConfig(c, cfg)
			}
			return nil
		})
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(c context.Context, newCfg *Config) {
	// apply logging updates
	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    newCfg.Logging.Telegram.Enabled,
			ThreadID:   newCfg.Logging.Telegram.ThreadID,
			MinLevel:   newCfg.Logging.Telegram.MinLevel,
			RatePerSec: newCfg.Logging.Telegram.RatePerSec,
		},
	})

	// update log target
	if strings.TrimSpace(newCfg.Telegram.GroupLog) != "" {
		if chatID, err := strconv.ParseInt(strings.TrimSpace(newCfg.Telegram.GroupLog), 10, 64); err == nil {
			a.logs.SetTelegramTarget(chatID, newCfg.Logging.Telegram.ThreadID)
		}
	} else {
		// allow clearing target via config hot-reload
		a.logs.SetTelegramTarget(0, 0)
	}

	// Update owner list used for AccessOwnerOnly checks and plugin deps.
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.pm.SetOwnerUserIDs(newCfg.Telegram.OwnerUserIDs)

	// apply scheduler updates (live)
	prevSchedEnabled := a.sched.Enabled()
	newDefaultTimeout, err := parseDurationField("scheduler.default_timeout", newCfg.Scheduler.DefaultTimeout)
	if err != nil {
		a.log.Warn("invalid scheduler.default_timeout; using 0", logx.Err(err))
		newDefaultTimeout = 0
	}
	a.sched.Apply(scheduler.Config{
		Enabled:        newCfg.Scheduler.Enabled,
		Workers:        newCfg.Scheduler.Workers,
		DefaultTimeout: newDefaultTimeout,
		HistorySize:    newCfg.Scheduler.HistorySize,
		Timezone:       newCfg.Scheduler.Timezone,
		RetryMax:       newCfg.Scheduler.RetryMax,
	})

	// enable/disable scheduler on the fly
	if prevSchedEnabled && !newCfg.Scheduler.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	} else if !prevSchedEnabled && newCfg.Scheduler.Enabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(c)
	}

	// apply notifier updates (live)
	prevNotifEnabled := a.notif.Enabled()
	ncfg := notifierConfig(newCfg)
	a.notif.Apply(ncfg)
	if prevNotifEnabled && !ncfg.Enabled {
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	} else if !prevNotifEnabled && ncfg.Enabled {
		a.log.Info("notifier enabled via config")
		a.notif.Start(c)
	}

	// Storage driver/path changes require a restart; warn instead of swapping
	// a live database out from under plugins.
	// (Everything else above hot-reloads.)

	// apply plugin enable/disable + per-plugin config
	a.pm.OnConfigUpdate(c, newCfg)

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, budget time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", budget))

		stepCtx := ctx
		var cancel context.CancelFunc
		if budget > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					budget = 0
				} else if rem < budget {
					budget = rem
				}
			}
			if budget > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, budget)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop plugins first (they may depend on services). StopAll is timeout-safe per-plugin.
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })

	// Stop services (order: scheduler/notifier/adapter/storage)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 1*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	if a.store != nil {
		step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	}

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
