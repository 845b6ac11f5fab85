package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"venuebot/internal/core"
	"venuebot/pkg/logx"
	booking "venuebot/pkg/venue"
)

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string {
	return "venue"
}

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.RemoveSchedule("book")
	p.RemoveSchedule("prewarm")
	p.RemoveSchedule("maintain")
	return p.StopBase(ctx)
}

// ValidateConfig rejects configs that would register broken schedules or
// unusable targets, before anything is applied.
func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	c = withDefaults(c)

	for _, at := range []struct{ name, v string }{
		{"booking_at", c.BookingAt},
		{"prewarm_at", c.PrewarmAt},
	} {
		if _, _, _, err := core.ParseClock(at.v); err != nil {
			return fmt.Errorf("%s: %w", at.name, err)
		}
	}
	for _, d := range []struct{ name, v string }{
		{"maintain_every", c.MaintainEvery},
		{"request_delay", c.RequestDelay},
		{"max_cycle", c.MaxCycle},
	} {
		if _, err := time.ParseDuration(d.v); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	if c.LoginTimeout != "" {
		if _, err := time.ParseDuration(c.LoginTimeout); err != nil {
			return fmt.Errorf("login_timeout: %w", err)
		}
	}
	for i, t := range c.Targets {
		if _, _, ok := booking.SplitWindow(t.Window); !ok {
			return fmt.Errorf("targets[%d]: invalid window %q (want HH:MM-HH:MM)", i, t.Window)
		}
		if t.Venue == "" || t.Project == "" || t.Campus == "" {
			return fmt.Errorf("targets[%d]: venue, project and campus codes are required", i)
		}
	}
	if len(c.Targets) > 0 && c.AccountID == "" {
		return fmt.Errorf("account_id required when targets are configured")
	}
	return nil
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	c = withDefaults(c)

	if err := p.rebuild(c); err != nil {
		return err
	}

	maxCycle := mustDuration(c.MaxCycle, 6*time.Minute)

	// Schedules upsert by name, so reapplying a changed config just moves
	// the triggers. The booking timeout gets headroom past the cycle's own
	// deadline so the engine, not the scheduler, ends the run.
	if _, err := p.Daily("book", c.BookingAt, maxCycle+time.Minute, p.jobBookingCycle); err != nil {
		return fmt.Errorf("schedule booking: %w", err)
	}
	if _, err := p.Daily("prewarm", c.PrewarmAt, 5*time.Minute, p.jobPrewarm); err != nil {
		return fmt.Errorf("schedule prewarm: %w", err)
	}
	every := mustDuration(c.MaintainEvery, 30*time.Minute)
	if _, err := p.Every("maintain", every, 5*time.Minute, p.jobMaintain); err != nil {
		return fmt.Errorf("schedule maintain: %w", err)
	}

	p.Log.Info("config applied",
		logx.Int("targets", len(c.Targets)),
		logx.String("booking_at", c.BookingAt),
		logx.String("prewarm_at", c.PrewarmAt),
		logx.String("maintain_every", c.MaintainEvery))
	return nil
}

// rebuild recreates the domain objects from config. The session store is
// only swapped when its path changes, so a live session survives unrelated
// config reloads.
func (p *Plugin) rebuild(c Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prevPath := p.cfg.SessionFile
	p.cfg = c

	if p.store == nil || prevPath != c.SessionFile {
		store := booking.NewStore(c.SessionFile, p.Log)
		if err := store.Load(); err != nil {
			p.Log.Warn("failed loading session state", logx.Err(err))
		}
		p.store = store
	}

	p.client = booking.NewClient(c.BaseURL, p.Log)

	var renewer booking.Renewer
	if len(c.LoginHelper) > 0 {
		renewer = &booking.HelperRenewer{
			Argv:    c.LoginHelper,
			Timeout: mustDuration(c.LoginTimeout, 0),
			Log:     p.Log,
		}
	}
	p.manager = booking.NewManager(p.store, p.client, renewer, booking.Credentials{
		AccountID:   c.AccountID,
		DisplayName: c.DisplayName,
		Secret:      c.Secret,
	}, p.Log)

	p.engine = booking.NewEngine(p.client, p.manager, booking.EngineConfig{
		RequestDelay: mustDuration(c.RequestDelay, 500*time.Millisecond),
		MaxCycle:     mustDuration(c.MaxCycle, 6*time.Minute),
	}, p.Log)
	return nil
}

func withDefaults(c Config) Config {
	if c.BookingAt == "" {
		c.BookingAt = "12:29:30"
	}
	if c.PrewarmAt == "" {
		c.PrewarmAt = "12:20"
	}
	if c.MaintainEvery == "" {
		c.MaintainEvery = "30m"
	}
	if c.RequestDelay == "" {
		c.RequestDelay = "500ms"
	}
	if c.MaxCycle == "" {
		c.MaxCycle = "6m"
	}
	return c
}

func mustDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// operatorChat resolves where progress and escalations are sent.
func (p *Plugin) operatorChat() int64 {
	p.mu.RLock()
	id := p.cfg.OperatorChatID
	p.mu.RUnlock()
	if id != 0 {
		return id
	}
	if len(p.Deps.OwnerUserID) > 0 {
		return p.Deps.OwnerUserID[0]
	}
	return 0
}

// snapshot returns the current domain objects under one lock.
func (p *Plugin) snapshot() (Config, *booking.Store, *booking.Client, *booking.Manager, *booking.Engine) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg, p.store, p.client, p.manager, p.engine
}
