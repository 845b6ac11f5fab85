package venue

import (
	"context"
	"strconv"
	"strings"

	"venuebot/internal/core"
	kit "venuebot/internal/transport"
	booking "venuebot/pkg/venue"
)

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Route:       "venue status",
			Aliases:     []string{"vs"},
			Description: "session, targets and last cycle summary",
			Usage:       "/venue status",
			Access:      core.AccessOwnerOnly,
			Handle:      p.handleStatus,
		},
		{
			Route:       "venue check",
			Description: "probe the portal session now (renews if dead)",
			Usage:       "/venue check",
			Access:      core.AccessOwnerOnly,
			Handle:      p.handleCheck,
		},
		{
			Route:       "venue refresh",
			Description: "force a session renewal",
			Usage:       "/venue refresh",
			Access:      core.AccessOwnerOnly,
			Handle:      p.handleRefresh,
		},
		{
			Route:       "venue list",
			Description: "list venues and projects from the portal",
			Usage:       "/venue list",
			Access:      core.AccessOwnerOnly,
			Handle:      p.handleList,
		},
		{
			Route:       "venue slots",
			Description: "raw time-slot table for a target",
			Usage:       "/venue slots [target#] [date]",
			Access:      core.AccessOwnerOnly,
			Handle:      p.handleSlots,
		},
		{
			Route:       "venue test",
			Description: "one availability query for a target",
			Usage:       "/venue test [target#] [date]",
			Access:      core.AccessOwnerOnly,
			Handle:      p.handleTest,
		},
		{
			Route:       "venue run",
			Description: "start a booking cycle now",
			Usage:       "/venue run",
			Access:      core.AccessOwnerOnly,
			Handle:      p.handleRun,
		},
		{
			Route:       "venue history",
			Description: "recent booking history",
			Usage:       "/venue history [count]",
			Access:      core.AccessOwnerOnly,
			Handle:      p.handleHistory,
		},
	}
}

func (p *Plugin) reply(ctx context.Context, req *core.Request, text string) error {
	p.mu.RLock()
	prefix := p.cfg.Prefix
	p.mu.RUnlock()
	_, err := req.Adapter.SendText(ctx, req.Chat, prefix+text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (p *Plugin) handleStatus(ctx context.Context, req *core.Request) error {
	cfg, store, _, mgr, _ := p.snapshot()

	var sess booking.Session
	var ok bool
	if store != nil {
		sess, ok = store.Current()
	}

	p.lastMu.Lock()
	rep := p.lastReport
	at := p.lastRunAt
	p.lastMu.Unlock()

	p.mfaMu.Lock()
	mfaStuck := p.mfaSent
	p.mfaMu.Unlock()

	canRenew := mgr != nil && mgr.CredentialsAvailable()
	return p.reply(ctx, req, formatStatus(cfg, sess, ok, canRenew, mfaStuck, rep, at))
}

func (p *Plugin) handleCheck(ctx context.Context, req *core.Request) error {
	_ = p.reply(ctx, req, "🔎 Probing portal session...")
	if err := p.checkSession(ctx); err != nil {
		return p.reply(ctx, req, "❌ Session check failed: "+err.Error())
	}
	_, store, _, _, _ := p.snapshot()
	if store != nil {
		if _, ok := store.Current(); ok {
			return p.reply(ctx, req, "✅ Session is valid.")
		}
	}
	return p.reply(ctx, req, "⚠️ No session and no credentials configured; log in manually.")
}

func (p *Plugin) handleRefresh(ctx context.Context, req *core.Request) error {
	_, _, _, mgr, _ := p.snapshot()
	if mgr == nil {
		return p.reply(ctx, req, "plugin not configured")
	}
	_ = p.reply(ctx, req, "🔁 Renewing session...")
	if err := mgr.RenewNow(ctx); err != nil {
		return p.reply(ctx, req, "❌ Renewal failed: "+err.Error())
	}
	p.mfaMu.Lock()
	p.mfaSent = false
	p.mfaMu.Unlock()
	return p.reply(ctx, req, "✅ Session renewed.")
}

func (p *Plugin) handleList(ctx context.Context, req *core.Request) error {
	_, store, client, _, _ := p.snapshot()
	if store == nil || client == nil {
		return p.reply(ctx, req, "plugin not configured")
	}
	sess, ok := store.Current()
	if !ok {
		return p.reply(ctx, req, "no session; run /venue check first")
	}
	cat, err := client.FetchCatalog(ctx, sess)
	if err != nil {
		return p.reply(ctx, req, "❌ Catalog fetch failed: "+err.Error())
	}
	return p.reply(ctx, req, formatCatalog(cat))
}

func (p *Plugin) handleSlots(ctx context.Context, req *core.Request) error {
	cfg, store, client, _, _ := p.snapshot()
	if store == nil || client == nil {
		return p.reply(ctx, req, "plugin not configured")
	}
	if len(cfg.Targets) == 0 {
		return p.reply(ctx, req, "no targets configured")
	}
	sess, ok := store.Current()
	if !ok {
		return p.reply(ctx, req, "no session; run /venue check first")
	}

	t := cfg.Targets[targetIndexArg(req.Args, len(cfg.Targets))]
	date := dateArg(req.Args)

	raw, err := client.FetchTimeSlots(ctx, sess, t.Campus, date, t.BookingType, t.Project)
	if err != nil {
		return p.reply(ctx, req, "❌ Slot fetch failed: "+err.Error())
	}
	return p.reply(ctx, req, formatSlots(t, date, raw))
}

// handleTest runs a single room-availability query for one target, outside
// any cycle, so a config can be sanity-checked before the release window.
func (p *Plugin) handleTest(ctx context.Context, req *core.Request) error {
	cfg, store, client, _, _ := p.snapshot()
	if store == nil || client == nil {
		return p.reply(ctx, req, "plugin not configured")
	}
	if len(cfg.Targets) == 0 {
		return p.reply(ctx, req, "no targets configured")
	}
	sess, ok := store.Current()
	if !ok {
		return p.reply(ctx, req, "no session; run /venue check first")
	}

	t := cfg.Targets[targetIndexArg(req.Args, len(cfg.Targets))]
	start, end, wok := booking.SplitWindow(t.Window)
	if !wok {
		return p.reply(ctx, req, "target has an invalid time window: "+t.Window)
	}
	date := dateArg(req.Args)

	rooms, err := client.FetchRoomAvailability(ctx, sess, booking.RoomQuery{
		Project:     t.Project,
		Date:        date,
		BookingType: t.BookingType,
		TimeStart:   start,
		TimeEnd:     end,
		Campus:      t.Campus,
	})
	if err != nil {
		return p.reply(ctx, req, "❌ Availability query failed: "+err.Error())
	}
	return p.reply(ctx, req, formatRooms(t, date, rooms))
}

func (p *Plugin) handleRun(ctx context.Context, req *core.Request) error {
	if p.Runner == nil {
		return p.reply(ctx, req, "plugin not started")
	}
	_ = p.reply(ctx, req, "🚀 Starting booking cycle (progress goes to the operator chat)...")
	// Detach from the command timeout; a cycle runs for minutes.
	p.Runner.Go("manual-cycle", func(runCtx context.Context) error {
		return p.runCycle(runCtx, "manual")
	})
	return nil
}

func (p *Plugin) handleHistory(ctx context.Context, req *core.Request) error {
	store := p.Storage()
	if store == nil {
		return p.reply(ctx, req, "history persistence is disabled")
	}
	count := clampPositiveIntArg(req.Args, 10, 50)
	recs, err := store.RecentBookings(ctx, count)
	if err != nil {
		return p.reply(ctx, req, "❌ Failed to read history: "+err.Error())
	}
	if len(recs) == 0 {
		return p.reply(ctx, req, "no booking history yet")
	}
	return p.reply(ctx, req, formatHistory(recs))
}

// targetIndexArg resolves the optional 1-based [target#] argument to a slice
// index, falling back to the first target on anything out of range.
func targetIndexArg(args []string, n int) int {
	if len(args) == 0 {
		return 0
	}
	i, err := strconv.Atoi(args[0])
	if err != nil || i < 1 || i > n {
		return 0
	}
	return i - 1
}

// dateArg returns the optional [date] argument when it looks like YYYY-MM-DD,
// otherwise tomorrow (the only date the portal normally opens).
func dateArg(args []string) string {
	if len(args) > 1 && strings.Count(args[1], "-") == 2 {
		return args[1]
	}
	return booking.Tomorrow(timeNow())
}

func clampPositiveIntArg(args []string, defVal, maxVal int) int {
	if len(args) == 0 {
		return defVal
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return defVal
	}
	if maxVal > 0 && n > maxVal {
		return maxVal
	}
	return n
}
