package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"venuebot/internal/core"
	"venuebot/pkg/logx"
	booking "venuebot/pkg/venue"
)

// jobBookingCycle is the scheduled daily run.
func (p *Plugin) jobBookingCycle(ctx context.Context) error {
	return p.runCycle(ctx, "schedule")
}

// jobPrewarm refreshes the session shortly before the booking trigger so the
// cycle itself never starts with a login.
func (p *Plugin) jobPrewarm(ctx context.Context) error {
	p.Log.Info("prewarm session check")
	return p.checkSession(ctx)
}

// jobMaintain keeps the session alive through the rest of the day.
func (p *Plugin) jobMaintain(ctx context.Context) error {
	return p.checkSession(ctx)
}

// checkSession forces a probe-and-renew round and handles MFA escalation.
// An MFA block notifies the operator exactly once; the flag resets on the
// next successful renewal round so a later block escalates again.
func (p *Plugin) checkSession(ctx context.Context) error {
	_, _, _, mgr, _ := p.snapshot()
	if mgr == nil {
		return nil
	}

	err := mgr.EnsureValid(ctx, true)
	switch {
	case err == nil:
		p.mfaMu.Lock()
		p.mfaSent = false
		p.mfaMu.Unlock()
		return nil
	case booking.IsMFA(err):
		p.mfaMu.Lock()
		first := !p.mfaSent
		p.mfaSent = true
		p.mfaMu.Unlock()
		if first {
			_ = p.Urgent(p.operatorChat(), "🔐 Session renewal is blocked by multi-factor authentication. Log in manually, then run /venue refresh.\n\n"+err.Error())
		} else {
			p.Log.Warn("renewal still blocked by MFA (already escalated)")
		}
		return err
	case errors.Is(err, booking.ErrNoCredentials):
		p.Log.Debug("session check skipped: no credentials")
		return nil
	default:
		p.Log.Warn("session maintenance failed", logx.Err(err))
		return err
	}
}

// runCycle executes one booking cycle end to end: engine run, operator
// progress messages and history persistence. Overlapping triggers (schedule
// plus a manual /venue run) collapse to one cycle.
func (p *Plugin) runCycle(ctx context.Context, trigger string) error {
	if !p.runMu.TryLock() {
		p.Log.Warn("booking cycle already running; skipping", logx.String("trigger", trigger))
		return nil
	}
	defer p.runMu.Unlock()

	cfg, _, _, _, engine := p.snapshot()
	if engine == nil {
		return errors.New("plugin not configured")
	}

	chat := p.operatorChat()
	notify := func(_ context.Context, text string) {
		if chat == 0 {
			return
		}
		if err := p.Info(chat, text); err != nil {
			p.Log.Debug("progress notification dropped", logx.Err(err))
		}
	}

	p.Log.Info("booking cycle triggered", logx.String("trigger", trigger))
	started := time.Now()
	rep, err := engine.Run(ctx, append([]booking.Target(nil), cfg.Targets...), notify)
	if err != nil {
		p.Log.Error("booking cycle failed", logx.String("trigger", trigger), logx.Err(err))
		return err
	}

	p.lastMu.Lock()
	repCopy := rep
	p.lastReport = &repCopy
	p.lastRunAt = started
	p.lastMu.Unlock()

	p.persistReport(ctx, cfg, rep)
	return nil
}

// persistReport writes per-booking rows plus a cycle summary row. Best
// effort: history must never fail a cycle.
func (p *Plugin) persistReport(ctx context.Context, cfg Config, rep booking.CycleReport) {
	store := p.Storage()
	if store == nil {
		return
	}
	byLabel := map[string]booking.Target{}
	for _, t := range cfg.Targets {
		byLabel[t.Label] = t
	}

	now := time.Now()
	for _, r := range rep.Results {
		if r.State != booking.StateBooked {
			continue
		}
		t := byLabel[r.Label]
		rec := core.BookingRecord{
			At:      now,
			Kind:    "booking",
			Date:    rep.Date,
			Venue:   t.Venue,
			Window:  t.Window,
			Room:    r.RoomName,
			Outcome: "booked",
			Detail:  r.Label,
		}
		if err := store.AppendBooking(ctx, rec); err != nil {
			p.Log.Warn("failed persisting booking row", logx.Err(err))
		}
	}

	summary := core.BookingRecord{
		At:      now,
		Kind:    "cycle",
		Date:    rep.Date,
		Outcome: "summary",
		Detail:  fmt.Sprintf("targets %d / success %d", rep.Targets, rep.Booked),
		Targets: rep.Targets,
		Booked:  rep.Booked,
		TookMS:  rep.Elapsed.Milliseconds(),
	}
	if err := store.AppendBooking(ctx, summary); err != nil {
		p.Log.Warn("failed persisting cycle summary", logx.Err(err))
	}
}
