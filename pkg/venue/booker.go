package venue

import (
	"context"
	"fmt"
	"time"

	"venuebot/pkg/logx"
)

// Portal is the slice of the client the engine needs. Kept narrow so tests
// can script availability and booking replies.
type Portal interface {
	FetchRoomAvailability(ctx context.Context, s Session, q RoomQuery) ([]RoomCandidate, error)
	SubmitBooking(ctx context.Context, s Session, b BookingRequest) (string, error)
}

// SessionSource is how the engine gets a usable session for the cycle.
type SessionSource interface {
	EnsureValid(ctx context.Context, force bool) error
	Current() (Session, bool)
}

// Notify delivers a progress message to the operator. Callers that don't
// care pass nil.
type Notify func(ctx context.Context, text string)

// AttemptState tracks one target through the cycle.
type AttemptState int

const (
	StateSearching AttemptState = iota // polling availability for a free room
	StateLocked                        // room chosen, submitting the booking
	StateBooked                        // reservation confirmed by the portal
)

func (s AttemptState) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateBooked:
		return "booked"
	default:
		return "searching"
	}
}

// Attempt is the per-target state machine instance.
type Attempt struct {
	Target
	Date     string
	State    AttemptState
	RoomID   string
	RoomName string
}

// AttemptResult is the terminal snapshot of one attempt for the cycle report.
type AttemptResult struct {
	Label    string
	RoomName string
	State    AttemptState
}

// CycleReport summarizes one booking run.
type CycleReport struct {
	Date    string
	Targets int
	Booked  int
	Elapsed time.Duration
	Results []AttemptResult
}

// EngineConfig tunes the cycle loop.
type EngineConfig struct {
	RequestDelay time.Duration // pause between passes, default 500ms
	MaxCycle     time.Duration // hard stop for the whole run, default 6m
}

// Engine runs the booking cycle: every target races independently through
// Searching -> Locked -> Booked against tomorrow's schedule until everything
// is booked or the deadline hits.
type Engine struct {
	portal   Portal
	sessions SessionSource
	cfg      EngineConfig
	log      logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewEngine(portal Portal, sessions SessionSource, cfg EngineConfig, log logx.Logger) *Engine {
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = 500 * time.Millisecond
	}
	if cfg.MaxCycle <= 0 {
		cfg.MaxCycle = 6 * time.Minute
	}
	return &Engine{
		portal:   portal,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Tomorrow formats the booking date for a run starting at t. The portal only
// opens next-day slots, so the cycle always books for t+1d.
func Tomorrow(t time.Time) string {
	return t.AddDate(0, 0, 1).Format("2006-01-02")
}

// Run executes one full booking cycle and returns its report.
//
// It aborts before any booking traffic when the session cannot be made valid
// (ErrNoSession wraps the cause) or when no targets are configured
// (ErrNoTargets). Everything after that is best effort until the deadline.
func (e *Engine) Run(ctx context.Context, targets []Target, notify Notify) (CycleReport, error) {
	if notify == nil {
		notify = func(context.Context, string) {}
	}

	notify(ctx, "⏳ Pre-flight: checking portal session...")
	if err := e.sessions.EnsureValid(ctx, true); err != nil {
		notify(ctx, "⛔ Booking cycle aborted: "+err.Error())
		return CycleReport{}, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	sess, ok := e.sessions.Current()
	if !ok || !sess.Valid() {
		notify(ctx, "⛔ Booking cycle aborted: no session available")
		return CycleReport{}, ErrNoSession
	}
	if len(targets) == 0 {
		notify(ctx, "⚠️ No booking targets configured; nothing to do.")
		return CycleReport{}, ErrNoTargets
	}

	start := e.now()
	date := Tomorrow(start)
	deadline := start.Add(e.cfg.MaxCycle)
	notify(ctx, fmt.Sprintf("🚀 Booking run for %s: %d target(s), hard stop in %s.", date, len(targets), e.cfg.MaxCycle))
	e.log.Info("booking cycle started",
		logx.String("date", date),
		logx.Int("targets", len(targets)),
		logx.Duration("max_cycle", e.cfg.MaxCycle))

	attempts := make([]*Attempt, 0, len(targets))
	for _, t := range targets {
		attempts = append(attempts, &Attempt{Target: t, Date: date, State: StateSearching})
	}
	pending := append([]*Attempt(nil), attempts...)

	for len(pending) > 0 && ctx.Err() == nil && e.now().Before(deadline) {
		// Work on a snapshot so removing booked attempts never skips a
		// neighbor within the same pass.
		pass := append([]*Attempt(nil), pending...)
		for _, a := range pass {
			if ctx.Err() != nil {
				break
			}
			if a.State == StateSearching {
				e.search(ctx, sess, a)
			}
			if a.State == StateLocked {
				if e.submit(ctx, sess, a, notify) {
					pending = removeAttempt(pending, a)
				}
			}
		}
		if len(pending) == 0 {
			break
		}
		e.sleep(ctx, e.cfg.RequestDelay)
	}

	rep := CycleReport{
		Date:    date,
		Targets: len(attempts),
		Elapsed: e.now().Sub(start),
	}
	for _, a := range attempts {
		if a.State == StateBooked {
			rep.Booked++
		}
		rep.Results = append(rep.Results, AttemptResult{Label: a.Label, RoomName: a.RoomName, State: a.State})
	}

	notify(ctx, fmt.Sprintf("🏁 Booking cycle finished.\nTargets: %d\nBooked: %d\nElapsed: %s",
		rep.Targets, rep.Booked, rep.Elapsed.Round(time.Millisecond)))
	e.log.Info("booking cycle finished",
		logx.String("date", date),
		logx.Int("targets", rep.Targets),
		logx.Int("booked", rep.Booked),
		logx.Duration("elapsed", rep.Elapsed))
	return rep, nil
}

// search polls availability and locks the first free room, in portal order.
func (e *Engine) search(ctx context.Context, sess Session, a *Attempt) {
	startT, endT, ok := SplitWindow(a.Window)
	if !ok {
		e.log.Warn("invalid time window on target", logx.String("target", a.Label), logx.String("window", a.Window))
		return
	}
	rooms, err := e.portal.FetchRoomAvailability(ctx, sess, RoomQuery{
		Project:     a.Project,
		Date:        a.Date,
		BookingType: a.BookingType,
		TimeStart:   startT,
		TimeEnd:     endT,
		Campus:      a.Campus,
	})
	if err != nil {
		// Transient by assumption; the next pass retries.
		e.log.Debug("availability query failed", logx.String("target", a.Label), logx.Err(err))
		return
	}
	for _, r := range rooms {
		if r.Occupied {
			continue
		}
		a.State = StateLocked
		a.RoomID = r.ID
		a.RoomName = r.Name
		e.log.Info("room locked", logx.String("target", a.Label), logx.String("room", r.Name))
		return
	}
}

// submit posts the locked booking; returns true when the attempt reached
// StateBooked and should leave the pending set.
func (e *Engine) submit(ctx context.Context, sess Session, a *Attempt, notify Notify) bool {
	reply, err := e.portal.SubmitBooking(ctx, sess, BookingRequest{
		Venue:       a.Venue,
		RoomID:      a.RoomID,
		Project:     a.Project,
		Campus:      a.Campus,
		Window:      a.Window,
		Date:        a.Date,
		BookingType: a.BookingType,
	})
	if err != nil {
		// Keep the lock; the same room is retried next pass.
		e.log.Warn("booking submit failed", logx.String("target", a.Label), logx.Err(err))
		return false
	}
	switch ClassifyReply(reply) {
	case ReplyBooked:
		a.State = StateBooked
		e.log.Info("booking confirmed", logx.String("target", a.Label), logx.String("room", a.RoomName))
		notify(ctx, fmt.Sprintf("🎉 Booked %s for %s (%s %s)", a.RoomName, a.Label, a.Date, a.Window))
		return true
	case ReplyConflict:
		// Someone beat us to it between lock and submit. Drop the lock and
		// go back to searching for a different room.
		e.log.Warn("room conflict, searching again", logx.String("target", a.Label), logx.String("room", a.RoomName))
		a.State = StateSearching
		a.RoomID = ""
		a.RoomName = ""
		return false
	default:
		e.log.Warn("unrecognized booking reply",
			logx.String("target", a.Label),
			logx.String("reply", bodyPreview([]byte(reply))))
		return false
	}
}

func removeAttempt(list []*Attempt, a *Attempt) []*Attempt {
	out := list[:0]
	for _, x := range list {
		if x != a {
			out = append(out, x)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
