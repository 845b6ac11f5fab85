package venue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"venuebot/pkg/logx"
)

type scriptedPortal struct {
	mu      sync.Mutex
	rooms   func(q RoomQuery) ([]RoomCandidate, error)
	submit  func(b BookingRequest) (string, error)
	submits []BookingRequest
}

func (p *scriptedPortal) FetchRoomAvailability(ctx context.Context, s Session, q RoomQuery) ([]RoomCandidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms == nil {
		return nil, nil
	}
	return p.rooms(q)
}

func (p *scriptedPortal) SubmitBooking(ctx context.Context, s Session, b BookingRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, b)
	if p.submit == nil {
		return "", errors.New("unexpected submit")
	}
	return p.submit(b)
}

type scriptedSessions struct {
	ensureErr error
	session   Session
}

func (s *scriptedSessions) EnsureValid(ctx context.Context, force bool) error { return s.ensureErr }
func (s *scriptedSessions) Current() (Session, bool) {
	return s.session, s.session.Valid()
}

// newTestEngine wires a fake clock so passes advance time instead of sleeping.
func newTestEngine(p Portal, cfg EngineConfig) *Engine {
	e := NewEngine(p, &scriptedSessions{session: Session{Cookie: "c", AccountID: "2023001"}}, cfg, logx.Nop())
	clock := time.Date(2026, 3, 1, 12, 29, 30, 0, time.UTC)
	var mu sync.Mutex
	e.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	e.sleep = func(ctx context.Context, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(d)
	}
	return e
}

func target(label, window string) Target {
	return Target{Venue: "01", Project: "002", Campus: "1", BookingType: "02", Window: window, Label: label}
}

func TestRunBooksFirstFreeRoom(t *testing.T) {
	portal := &scriptedPortal{
		rooms: func(q RoomQuery) ([]RoomCandidate, error) {
			return []RoomCandidate{
				{ID: "w1", Name: "场地1", Occupied: true},
				{ID: "w2", Name: "场地2", Occupied: false},
				{ID: "w3", Name: "场地3", Occupied: false},
			}, nil
		},
		submit: func(b BookingRequest) (string, error) { return "预约成功", nil },
	}
	e := newTestEngine(portal, EngineConfig{})

	var notes []string
	rep, err := e.Run(context.Background(), []Target{target("badminton", "19:00-20:00")}, func(_ context.Context, s string) {
		notes = append(notes, s)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Targets != 1 || rep.Booked != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(portal.submits) != 1 || portal.submits[0].RoomID != "w2" {
		t.Fatalf("expected one submit for first free room w2, got %+v", portal.submits)
	}
	if portal.submits[0].Date != "2026-03-02" {
		t.Fatalf("expected next-day date, got %q", portal.submits[0].Date)
	}
	var celebrated bool
	for _, n := range notes {
		if strings.Contains(n, "场地2") && strings.Contains(n, "🎉") {
			celebrated = true
		}
	}
	if !celebrated {
		t.Fatalf("missing success notification in %q", notes)
	}
}

func TestRunConflictRetriesAnotherRoom(t *testing.T) {
	round := 0
	portal := &scriptedPortal{}
	portal.rooms = func(q RoomQuery) ([]RoomCandidate, error) {
		round++
		if round == 1 {
			return []RoomCandidate{{ID: "w1", Name: "场地1"}}, nil
		}
		return []RoomCandidate{
			{ID: "w1", Name: "场地1", Occupied: true},
			{ID: "w2", Name: "场地2"},
		}, nil
	}
	portal.submit = func(b BookingRequest) (string, error) {
		if b.RoomID == "w1" {
			return "预约时间冲突", nil
		}
		return "预约成功", nil
	}
	e := newTestEngine(portal, EngineConfig{})

	rep, err := e.Run(context.Background(), []Target{target("badminton", "19:00-20:00")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Booked != 1 {
		t.Fatalf("expected 1 booked, got %+v", rep)
	}
	if len(portal.submits) != 2 || portal.submits[0].RoomID != "w1" || portal.submits[1].RoomID != "w2" {
		t.Fatalf("expected conflict on w1 then success on w2, got %+v", portal.submits)
	}
}

func TestRunStopsAtDeadline(t *testing.T) {
	portal := &scriptedPortal{
		rooms: func(q RoomQuery) ([]RoomCandidate, error) {
			return []RoomCandidate{{ID: "w1", Name: "场地1", Occupied: true}}, nil
		},
	}
	e := newTestEngine(portal, EngineConfig{RequestDelay: time.Second, MaxCycle: 5 * time.Second})

	rep, err := e.Run(context.Background(), []Target{target("a", "19:00-20:00"), target("b", "20:00-21:00")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Targets != 2 || rep.Booked != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(portal.submits) != 0 {
		t.Fatalf("submitted with every room occupied: %+v", portal.submits)
	}
	if rep.Elapsed < 5*time.Second {
		t.Fatalf("stopped before deadline: %v", rep.Elapsed)
	}
}

func TestRunKeepsLockOnSubmitError(t *testing.T) {
	fails := 0
	portal := &scriptedPortal{
		rooms: func(q RoomQuery) ([]RoomCandidate, error) {
			return []RoomCandidate{{ID: "w1", Name: "场地1"}}, nil
		},
	}
	portal.submit = func(b BookingRequest) (string, error) {
		fails++
		if fails == 1 {
			return "", &RequestError{Kind: KindTransport, Op: "book", Detail: "timeout"}
		}
		return "预约成功", nil
	}
	e := newTestEngine(portal, EngineConfig{})

	rep, err := e.Run(context.Background(), []Target{target("a", "19:00-20:00")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Booked != 1 {
		t.Fatalf("expected 1 booked after retry, got %+v", rep)
	}
	if portal.submits[0].RoomID != "w1" || portal.submits[1].RoomID != "w1" {
		t.Fatalf("lock not kept across transient failure: %+v", portal.submits)
	}
}

func TestRunAbortsWithoutSession(t *testing.T) {
	e := NewEngine(&scriptedPortal{}, &scriptedSessions{ensureErr: ErrNoCredentials}, EngineConfig{}, logx.Nop())

	var notes []string
	_, err := e.Run(context.Background(), []Target{target("a", "19:00-20:00")}, func(_ context.Context, s string) {
		notes = append(notes, s)
	})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	var aborted bool
	for _, n := range notes {
		if strings.Contains(n, "⛔") {
			aborted = true
		}
	}
	if !aborted {
		t.Fatalf("missing abort notification in %q", notes)
	}
}

func TestRunNoTargets(t *testing.T) {
	e := newTestEngine(&scriptedPortal{}, EngineConfig{})
	if _, err := e.Run(context.Background(), nil, nil); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	portal := &scriptedPortal{
		rooms: func(q RoomQuery) ([]RoomCandidate, error) {
			cancel()
			return []RoomCandidate{{ID: "w1", Name: "场地1", Occupied: true}}, nil
		},
	}
	e := newTestEngine(portal, EngineConfig{MaxCycle: time.Hour})

	rep, err := e.Run(ctx, []Target{target("a", "19:00-20:00")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Booked != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}
