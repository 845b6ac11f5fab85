package venue

import (
	"context"
	"strings"
	"sync"
	"testing"

	"venuebot/internal/core"
	kit "venuebot/internal/transport"
	"venuebot/pkg/logx"
	booking "venuebot/pkg/venue"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, n kit.Notification) error {
	c.mu.Lock()
	c.sent = append(c.sent, n)
	c.mu.Unlock()
	return nil
}

func (c *captureNotifier) Snapshot() []core.NotificationRecord { return nil }

func (c *captureNotifier) all() []kit.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]kit.Notification(nil), c.sent...)
}

type stubProber struct{ err error }

func (s *stubProber) FetchCatalog(ctx context.Context, sess booking.Session) (*booking.Catalog, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &booking.Catalog{}, nil
}

type stubRenewer struct {
	cookie string
	err    error
}

func (s *stubRenewer) Renew(ctx context.Context, accountID, secret string) (string, error) {
	return s.cookie, s.err
}

func newSessionPlugin(probe *stubProber, ren *stubRenewer) (*Plugin, *captureNotifier) {
	notes := &captureNotifier{}
	p := New()
	p.InitBase(core.PluginDeps{
		Logger:      logx.Nop(),
		Services:    &core.Services{Notifier: notes},
		OwnerUserID: []int64{100},
	}, p.Name())

	p.store = booking.NewStore("", logx.Nop())
	p.manager = booking.NewManager(p.store, probe, ren, booking.Credentials{
		AccountID: "2023001",
		Secret:    "pw",
	}, logx.Nop())
	return p, notes
}

func TestCheckSessionEscalatesMFAOnce(t *testing.T) {
	probe := &stubProber{}
	ren := &stubRenewer{err: &booking.MFAError{Detail: "sms code required"}}
	p, notes := newSessionPlugin(probe, ren)
	ctx := context.Background()

	if err := p.checkSession(ctx); !booking.IsMFA(err) {
		t.Fatalf("expected MFA error, got %v", err)
	}
	sent := notes.all()
	if len(sent) != 1 {
		t.Fatalf("expected 1 escalation, got %d", len(sent))
	}
	if sent[0].Priority < 9 || sent[0].Target.ChatID != 100 {
		t.Fatalf("unexpected escalation notification: %+v", sent[0])
	}
	if !strings.Contains(sent[0].Text, "sms code required") {
		t.Fatalf("escalation lost the helper detail: %q", sent[0].Text)
	}

	// A second blocked round must not notify again.
	if err := p.checkSession(ctx); !booking.IsMFA(err) {
		t.Fatalf("expected MFA error on repeat, got %v", err)
	}
	if got := len(notes.all()); got != 1 {
		t.Fatalf("repeat MFA block escalated again: %d notifications", got)
	}
}

func TestCheckSessionReescalatesAfterRecovery(t *testing.T) {
	probe := &stubProber{}
	ren := &stubRenewer{err: &booking.MFAError{Detail: "sms code required"}}
	p, notes := newSessionPlugin(probe, ren)
	ctx := context.Background()

	if err := p.checkSession(ctx); !booking.IsMFA(err) {
		t.Fatalf("expected MFA error, got %v", err)
	}

	// Recovery: renewal goes through and resets the latch.
	ren.err = nil
	ren.cookie = "fresh"
	if err := p.checkSession(ctx); err != nil {
		t.Fatalf("checkSession after recovery: %v", err)
	}
	if s, ok := p.store.Current(); !ok || s.Cookie != "fresh" {
		t.Fatalf("session not installed after recovery: %+v ok=%v", s, ok)
	}

	// The cookie dies again and renewal is blocked again: a fresh escalation.
	probe.err = &booking.RequestError{Kind: booking.KindSessionInvalid, Op: "catalog"}
	ren.err = &booking.MFAError{Detail: "sms code required"}
	if err := p.checkSession(ctx); !booking.IsMFA(err) {
		t.Fatalf("expected MFA error after relapse, got %v", err)
	}
	if got := len(notes.all()); got != 2 {
		t.Fatalf("expected 2 escalations across two stuck states, got %d", got)
	}
}
