package venue

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"venuebot/pkg/logx"
)

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) FetchCatalog(ctx context.Context, s Session) (*Catalog, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Catalog{}, nil
}

type fakeRenewer struct {
	cookie string
	err    error
	calls  int
}

func (f *fakeRenewer) Renew(ctx context.Context, accountID, secret string) (string, error) {
	f.calls++
	return f.cookie, f.err
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "session.json")
	st := NewStore(path, logx.Nop())

	if err := st.Load(); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if _, ok := st.Current(); ok {
		t.Fatal("expected no session after empty load")
	}

	st.Replace(Session{Cookie: "c=1", AccountID: "2023001", DisplayName: "张三"})
	if err := st.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	st2 := NewStore(path, logx.Nop())
	if err := st2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s, ok := st2.Current()
	if !ok || s.Cookie != "c=1" || s.AccountID != "2023001" {
		t.Fatalf("unexpected reloaded session: %+v ok=%v", s, ok)
	}
}

func TestStoreConcurrentReplaceAndCurrent(t *testing.T) {
	st := NewStore("", logx.Nop())
	st.Replace(Session{Cookie: "c-0", AccountID: "0"})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s, ok := st.Current()
				if !ok {
					t.Error("session vanished during replacement")
					return
				}
				// Readers must see whole sessions, never a torn mix of
				// two replacements.
				if s.Cookie != "c-"+s.AccountID {
					t.Errorf("torn session read: %+v", s)
					return
				}
			}
		}()
	}

	for i := 1; i <= 1000; i++ {
		id := strconv.Itoa(i)
		st.Replace(Session{Cookie: "c-" + id, AccountID: id})
	}
	close(stop)
	wg.Wait()

	if s, ok := st.Current(); !ok || s.Cookie != "c-1000" {
		t.Fatalf("last replacement not visible: %+v ok=%v", s, ok)
	}
}

func TestEnsureValidPresenceOnly(t *testing.T) {
	st := NewStore("", logx.Nop())
	st.Replace(Session{Cookie: "alive"})
	probe := &fakeProber{err: errors.New("should not be called")}
	m := NewManager(st, probe, &fakeRenewer{}, Credentials{Secret: "pw"}, logx.Nop())

	if err := m.EnsureValid(context.Background(), false); err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if probe.calls != 0 {
		t.Fatalf("probe called %d times without force", probe.calls)
	}
}

func TestEnsureValidRenewsOnDeadCookie(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	st := NewStore(path, logx.Nop())
	st.Replace(Session{Cookie: "stale", AccountID: "2023001"})

	probe := &fakeProber{err: &RequestError{Kind: KindSessionInvalid, Op: "catalog"}}
	ren := &fakeRenewer{cookie: "fresh"}
	m := NewManager(st, probe, ren, Credentials{AccountID: "2023001", DisplayName: "张三", Secret: "pw"}, logx.Nop())

	if err := m.EnsureValid(context.Background(), true); err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if ren.calls != 1 {
		t.Fatalf("expected 1 renewal, got %d", ren.calls)
	}
	s, _ := st.Current()
	if s.Cookie != "fresh" || s.DisplayName != "张三" {
		t.Fatalf("session not replaced: %+v", s)
	}

	// Renewal is also the persistence point.
	st2 := NewStore(path, logx.Nop())
	if err := st2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s2, ok := st2.Current(); !ok || s2.Cookie != "fresh" {
		t.Fatalf("renewed session not persisted: %+v ok=%v", s2, ok)
	}
}

func TestEnsureValidKeepsLiveCookie(t *testing.T) {
	st := NewStore("", logx.Nop())
	st.Replace(Session{Cookie: "alive"})
	ren := &fakeRenewer{cookie: "fresh"}
	m := NewManager(st, &fakeProber{}, ren, Credentials{Secret: "pw"}, logx.Nop())

	if err := m.EnsureValid(context.Background(), true); err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if ren.calls != 0 {
		t.Fatalf("renewed despite live probe")
	}
	if s, _ := st.Current(); s.Cookie != "alive" {
		t.Fatalf("session changed: %+v", s)
	}
}

func TestEnsureValidNoCredentials(t *testing.T) {
	st := NewStore("", logx.Nop())
	m := NewManager(st, &fakeProber{}, &fakeRenewer{}, Credentials{}, logx.Nop())

	err := m.EnsureValid(context.Background(), true)
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestEnsureValidSkipsCheckWithoutSecret(t *testing.T) {
	st := NewStore("", logx.Nop())
	st.Replace(Session{Cookie: "maybe-stale"})
	probe := &fakeProber{err: errors.New("should not be called")}
	m := NewManager(st, probe, nil, Credentials{}, logx.Nop())

	// Without a secret the probe result would be unactionable.
	if err := m.EnsureValid(context.Background(), true); err != nil {
		t.Fatalf("EnsureValid: %v", err)
	}
	if probe.calls != 0 {
		t.Fatalf("probe called %d times without credentials", probe.calls)
	}
}

func TestEnsureValidMFAPassthrough(t *testing.T) {
	st := NewStore("", logx.Nop())
	st.Replace(Session{Cookie: "stale"})
	probe := &fakeProber{err: &RequestError{Kind: KindSessionInvalid}}
	ren := &fakeRenewer{err: &MFAError{Detail: "sms code required"}}
	m := NewManager(st, probe, ren, Credentials{Secret: "pw"}, logx.Nop())

	err := m.EnsureValid(context.Background(), true)
	if !IsMFA(err) {
		t.Fatalf("expected MFA error, got %v", err)
	}
	if s, _ := st.Current(); s.Cookie != "stale" {
		t.Fatalf("session replaced despite failed renewal: %+v", s)
	}
}
