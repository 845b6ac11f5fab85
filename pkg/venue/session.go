package venue

import (
	"context"
	"strings"

	"venuebot/pkg/logx"
)

// Prober is the lightweight request used to test whether a cookie is alive.
type Prober interface {
	FetchCatalog(ctx context.Context, s Session) (*Catalog, error)
}

// Credentials configure unattended renewal. Secret may be empty, which
// disables renewal entirely (the operator then refreshes manually).
type Credentials struct {
	AccountID   string
	DisplayName string
	Secret      string
}

// Manager keeps the session in the Store valid: it probes the portal and,
// when the cookie is dead, drives the Renewer and persists the replacement.
type Manager struct {
	store   *Store
	probe   Prober
	renewer Renewer
	creds   Credentials
	log     logx.Logger
}

func NewManager(store *Store, probe Prober, renewer Renewer, creds Credentials, log logx.Logger) *Manager {
	return &Manager{store: store, probe: probe, renewer: renewer, creds: creds, log: log}
}

// Current returns the session snapshot for a cycle. Read once at cycle start;
// a concurrent renewal replaces the stored session without disturbing it.
func (m *Manager) Current() (Session, bool) { return m.store.Current() }

// CredentialsAvailable reports whether unattended renewal is possible.
func (m *Manager) CredentialsAvailable() bool {
	return m.renewer != nil && strings.TrimSpace(m.creds.Secret) != ""
}

// EnsureValid makes sure a usable session exists.
//
// With force=false it only checks presence. With force=true it probes the
// portal and renews on a dead cookie. Returns *MFAError when renewal needs
// a human, ErrNoCredentials when renewal is needed but not configured.
func (m *Manager) EnsureValid(ctx context.Context, force bool) error {
	s, ok := m.store.Current()
	hasSession := ok && s.Valid()

	if hasSession && !force {
		return nil
	}

	if hasSession {
		if !m.CredentialsAvailable() {
			// Nothing we could do about a dead cookie anyway; skip the probe.
			m.log.Debug("no renewal secret configured; skipping session check")
			return nil
		}
		if _, err := m.probe.FetchCatalog(ctx, s); err == nil {
			m.log.Debug("session still valid")
			return nil
		} else {
			m.log.Info("session probe failed; renewing", logx.Err(err))
		}
	}

	return m.RenewNow(ctx)
}

// RenewNow unconditionally runs the renewal flow, replacing and persisting
// the stored session on success. Used by the manual /venue refresh path.
func (m *Manager) RenewNow(ctx context.Context) error {
	if !m.CredentialsAvailable() {
		return ErrNoCredentials
	}

	cookie, err := m.renewer.Renew(ctx, m.creds.AccountID, m.creds.Secret)
	if err != nil {
		return err
	}

	m.store.Replace(Session{
		Cookie:      cookie,
		AccountID:   m.creds.AccountID,
		DisplayName: m.creds.DisplayName,
	})
	// Persist only here: the cookie is the only state worth writing, and
	// renewal is the only place it changes.
	if err := m.store.Save(); err != nil {
		m.log.Warn("failed persisting renewed session", logx.Err(err))
	}
	m.log.Info("session renewed", logx.String("account", m.creds.AccountID))
	return nil
}
