package venue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"venuebot/pkg/logx"
)

// Store holds the current Session with atomic replacement, so a background
// renewal can swap the session while an in-flight cycle keeps reading the
// snapshot it took at cycle start.
//
// Sessions are persisted to a small JSON state file so a restart does not
// force a fresh login.
type Store struct {
	path string
	log  logx.Logger
	cur  atomic.Pointer[Session]
}

func NewStore(path string, log logx.Logger) *Store {
	return &Store{path: path, log: log}
}

// Current returns a snapshot of the session, false when none is set.
func (st *Store) Current() (Session, bool) {
	p := st.cur.Load()
	if p == nil {
		return Session{}, false
	}
	return *p, true
}

// Replace installs a new session wholesale. Last writer wins.
func (st *Store) Replace(s Session) {
	cp := s
	st.cur.Store(&cp)
}

// Load reads the state file. A missing file is not an error; it just means
// no session yet.
func (st *Store) Load() error {
	if st.path == "" {
		return nil
	}
	b, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	st.Replace(s)
	st.log.Debug("session state loaded", logx.String("path", st.path), logx.String("account", s.AccountID))
	return nil
}

// Save persists the current session. Written atomically (tmp + rename) with
// 0600 because the cookie is a credential.
func (st *Store) Save() error {
	if st.path == "" {
		return nil
	}
	s, ok := st.Current()
	if !ok {
		return nil
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return err
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return err
	}
	st.log.Info("session state saved", logx.String("path", st.path))
	return nil
}
