package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// BookingRecord is one persisted booking outcome.
// Kind is "booking" for a single submission and "cycle" for a whole
// cycle summary. Keep it compact and schema-stable.
type BookingRecord struct {
	ID      int64
	At      time.Time
	Kind    string
	Date    string // booking date YYYY-MM-DD
	Venue   string
	Window  string // HH:MM-HH:MM
	Room    string
	Outcome string // "booked" | "conflict" | "failed" | "summary"
	Detail  string
	Targets int
	Booked  int
	TookMS  int64
}
