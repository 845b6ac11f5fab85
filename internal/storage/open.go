package storage

import (
	"context"
	"errors"
	"strings"

	"venuebot/pkg/logx"
)

// Store is the booking history API used by core and plugins.
type Store interface {
	AppendBooking(ctx context.Context, r BookingRecord) error
	RecentBookings(ctx context.Context, limit int) ([]BookingRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
