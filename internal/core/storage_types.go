package core

import (
	"context"

	st "venuebot/internal/storage"
)

// Re-export the booking history record for the plugin SDK.
type BookingRecord = st.BookingRecord

// StoragePort is the subset of the storage layer exposed to plugins.
// It may be nil when storage is disabled.
type StoragePort interface {
	AppendBooking(ctx context.Context, r BookingRecord) error
	RecentBookings(ctx context.Context, limit int) ([]BookingRecord, error)
}
