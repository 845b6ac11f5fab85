package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"venuebot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", "NONE"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q): expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "bookings.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	recs := []BookingRecord{
		{At: base, Kind: "booking", Date: "2026-03-02", Venue: "01", Window: "19:00-20:00", Room: "场地2", Outcome: "booked", Detail: "badminton"},
		{At: base.Add(time.Second), Kind: "cycle", Date: "2026-03-02", Outcome: "summary", Detail: "targets 1 / success 1", Targets: 1, Booked: 1, TookMS: 4200},
	}
	for _, r := range recs {
		if err := st.AppendBooking(ctx, r); err != nil {
			t.Fatalf("AppendBooking: %v", err)
		}
	}

	got, err := st.RecentBookings(ctx, 10)
	if err != nil {
		t.Fatalf("RecentBookings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	// Newest first.
	if got[0].Kind != "cycle" || got[1].Kind != "booking" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[1].Room != "场地2" || got[1].Window != "19:00-20:00" {
		t.Fatalf("unexpected row data: %+v", got[1])
	}
	if !got[0].At.Equal(base.Add(time.Second)) {
		t.Fatalf("timestamp mismatch: %v", got[0].At)
	}
	if got[0].Targets != 1 || got[0].Booked != 1 || got[0].TookMS != 4200 {
		t.Fatalf("summary fields lost: %+v", got[0])
	}
}

func TestRecentBookingsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := st.AppendBooking(ctx, BookingRecord{Kind: "booking", Date: "2026-03-02", Outcome: "booked"}); err != nil {
			t.Fatalf("AppendBooking: %v", err)
		}
	}
	got, err := st.RecentBookings(ctx, 3)
	if err != nil {
		t.Fatalf("RecentBookings: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
}
