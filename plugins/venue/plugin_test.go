package venue

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"venuebot/internal/core"
	booking "venuebot/pkg/venue"
)

func TestValidateConfig(t *testing.T) {
	p := New()
	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"empty", `{}`, ""},
		{"full", `{
			"account_id": "2023001",
			"booking_at": "12:29:30",
			"prewarm_at": "12:20",
			"maintain_every": "30m",
			"targets": [{"venue":"01","project":"002","campus":"1","booking_type":"02","window":"19:00-20:00","label":"badminton"}]
		}`, ""},
		{"bad clock", `{"booking_at":"25:00"}`, "booking_at"},
		{"bad duration", `{"maintain_every":"soon"}`, "maintain_every"},
		{"bad window", `{
			"account_id": "2023001",
			"targets": [{"venue":"01","project":"002","campus":"1","window":"19:00"}]
		}`, "invalid window"},
		{"missing codes", `{
			"account_id": "2023001",
			"targets": [{"window":"19:00-20:00"}]
		}`, "required"},
		{"targets without account", `{
			"targets": [{"venue":"01","project":"002","campus":"1","window":"19:00-20:00"}]
		}`, "account_id"},
	}
	for _, c := range cases {
		err := p.ValidateConfig(context.Background(), json.RawMessage(c.raw))
		if c.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", c.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), c.wantErr) {
			t.Fatalf("%s: expected error containing %q, got %v", c.name, c.wantErr, err)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	c := withDefaults(Config{})
	if c.BookingAt != "12:29:30" || c.PrewarmAt != "12:20" || c.MaintainEvery != "30m" {
		t.Fatalf("unexpected schedule defaults: %+v", c)
	}
	if c.RequestDelay != "500ms" || c.MaxCycle != "6m" {
		t.Fatalf("unexpected cycle defaults: %+v", c)
	}

	c = withDefaults(Config{BookingAt: "08:00", MaxCycle: "2m"})
	if c.BookingAt != "08:00" || c.MaxCycle != "2m" {
		t.Fatalf("defaults overwrote explicit values: %+v", c)
	}
}

func TestFormatStatus(t *testing.T) {
	cfg := withDefaults(Config{
		Targets: []booking.Target{
			{Venue: "01", Project: "002", Campus: "1", Window: "19:00-20:00", Label: "badminton"},
		},
	})
	rep := &booking.CycleReport{Date: "2026-03-02", Targets: 1, Booked: 1, Elapsed: 3 * time.Second}
	out := formatStatus(cfg, booking.Session{Cookie: "c", AccountID: "2023001"}, true, true, false, rep, time.Now())

	for _, want := range []string{"2023001", "badminton", "19:00-20:00", "12:29:30", "targets 1 / success 1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status missing %q:\n%s", want, out)
		}
	}

	out = formatStatus(cfg, booking.Session{}, false, false, true, nil, time.Time{})
	if !strings.Contains(out, "❌ none") || !strings.Contains(out, "MFA") {
		t.Fatalf("status missing session/MFA markers:\n%s", out)
	}
}

func TestFormatHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	recs := []core.BookingRecord{
		{At: now, Kind: "cycle", Date: "2026-03-02", Detail: "targets 2 / success 1", TookMS: 4200},
		{At: now, Kind: "booking", Date: "2026-03-02", Window: "19:00-20:00", Room: "场地2", Outcome: "booked"},
	}
	out := formatHistory(recs)
	for _, want := range []string{"targets 2 / success 1", "4.2s", "场地2", "booked"} {
		if !strings.Contains(out, want) {
			t.Fatalf("history missing %q:\n%s", want, out)
		}
	}
}

func TestTargetIndexArg(t *testing.T) {
	cases := []struct {
		args []string
		n    int
		want int
	}{
		{nil, 3, 0},
		{[]string{"2"}, 3, 1},
		{[]string{"3"}, 3, 2},
		{[]string{"0"}, 3, 0},
		{[]string{"4"}, 3, 0},
		{[]string{"x"}, 3, 0},
		{[]string{"2", "2026-03-02"}, 3, 1},
	}
	for _, c := range cases {
		if got := targetIndexArg(c.args, c.n); got != c.want {
			t.Fatalf("targetIndexArg(%v, %d) = %d, want %d", c.args, c.n, got, c.want)
		}
	}
}

func TestDateArg(t *testing.T) {
	timeNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	defer func() { timeNow = time.Now }()

	if got := dateArg([]string{"1", "2026-04-05"}); got != "2026-04-05" {
		t.Fatalf("explicit date ignored: %q", got)
	}
	if got := dateArg([]string{"1", "notadate"}); got != "2026-03-02" {
		t.Fatalf("bad date should fall back to tomorrow: %q", got)
	}
	if got := dateArg(nil); got != "2026-03-02" {
		t.Fatalf("missing date should fall back to tomorrow: %q", got)
	}
}

func TestFormatSlotsTruncates(t *testing.T) {
	big := `["` + strings.Repeat("x", 5000) + `"]`
	out := formatSlots(booking.Target{Label: "badminton"}, "2026-03-02", json.RawMessage(big))
	if !strings.Contains(out, "truncated") {
		t.Fatal("expected truncation marker")
	}
	if len(out) > 4000 {
		t.Fatalf("slot message too long: %d", len(out))
	}
}
