package scheduler

import (
	"context"
	"testing"
	"time"

	"venuebot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	_, err := ParseSchedule("not-a-schedule")
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		h, m, s int
		wantErr bool
	}{
		{raw: "23:15", h: 23, m: 15},
		{raw: "12:29:30", h: 12, m: 29, s: 30},
		{raw: "00:00:00"},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "12:29:61", wantErr: true},
		{raw: "bogus", wantErr: true},
	}
	for _, tt := range tests {
		h, m, s, err := ParseClock(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseClock(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseClock(%q) error: %v", tt.raw, err)
		}
		if h != tt.h || m != tt.m || s != tt.s {
			t.Fatalf("ParseClock(%q) = %d:%d:%d, want %d:%d:%d", tt.raw, h, m, s, tt.h, tt.m, tt.s)
		}
	}
}

func TestAddDailySecondsSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop())

	job := func(ctx context.Context) error { return nil }

	// Scheduler not started: registration stores the definition for the next Start().
	if _, err := s.AddDaily("venue:booking", "12:29:30", 0, job); err != nil {
		t.Fatalf("AddDaily error: %v", err)
	}
	if _, err := s.AddDaily("venue:prewarm", "12:20", 0, job); err != nil {
		t.Fatalf("AddDaily error: %v", err)
	}
	if _, err := s.AddDaily("venue:bad", "25:00", 0, job); err == nil {
		t.Fatal("expected error for invalid clock")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	specs := map[string]string{}
	for _, d := range s.defs {
		specs[d.name] = d.spec
	}
	if got, want := specs["venue:booking"], "30 29 12 * * *"; got != want {
		t.Fatalf("booking spec = %q, want %q", got, want)
	}
	if got, want := specs["venue:prewarm"], "20 12 * * *"; got != want {
		t.Fatalf("prewarm spec = %q, want %q", got, want)
	}
}
