package core

import (
	"strings"
	"testing"
	"time"
)

func TestStatusText(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 29, 30, 0, time.UTC)
	snap := Snapshot{
		Enabled:  true,
		Timezone: "Asia/Shanghai",
		Workers:  2,
		Schedules: []ScheduleInfo{
			{Name: "venue:book", Spec: "30 29 12 * * *", Next: started.Add(24 * time.Hour)},
			{Name: "venue:maintain", Spec: "@every 30m0s"},
		},
		History: []HistoryItem{
			{Name: "venue:prewarm", Started: started.Add(-10 * time.Minute), Duration: 300 * time.Millisecond},
			{Name: "venue:book", Started: started, Duration: 42 * time.Second, Error: "no rooms left"},
		},
	}
	notes := []NotificationRecord{
		{At: started.Add(time.Minute), Text: "🏁 Booking cycle finished."},
	}

	out := statusText(snap, notes)

	for _, want := range []string{
		"Scheduler: enabled (2 workers, tz Asia/Shanghai",
		"venue:book  30 29 12 * * *  next 03-02 12:29:30",
		"venue:maintain  @every 30m0s",
		"❌ 03-01 12:29:30  venue:book (42s)  no rooms left",
		"✅ 03-01 12:19:30  venue:prewarm (300ms)",
		"Notifications sent: 1 (last 03-01 12:30:30)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("status text missing %q:\n%s", want, out)
		}
	}
	// Newest run first.
	if strings.Index(out, "venue:book (42s)") > strings.Index(out, "venue:prewarm") {
		t.Fatalf("runs not newest-first:\n%s", out)
	}
}

func TestStatusTextDisabled(t *testing.T) {
	out := statusText(Snapshot{}, nil)
	if !strings.Contains(out, "Scheduler: disabled") {
		t.Fatalf("missing disabled line:\n%s", out)
	}
	if !strings.Contains(out, "Notifications sent: 0") {
		t.Fatalf("missing notification count:\n%s", out)
	}
}

func TestStatusTextCapsHistory(t *testing.T) {
	snap := Snapshot{Enabled: true}
	for i := 0; i < 20; i++ {
		snap.History = append(snap.History, HistoryItem{Name: "venue:maintain", Started: time.Now()})
	}
	out := statusText(snap, nil)
	if n := strings.Count(out, "venue:maintain"); n != 5 {
		t.Fatalf("expected 5 history rows, got %d:\n%s", n, out)
	}
}
