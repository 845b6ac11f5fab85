package core

import (
	"fmt"
	"strings"
	"time"

	notif "venuebot/internal/services/notify"
)

// NotificationRecord is re-exported for the status surface.
type NotificationRecord = notif.HistoryItem

// statusText renders the /status reply: scheduler state, registered
// schedules with their next fire time, recent task runs and notifier
// throughput.
func statusText(snap Snapshot, notes []NotificationRecord) string {
	var b strings.Builder
	b.WriteString("⚙️ Bot Status\n━━━━━━━━━━━━━━━━━━━━\n")

	if snap.Enabled {
		fmt.Fprintf(&b, "Scheduler: enabled (%d workers, tz %s, queue %d)\n", snap.Workers, snap.Timezone, snap.QueueLen)
	} else {
		b.WriteString("Scheduler: disabled\n")
	}

	if len(snap.Schedules) > 0 {
		b.WriteString("Schedules:\n")
		for _, s := range snap.Schedules {
			fmt.Fprintf(&b, "  %s  %s", s.Name, s.Spec)
			if !s.Next.IsZero() {
				fmt.Fprintf(&b, "  next %s", s.Next.Format("01-02 15:04:05"))
			}
			b.WriteString("\n")
		}
	}

	// Newest first, capped so the reply stays a glance, not a log dump.
	const maxRuns = 5
	hist := snap.History
	if len(hist) > maxRuns {
		hist = hist[len(hist)-maxRuns:]
	}
	if len(hist) > 0 {
		b.WriteString("Recent runs:\n")
		for i := len(hist) - 1; i >= 0; i-- {
			h := hist[i]
			mark := "✅"
			if h.Error != "" {
				mark = "❌"
			}
			fmt.Fprintf(&b, "  %s %s  %s (%s)", mark, h.Started.Format("01-02 15:04:05"), h.Name, h.Duration.Round(time.Millisecond))
			if h.Error != "" {
				b.WriteString("  " + h.Error)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "Notifications sent: %d", len(notes))
	if len(notes) > 0 {
		fmt.Fprintf(&b, " (last %s)", notes[len(notes)-1].At.Format("01-02 15:04:05"))
	}
	return b.String()
}
