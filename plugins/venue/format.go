package venue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"venuebot/internal/core"
	booking "venuebot/pkg/venue"
)

// swapped in tests
var timeNow = time.Now

func formatStatus(cfg Config, sess booking.Session, hasSession, canRenew, mfaStuck bool, rep *booking.CycleReport, at time.Time) string {
	var b strings.Builder
	b.WriteString("🏸 Venue Booking Status\n━━━━━━━━━━━━━━━━━━━━\n")

	if hasSession {
		fmt.Fprintf(&b, "Session: ✅ present (%s)\n", sess.AccountID)
	} else {
		b.WriteString("Session: ❌ none\n")
	}
	if canRenew {
		b.WriteString("Auto-renewal: enabled\n")
	} else {
		b.WriteString("Auto-renewal: disabled (no credentials)\n")
	}
	if mfaStuck {
		b.WriteString("⚠️ Renewal blocked by MFA; run /venue refresh after a manual login\n")
	}

	fmt.Fprintf(&b, "Targets: %d\n", len(cfg.Targets))
	for i, t := range cfg.Targets {
		label := t.Label
		if label == "" {
			label = t.Venue + "/" + t.Project
		}
		fmt.Fprintf(&b, "  %d. %s  %s\n", i+1, label, t.Window)
	}
	fmt.Fprintf(&b, "Schedule: booking %s, prewarm %s, maintain every %s\n", cfg.BookingAt, cfg.PrewarmAt, cfg.MaintainEvery)

	if rep != nil {
		fmt.Fprintf(&b, "\nLast cycle (%s): %s, targets %d / success %d in %s",
			at.Format("2006-01-02 15:04:05"), rep.Date, rep.Targets, rep.Booked, rep.Elapsed.Round(time.Millisecond))
	}
	return b.String()
}

func formatCatalog(cat *booking.Catalog) string {
	if len(cat.PackageVenues)+len(cat.DismissalVenues)+len(cat.Projects) == 0 {
		return "catalog is empty"
	}
	var b strings.Builder
	b.WriteString("🏟 Portal Catalog\n━━━━━━━━━━━━━━━━━━━━\n")
	if len(cat.PackageVenues) > 0 {
		b.WriteString("Venues (package):\n")
		for _, v := range cat.PackageVenues {
			fmt.Fprintf(&b, "  %s  %s (campus %s)\n", v.Code, v.Name, v.Campus)
		}
	}
	if len(cat.DismissalVenues) > 0 {
		b.WriteString("Venues (per-slot):\n")
		for _, v := range cat.DismissalVenues {
			fmt.Fprintf(&b, "  %s  %s (campus %s)\n", v.Code, v.Name, v.Campus)
		}
	}
	if len(cat.Projects) > 0 {
		b.WriteString("Projects:\n")
		for _, pr := range cat.Projects {
			fmt.Fprintf(&b, "  %s  %s\n", pr.Code, pr.Name)
		}
	}
	return b.String()
}

// formatSlots renders the raw slot payload. The row shape is portal-defined,
// so this stays a pretty-printed dump, truncated to stay inside message limits.
func formatSlots(t booking.Target, date string, raw json.RawMessage) string {
	label := t.Label
	if label == "" {
		label = t.Venue + "/" + t.Project
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(raw)
	}
	body := pretty.String()
	const limit = 3500
	if len(body) > limit {
		body = body[:limit] + "\n... (truncated)"
	}
	return fmt.Sprintf("🕐 Slots for %s on %s:\n%s", label, date, body)
}

func formatRooms(t booking.Target, date string, rooms []booking.RoomCandidate) string {
	label := t.Label
	if label == "" {
		label = t.Venue + "/" + t.Project
	}
	if len(rooms) == 0 {
		return fmt.Sprintf("no rooms listed for %s on %s %s", label, date, t.Window)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🏸 %s on %s %s:\n", label, date, t.Window)
	free := 0
	for _, r := range rooms {
		mark := "✅"
		if r.Occupied {
			mark = "⛔"
		} else {
			free++
		}
		fmt.Fprintf(&b, "  %s %s\n", mark, r.Name)
	}
	fmt.Fprintf(&b, "%d of %d free", free, len(rooms))
	return b.String()
}

func formatHistory(recs []core.BookingRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📜 Recent %d booking records\n━━━━━━━━━━━━━━━━━━━━\n", len(recs))
	for _, r := range recs {
		switch r.Kind {
		case "cycle":
			fmt.Fprintf(&b, "\n%s  cycle %s: %s (%.1fs)",
				r.At.Format("01-02 15:04"), r.Date, r.Detail, float64(r.TookMS)/1000)
		default:
			fmt.Fprintf(&b, "\n%s  %s %s %s → %s",
				r.At.Format("01-02 15:04"), r.Date, r.Window, r.Room, r.Outcome)
		}
	}
	return b.String()
}
