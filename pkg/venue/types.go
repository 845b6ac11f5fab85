package venue

import "strings"

// Session is the portal authentication state. It is replaced wholesale on
// renewal, never mutated field by field.
type Session struct {
	Cookie      string `json:"cookie"`
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
}

func (s Session) Valid() bool { return strings.TrimSpace(s.Cookie) != "" }

// Target is one configured desired booking. Immutable input from config;
// the engine copies it into a cycle-scoped Attempt before mutating anything.
//
// The portal speaks in opaque codes, so every field except Window and Label
// is a code string taken verbatim from the portal's reference data.
type Target struct {
	Venue       string `json:"venue"`        // venue code (CGDM)
	Project     string `json:"project"`      // sport/project code (XMDM)
	Campus      string `json:"campus"`       // campus code (XQWID)
	BookingType string `json:"booking_type"` // booking mode code (YYLX)
	Window      string `json:"window"`       // time window, "HH:MM-HH:MM"
	Label       string `json:"label"`        // free-text label for notifications
}

// RoomCandidate is a transient availability result. Never persisted.
type RoomCandidate struct {
	ID       string
	Name     string
	Occupied bool
}

// SplitWindow splits "HH:MM-HH:MM" into start and end.
func SplitWindow(w string) (start, end string, ok bool) {
	i := strings.IndexByte(w, '-')
	if i <= 0 || i >= len(w)-1 {
		return "", "", false
	}
	return strings.TrimSpace(w[:i]), strings.TrimSpace(w[i+1:]), true
}
