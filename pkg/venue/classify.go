package venue

import "strings"

// Reply is the classified outcome of a booking submission.
//
// The portal's reply vocabulary is undocumented; classification is a
// deliberate substring heuristic on the raw response text and this file is
// the only place that needs updating if the portal's wording changes.
type Reply int

const (
	ReplyUnknown Reply = iota
	ReplyBooked
	ReplyConflict
)

func (r Reply) String() string {
	switch r {
	case ReplyBooked:
		return "booked"
	case ReplyConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// ClassifyReply matches the observed portal vocabulary:
// 成功 means the reservation was accepted; 冲突 and 已被 both mean the room
// was taken by a competitor between lock and submit.
func ClassifyReply(text string) Reply {
	switch {
	case strings.Contains(text, "成功"):
		return ReplyBooked
	case strings.Contains(text, "冲突"), strings.Contains(text, "已被"):
		return ReplyConflict
	default:
		return ReplyUnknown
	}
}

// looksLikeLoginPage sniffs a response body for the login redirect the portal
// serves when the cookie is dead. Checked on a short lowercase preview BEFORE
// any attempt to parse the body as JSON.
func looksLikeLoginPage(body []byte) bool {
	n := len(body)
	if n > 100 {
		n = 100
	}
	preview := strings.ToLower(string(body[:n]))
	return strings.Contains(preview, "<html") ||
		strings.Contains(preview, "<!doctype") ||
		strings.Contains(preview, "cas")
}

// bodyPreview returns a short printable prefix for diagnostics.
func bodyPreview(body []byte) string {
	n := len(body)
	if n > 120 {
		n = 120
	}
	return strings.TrimSpace(string(body[:n]))
}
