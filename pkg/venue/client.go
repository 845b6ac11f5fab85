package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"venuebot/pkg/logx"
)

// DefaultBaseURL is the venue booking application root on the university portal.
const DefaultBaseURL = "https://ehall.szu.edu.cn/qljfwapp/sys/lwSzuCgyy"

const (
	catalogTimeout = 10 * time.Second
	opTimeout      = 5 * time.Second
)

// Client is a stateless wrapper around the portal's four remote operations.
// It normalizes transport failures, login-page bodies and malformed payloads
// into *RequestError and never retries; pacing belongs to the cycle engine.
type Client struct {
	base string
	hc   *http.Client
	log  logx.Logger
}

func NewClient(baseURL string, log logx.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		// Per-op deadlines come from contexts; keep a generous transport cap
		// so a misconfigured caller can't hang forever.
		hc:  &http.Client{Timeout: 30 * time.Second},
		log: log,
	}
}

// Catalog is the venue/project reference data behind /venue list.
type Catalog struct {
	PackageVenues   []CatalogVenue   `json:"packageVenueList"`
	DismissalVenues []CatalogVenue   `json:"dismissalVenueList"`
	Projects        []CatalogProject `json:"xmList"`
}

type CatalogVenue struct {
	Code   portalString `json:"CGBM"`
	Name   portalString `json:"CGMC"`
	Campus portalString `json:"SSXQ"`
}

type CatalogProject struct {
	Code portalString `json:"XMDM"`
	Name portalString `json:"XMMC"`
	Mode portalString `json:"DCFS"`
}

// RoomQuery asks which rooms are open for one project/time/campus tuple.
type RoomQuery struct {
	Project     string // XMDM
	Date        string // YYRQ, "YYYY-MM-DD"
	BookingType string // YYLX
	TimeStart   string // KSSJ, "HH:MM"
	TimeEnd     string // JSSJ, "HH:MM"
	Campus      string // XQDM
}

// BookingRequest submits one reservation.
type BookingRequest struct {
	Venue       string // CGDM
	RoomID      string // CDWID
	Project     string // XMDM
	Campus      string // XQWID
	Window      string // KYYSJD, "HH:MM-HH:MM"
	Date        string // YYRQ
	BookingType string // YYLX
}

// FetchCatalog returns venue/project reference data. This is also the
// lightweight probe used to test whether a session cookie is still alive.
func (c *Client) FetchCatalog(ctx context.Context, s Session) (*Catalog, error) {
	body, err := c.postForm(ctx, s, "/sportVenue/getSportVenueData.do", nil, catalogTimeout)
	if err != nil {
		return nil, err
	}
	var cat Catalog
	if err := decodeJSON("catalog", body, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// FetchTimeSlots returns the portal's raw slot table for a campus/date/project.
// The row shape is portal-defined; callers render it as-is.
func (c *Client) FetchTimeSlots(ctx context.Context, s Session, campus, date, bookingType, project string) (json.RawMessage, error) {
	form := url.Values{
		"XQ":   {campus},
		"YYRQ": {date},
		"YYLX": {bookingType},
		"XMDM": {project},
	}
	body, err := c.postForm(ctx, s, "/sportVenue/getTimeList.do", form, opTimeout)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := decodeJSON("time_slots", body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// FetchRoomAvailability lists room candidates for a query, in portal order.
func (c *Client) FetchRoomAvailability(ctx context.Context, s Session, q RoomQuery) ([]RoomCandidate, error) {
	form := url.Values{
		"XMDM": {q.Project},
		"YYRQ": {q.Date},
		"YYLX": {q.BookingType},
		"KSSJ": {q.TimeStart},
		"JSSJ": {q.TimeEnd},
		"XQDM": {q.Campus},
	}
	body, err := c.postForm(ctx, s, "/modules/sportVenue/getOpeningRoom.do", form, opTimeout)
	if err != nil {
		return nil, err
	}

	var res struct {
		Datas struct {
			GetOpeningRoom struct {
				Rows []struct {
					WID      portalString `json:"WID"`
					CDMC     portalString `json:"CDMC"`
					Disabled portalBool   `json:"disabled"`
				} `json:"rows"`
			} `json:"getOpeningRoom"`
		} `json:"datas"`
	}
	if err := decodeJSON("rooms", body, &res); err != nil {
		return nil, err
	}

	rows := res.Datas.GetOpeningRoom.Rows
	out := make([]RoomCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, RoomCandidate{
			ID:       string(r.WID),
			Name:     string(r.CDMC),
			Occupied: bool(r.Disabled),
		})
	}
	return out, nil
}

// SubmitBooking posts the reservation and returns the portal's raw response
// text. Classification of that text is the caller's job (ClassifyReply).
func (c *Client) SubmitBooking(ctx context.Context, s Session, b BookingRequest) (string, error) {
	start, end, ok := SplitWindow(b.Window)
	if !ok {
		return "", &RequestError{Kind: KindMalformed, Op: "book", Detail: "invalid time window " + b.Window}
	}
	form := url.Values{
		"DHID":        {""},
		"CYRS":        {""},
		"YYRGH":       {s.AccountID},
		"YYRXM":       {s.DisplayName},
		"CGDM":        {b.Venue},
		"CDWID":       {b.RoomID},
		"XMDM":        {b.Project},
		"XQWID":       {b.Campus},
		"KYYSJD":      {b.Window},
		"YYRQ":        {b.Date},
		"YYLX":        {b.BookingType},
		"PC_OR_PHONE": {"pc"},
		"YYKS":        {b.Date + " " + start},
		"YYJS":        {b.Date + " " + end},
	}
	body, err := c.postForm(ctx, s, "/sportVenue/insertVenueBookingInfo.do", form, opTimeout)
	if err != nil {
		return "", err
	}
	return string(stripBOM(body)), nil
}

func (c *Client) postForm(ctx context.Context, s Session, path string, form url.Values, timeout time.Duration) ([]byte, error) {
	op := opName(path)

	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.base+path, reader)
	if err != nil {
		return nil, &RequestError{Kind: KindTransport, Op: op, Err: err}
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Origin", "https://ehall.szu.edu.cn")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Referer", "https://ehall.szu.edu.cn/qljfwapp/sys/lwSzuCgyy/index.do")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if s.Cookie != "" {
		req.Header.Set("Cookie", s.Cookie)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &RequestError{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &RequestError{Kind: KindTransport, Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Kind: KindTransport, Op: op, Detail: "HTTP " + resp.Status, Preview: bodyPreview(body)}
	}
	// Login sniff comes BEFORE any structured parse: an expired cookie makes
	// the portal answer 200 with an HTML login page.
	if looksLikeLoginPage(body) {
		return nil, &RequestError{Kind: KindSessionInvalid, Op: op, Detail: "portal returned a login page", Preview: bodyPreview(body)}
	}
	return body, nil
}

func opName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return strings.TrimSuffix(path, ".do")
}

func decodeJSON(op string, body []byte, v any) error {
	if err := json.Unmarshal(stripBOM(body), v); err != nil {
		return &RequestError{Kind: KindMalformed, Op: op, Err: err, Preview: bodyPreview(body)}
	}
	return nil
}

func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte{0xef, 0xbb, 0xbf})
}

// portalString tolerates the portal's habit of mixing strings and numbers
// in reference data fields.
type portalString string

func (p *portalString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = portalString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*p = portalString(n.String())
		return nil
	}
	*p = portalString(strings.Trim(string(b), `"`))
	return nil
}

// portalBool tolerates true/false, 0/1 and quoted variants.
type portalBool bool

func (p *portalBool) UnmarshalJSON(b []byte) error {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(b)), `"`))
	*p = s == "true" || s == "1" || s == "1.0"
	return nil
}
