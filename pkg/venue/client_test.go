package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"venuebot/pkg/logx"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, logx.Nop())
}

func TestFetchCatalogLoginPageSniff(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Expired cookies get a 200 HTML login page, not an error status.
		w.Write([]byte("<!DOCTYPE html><html><head><title>统一身份认证</title></head></html>"))
	})

	_, err := c.FetchCatalog(context.Background(), Session{Cookie: "stale"})
	if !IsSessionInvalid(err) {
		t.Fatalf("expected session-invalid error, got %v", err)
	}
}

func TestFetchCatalogParsesReferenceData(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cookie"); got != "JSESSIONID=abc" {
			t.Errorf("missing cookie header, got %q", got)
		}
		w.Write([]byte(`{
			"packageVenueList":[{"CGBM":"01","CGMC":"风雨操场","SSXQ":"1"}],
			"dismissalVenueList":[{"CGBM":2,"CGMC":"体育馆","SSXQ":"2"}],
			"xmList":[{"XMDM":"002","XMMC":"羽毛球","DCFS":"1"}]
		}`))
	})

	cat, err := c.FetchCatalog(context.Background(), Session{Cookie: "JSESSIONID=abc"})
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if len(cat.PackageVenues) != 1 || cat.PackageVenues[0].Name != "风雨操场" {
		t.Fatalf("unexpected package venues: %+v", cat.PackageVenues)
	}
	// Numeric codes come back as their string form.
	if cat.DismissalVenues[0].Code != "2" {
		t.Fatalf("numeric code not normalized: %+v", cat.DismissalVenues[0])
	}
	if cat.Projects[0].Name != "羽毛球" {
		t.Fatalf("unexpected projects: %+v", cat.Projects)
	}
}

func TestFetchRoomAvailability(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("XMDM") != "002" || r.PostFormValue("KSSJ") != "19:00" || r.PostFormValue("JSSJ") != "20:00" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		// BOM plus tolerant field types, as the portal actually serves them.
		w.Write(append([]byte{0xef, 0xbb, 0xbf}, []byte(`{
			"datas":{"getOpeningRoom":{"rows":[
				{"WID":"w1","CDMC":"场地1","disabled":true},
				{"WID":"w2","CDMC":"场地2","disabled":"0"},
				{"WID":3,"CDMC":"场地3","disabled":1}
			]}}
		}`)...))
	})

	rooms, err := c.FetchRoomAvailability(context.Background(), Session{Cookie: "c"}, RoomQuery{
		Project: "002", Date: "2026-03-02", BookingType: "02", TimeStart: "19:00", TimeEnd: "20:00", Campus: "1",
	})
	if err != nil {
		t.Fatalf("FetchRoomAvailability: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("expected 3 rooms, got %+v", rooms)
	}
	if !rooms[0].Occupied || rooms[1].Occupied || !rooms[2].Occupied {
		t.Fatalf("occupancy mismatch: %+v", rooms)
	}
	if rooms[2].ID != "3" {
		t.Fatalf("numeric WID not normalized: %+v", rooms[2])
	}
}

func TestSubmitBookingForm(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("YYKS") != "2026-03-02 19:00" || r.PostFormValue("YYJS") != "2026-03-02 20:00" {
			t.Errorf("window not expanded into timestamps: %v", r.PostForm)
		}
		if r.PostFormValue("YYRGH") != "2023001" || r.PostFormValue("PC_OR_PHONE") != "pc" {
			t.Errorf("unexpected identity fields: %v", r.PostForm)
		}
		w.Write(append([]byte{0xef, 0xbb, 0xbf}, []byte(`{"msg":"预约成功"}`)...))
	})

	reply, err := c.SubmitBooking(context.Background(), Session{Cookie: "c", AccountID: "2023001", DisplayName: "张三"}, BookingRequest{
		Venue: "01", RoomID: "w2", Project: "002", Campus: "1",
		Window: "19:00-20:00", Date: "2026-03-02", BookingType: "02",
	})
	if err != nil {
		t.Fatalf("SubmitBooking: %v", err)
	}
	if ClassifyReply(reply) != ReplyBooked {
		t.Fatalf("reply not classified as booked: %q", reply)
	}
}

func TestSubmitBookingRejectsBadWindow(t *testing.T) {
	c := NewClient("http://unused.invalid", logx.Nop())
	_, err := c.SubmitBooking(context.Background(), Session{Cookie: "c"}, BookingRequest{Window: "nonsense"})
	re, ok := err.(*RequestError)
	if !ok || re.Kind != KindMalformed {
		t.Fatalf("expected malformed-request error, got %v", err)
	}
}

func TestPostFormTransportErrors(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusBadGateway)
	})

	_, err := c.FetchCatalog(context.Background(), Session{Cookie: "c"})
	re, ok := err.(*RequestError)
	if !ok || re.Kind != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if IsSessionInvalid(err) {
		t.Fatal("transport error misclassified as session-invalid")
	}
}

func TestFetchTimeSlotsRaw(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("XQ") != "1" || r.PostFormValue("YYRQ") != "2026-03-02" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		w.Write([]byte(`[{"SJD":"19:00-20:00"}]`))
	})

	raw, err := c.FetchTimeSlots(context.Background(), Session{Cookie: "c"}, "1", "2026-03-02", "02", "002")
	if err != nil {
		t.Fatalf("FetchTimeSlots: %v", err)
	}
	if string(raw) == "" {
		t.Fatal("empty raw slots")
	}
}
