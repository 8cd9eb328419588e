package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"certmarket/internal/auth"
	"certmarket/internal/classify"
	"certmarket/internal/db"
	"certmarket/internal/listing"
	"certmarket/internal/view"
)

// fakeDatabase backs the store-lookup handlers in tests with an
// in-memory record slice, newest (highest ID) first like the SQL.
type fakeDatabase struct {
	records []listing.Record
}

func (f *fakeDatabase) find(limit int, match func(listing.Record) bool) []listing.Record {
	out := make([]listing.Record, 0, limit)
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if match(f.records[i]) {
			out = append(out, f.records[i])
		}
	}
	return out
}

func (f *fakeDatabase) FindRecordsByCertificate(_ context.Context, tag string, limit int) ([]listing.Record, error) {
	return f.find(limit, func(r listing.Record) bool {
		for _, t := range r.SplitCertificates {
			if t == tag {
				return true
			}
		}
		return false
	}), nil
}

func (f *fakeDatabase) FindRecordsByGroup(_ context.Context, groupID string, limit int) ([]listing.Record, error) {
	return f.find(limit, func(r listing.Record) bool { return r.GroupID == groupID }), nil
}

func (f *fakeDatabase) FindRecordByMessageID(_ context.Context, messageID string) (listing.Record, error) {
	for _, r := range f.records {
		if r.MessageID == messageID {
			return r, nil
		}
	}
	return listing.Record{}, db.ErrNoRows
}

func (f *fakeDatabase) QueryListingStats(context.Context) (*db.ListingStats, error) {
	return &db.ListingStats{TotalListings: int64(len(f.records))}, nil
}

func (f *fakeDatabase) QueryRawMessageStats(context.Context) (*db.RawMessageStats, error) {
	return &db.RawMessageStats{TotalMessages: int64(len(f.records))}, nil
}

func testRecord(id int64, typeLabel, text, member string, certTags []string, ts time.Time) listing.Record {
	return listing.Record{
		ID:                id,
		Type:              typeLabel,
		SplitCertificates: certTags,
		OriginalInfo:      text,
		MemberID:          member,
		CreatedAt:         ts,
	}
}

func newTestServer(t *testing.T, records []listing.Record) *Server {
	t.Helper()
	return newTestServerWithDB(t, records, nil)
}

func newTestServerWithDB(t *testing.T, records []listing.Record, database Database) *Server {
	t.Helper()

	store := view.NewStore(func(context.Context) ([]listing.Record, error) {
		return records, nil
	}, classify.Collector, zerolog.Nop())
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh store: %v", err)
	}

	return NewServer(database, store, nil, zerolog.Nop(), Options{})
}

func invoke(t *testing.T, handler echo.HandlerFunc, req *http.Request, pathParams map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for name, value := range pathParams {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) jsendResponse {
	t.Helper()

	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func dataMap(t *testing.T, resp jsendResponse) map[string]any {
	t.Helper()

	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %T", resp.Data)
	}
	return data
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := invoke(t, srv.handleHealth, req, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := dataMap(t, decodeResponse(t, rec))
	if data["service"] != "certmarket" {
		t.Fatalf("unexpected service name: %v", data["service"])
	}
	if data["ruleset"] != "v1" {
		t.Fatalf("expected ruleset v1, got %v", data["ruleset"])
	}
}

func TestHandleSearchRejectsNegativePagination(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	for _, query := range []string{"limit=-1", "offset=-5", "limit=abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/search?"+query, nil)
		rec := invoke(t, srv.handleSearch, req, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestHandleSearchRejectsUnknownCategory(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?category=bogus", nil)
	rec := invoke(t, srv.handleSearch, req, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSearchFiltersByTagAndCategory(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, []listing.Record{
		testRecord(1, "收一建", "收一级建造师", "m1", []string{"一级建造师"}, base),
		testRecord(2, "出二建", "出二级建造师", "m2", []string{"二级建造师"}, base),
		testRecord(3, "收消防", "收消防工程师", "m3", []string{"消防工程师"}, base),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?category=demand&tags=一级建造师,消防工程师", nil)
	rec := invoke(t, srv.handleSearch, req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	data := dataMap(t, decodeResponse(t, rec))
	items, ok := data["items"].([]any)
	if !ok {
		t.Fatalf("expected items array, got %T", data["items"])
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(items))
	}
	pagination := data["pagination"].(map[string]any)
	if pagination["total_items"] != float64(2) {
		t.Fatalf("expected total_items 2, got %v", pagination["total_items"])
	}
}

func TestHandleTagsModes(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := make([]listing.Record, 0, 6)
	for i := int64(1); i <= 6; i++ {
		records = append(records, testRecord(i, "收证", "收一级建造师 "+string(rune('a'+i)), "m", []string{"一级建造师"}, base))
	}
	records = append(records, testRecord(7, "收证", "收二级建造师", "m7", []string{"二级建造师"}, base))
	srv := newTestServer(t, records)

	// Trending applies the minimum support and hides the rare tag.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tags", nil)
	rec := invoke(t, srv.handleTags, req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := dataMap(t, decodeResponse(t, rec))
	if data["mode"] != "trending" {
		t.Fatalf("expected trending mode, got %v", data["mode"])
	}
	items := data["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 trending tag, got %d", len(items))
	}

	// Suggestion mode matches the substring regardless of support.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/tags?q=二级", nil)
	rec = invoke(t, srv.handleTags, req, nil)
	data = dataMap(t, decodeResponse(t, rec))
	if data["mode"] != "suggestion" {
		t.Fatalf("expected suggestion mode, got %v", data["mode"])
	}
	items = data["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(items))
	}
}

func TestHandleMatchingDemand(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, []listing.Record{
		testRecord(1, "收一建", "收一级建造师带B证", "m1", []string{"一级建造师", "B证"}, base),
		testRecord(2, "出B证", "出B证", "m2", []string{"B证"}, base),
		testRecord(3, "出B证", "出B证闲置", "m3", []string{"B证"}, base),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/matching/demand/1", nil)
	rec := invoke(t, srv.handleMatchingDemand, req, map[string]string{"listing_id": "1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	data := dataMap(t, decodeResponse(t, rec))
	availability := data["availability"].(map[string]any)
	if availability["available_tag_count"] != float64(1) {
		t.Fatalf("expected 1 available tag, got %v", availability["available_tag_count"])
	}
	if availability["total_supply_count"] != float64(2) {
		t.Fatalf("expected supply count 2, got %v", availability["total_supply_count"])
	}
}

func TestHandleMatchingDemandNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/matching/demand/99", nil)
	rec := invoke(t, srv.handleMatchingDemand, req, map[string]string{"listing_id": "99"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleMatchingDemandRejectsBadID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	for _, id := range []string{"abc", "0", "-3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/matching/demand/"+id, nil)
		rec := invoke(t, srv.handleMatchingDemand, req, map[string]string{"listing_id": id})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("id %q: expected 400, got %d", id, rec.Code)
		}
	}
}

func TestHandleMatchingAggregate(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, []listing.Record{
		testRecord(1, "收一建", "收一级建造师", "m1", []string{"一级建造师"}, base),
		testRecord(2, "出一建", "出一级建造师", "m2", []string{"一级建造师"}, base),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/matching/aggregate", nil)
	rec := invoke(t, srv.handleMatchingAggregate, req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := dataMap(t, decodeResponse(t, rec))
	items := data["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 aggregate row, got %d", len(items))
	}
	row := items[0].(map[string]any)
	if row["match_level"] != "high" {
		t.Fatalf("expected high match level, got %v", row["match_level"])
	}
}

func TestHandlersReportSnapshotUnavailable(t *testing.T) {
	t.Parallel()

	store := view.NewStore(func(context.Context) ([]listing.Record, error) {
		return nil, nil
	}, classify.Collector, zerolog.Nop())
	srv := NewServer(nil, store, nil, zerolog.Nop(), Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	rec := invoke(t, srv.handleSearch, req, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandleStatsWithoutDatabase(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, []listing.Record{
		testRecord(1, "收一建", "收一级建造师", "m1", []string{"一级建造师"}, base),
		testRecord(2, "出一建", "出一级建造师", "m2", []string{"一级建造师"}, base),
		testRecord(3, "转发", "转发朋友圈", "m3", nil, base),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := invoke(t, srv.handleStats, req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := dataMap(t, decodeResponse(t, rec))
	snapshot := data["snapshot"].(map[string]any)
	if snapshot["demand_count"] != float64(1) || snapshot["supply_count"] != float64(1) || snapshot["other_count"] != float64(1) {
		t.Fatalf("unexpected category counts: %v", snapshot)
	}
}

func TestHandleTagsAcceptsLimitAboveModeDefault(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, []listing.Record{
		testRecord(1, "收一建", "收一级建造师", "m1", []string{"一级建造师"}, base),
	})

	// A limit between the mode default and the shared cap is accepted
	// in both modes.
	for _, query := range []string{"limit=100", "q=建&limit=100"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tags?"+query, nil)
		rec := invoke(t, srv.handleTags, req, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("query %q: expected 200, got %d: %s", query, rec.Code, rec.Body.String())
		}
		data := dataMap(t, decodeResponse(t, rec))
		if data["limit"] != float64(100) {
			t.Fatalf("query %q: expected limit 100, got %v", query, data["limit"])
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tags?limit=999", nil)
	rec := invoke(t, srv.handleTags, req, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected cap to reject limit=999, got %d", rec.Code)
	}
}

func lookupFixture() []listing.Record {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []listing.Record{
		testRecord(1, "收一建", "收一级建造师", "m1", []string{"一级建造师"}, base),
		testRecord(2, "出B证", "出B证", "m2", []string{"B证"}, base),
		testRecord(3, "出一建", "出一级建造师", "m3", []string{"一级建造师"}, base),
	}
}

func TestHandleListingByMessage(t *testing.T) {
	t.Parallel()

	records := lookupFixture()
	records[1].MessageID = "msg-42"
	srv := newTestServerWithDB(t, records, &fakeDatabase{records: records})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings/by-message/msg-42", nil)
	rec := invoke(t, srv.handleListingByMessage, req, map[string]string{"message_id": "msg-42"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decodeResponse(t, rec))
	found := data["listing"].(map[string]any)
	if found["message_id"] != "msg-42" {
		t.Fatalf("unexpected listing: %v", found)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/listings/by-message/msg-unknown", nil)
	rec = invoke(t, srv.handleListingByMessage, req, map[string]string{"message_id": "msg-unknown"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown message, got %d", rec.Code)
	}
}

func TestHandleListingsByGroup(t *testing.T) {
	t.Parallel()

	records := lookupFixture()
	records[0].GroupID = "g1"
	records[2].GroupID = "g1"
	srv := newTestServerWithDB(t, records, &fakeDatabase{records: records})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings/by-group/g1", nil)
	rec := invoke(t, srv.handleListingsByGroup, req, map[string]string{"group_id": "g1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decodeResponse(t, rec))
	items := data["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 group records, got %d", len(items))
	}
	// Newest first.
	first := items[0].(map[string]any)
	if first["listing_id"] != float64(3) {
		t.Fatalf("expected newest record first, got %v", first["listing_id"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/listings/by-group/g1?limit=-1", nil)
	rec = invoke(t, srv.handleListingsByGroup, req, map[string]string{"group_id": "g1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestHandleListingsByCertificate(t *testing.T) {
	t.Parallel()

	records := lookupFixture()
	srv := newTestServerWithDB(t, records, &fakeDatabase{records: records})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings/by-certificate/一级建造师?limit=1", nil)
	rec := invoke(t, srv.handleListingsByCertificate, req, map[string]string{"tag": "一级建造师"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decodeResponse(t, rec))
	items := data["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected the limit to cap output, got %d items", len(items))
	}
}

func TestLookupHandlersWithoutDatabase(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	cases := []struct {
		handler echo.HandlerFunc
		param   string
		value   string
	}{
		{srv.handleListingByMessage, "message_id", "msg-1"},
		{srv.handleListingsByGroup, "group_id", "g1"},
		{srv.handleListingsByCertificate, "tag", "B证"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/listings", nil)
		rec := invoke(t, tc.handler, req, map[string]string{tc.param: tc.value})
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503 without a database, got %d", tc.param, rec.Code)
		}
	}
}

func TestHandleStatsWithDatabase(t *testing.T) {
	t.Parallel()

	records := lookupFixture()
	srv := newTestServerWithDB(t, records, &fakeDatabase{records: records})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := invoke(t, srv.handleStats, req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decodeResponse(t, rec))
	listings := data["listings"].(map[string]any)
	if listings["total_listings"] != float64(3) {
		t.Fatalf("expected 3 total listings, got %v", listings["total_listings"])
	}
	if _, ok := data["raw_messages"]; !ok {
		t.Fatalf("expected raw message stats to be included")
	}
}

func TestRequireIngestToken(t *testing.T) {
	t.Parallel()

	hash, err := auth.HashToken("secret-token")
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}

	store := view.NewStore(func(context.Context) ([]listing.Record, error) {
		return nil, nil
	}, classify.Collector, zerolog.Nop())
	srv := NewServer(nil, store, nil, zerolog.Nop(), Options{IngestTokenHash: hash})

	reached := false
	guarded := srv.requireIngestToken(func(c echo.Context) error {
		reached = true
		return success(c, nil)
	})

	cases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer wrong", wantStatus: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer secret-token", wantStatus: http.StatusOK},
	}
	for _, tc := range cases {
		reached = false
		req := httptest.NewRequest(http.MethodPost, "/api/v1/listings", strings.NewReader("{}"))
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := invoke(t, guarded, req, nil)
		if rec.Code != tc.wantStatus {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.wantStatus, rec.Code)
		}
		if tc.wantStatus == http.StatusOK && !reached {
			t.Fatalf("%s: expected inner handler to run", tc.name)
		}
	}
}

func TestIngestEndpointDisabledWithoutService(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/listings", strings.NewReader("{}"))
	rec := invoke(t, srv.handleIngestListings, req, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
