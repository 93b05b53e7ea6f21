package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/earnings-feed/internal/api"
	"github.com/rickgao/earnings-feed/internal/connection"
	"github.com/rickgao/earnings-feed/internal/feed"
	"github.com/rickgao/earnings-feed/internal/linkfetch"
	"github.com/rickgao/earnings-feed/internal/model"
)

var testTime = time.Date(2025, 7, 30, 20, 5, 0, 0, time.UTC)

type fakeFeed struct {
	mu     sync.Mutex
	view   *feed.View
	subs   []chan *feed.View
	resets int
	err    error
}

func newFakeFeed(items ...model.Message) *fakeFeed {
	v := &feed.View{Baselined: true, Known: len(items), SnapshotSeq: 3, LastSnapshot: testTime}
	for _, m := range items {
		v.Items = append(v.Items, feed.Item{Message: m, Subject: m.Subject()})
	}
	return &fakeFeed{view: v}
}

func (f *fakeFeed) View() *feed.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeFeed) Subscribe() (<-chan *feed.View, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *feed.View, 4)
	ch <- f.view
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeFeed) publish(v *feed.View) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view = v
	for _, ch := range f.subs {
		ch <- v
	}
}

func (f *fakeFeed) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resets++
	f.view = &feed.View{Known: f.view.Known, Items: f.view.Items}
	return nil
}

func (f *fakeFeed) Message(id string) (model.Message, bool) {
	for _, it := range f.View().Items {
		if it.ID == id {
			return it.Message, true
		}
	}
	return model.Message{}, false
}

type fakeRefresher struct {
	calls int
	err   error
}

func (r *fakeRefresher) Refresh(ctx context.Context) error {
	r.calls++
	return r.err
}

type fakePush struct {
	enabled bool
	err     error
}

func (p *fakePush) Enable() error {
	if p.err != nil {
		return p.err
	}
	p.enabled = true
	return nil
}
func (p *fakePush) Disable()      { p.enabled = false }
func (p *fakePush) Enabled() bool { return p.enabled }
func (p *fakePush) State() connection.State {
	if p.enabled {
		return connection.StateConnected
	}
	return connection.StateDisconnected
}

type fakeResources struct {
	err       error
	puts      map[string]string
	lastDate  string
	lastQuery string
}

func (r *fakeResources) Earnings(ctx context.Context, date string) ([]model.EarningsItem, error) {
	r.lastDate = date
	if r.err != nil {
		return nil, r.err
	}
	return []model.EarningsItem{{Ticker: "AAPL", Date: "2025-07-31", Time: "amc", Raw: json.RawMessage(`{"ticker":"AAPL"}`)}}, nil
}

func (r *fakeResources) HistoricalMetrics(ctx context.Context, ticker, date string) (*model.HistoricalMetrics, error) {
	r.lastQuery = ticker + "@" + date
	if r.err != nil {
		return nil, r.err
	}
	return &model.HistoricalMetrics{Ticker: ticker, Date: date, Raw: json.RawMessage(`{"eps":[1,2]}`)}, nil
}

func (r *fakeResources) CompanyConfig(ctx context.Context, ticker string) (*model.CompanyConfig, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &model.CompanyConfig{Ticker: ticker, Raw: json.RawMessage(`{"ir_url":"https://ir.example.com"}`)}, nil
}

func (r *fakeResources) PutHistoricalMetrics(ctx context.Context, ticker, date string, doc json.RawMessage) error {
	if r.err != nil {
		return r.err
	}
	r.puts["historical/"+ticker+"@"+date] = string(doc)
	return nil
}

func (r *fakeResources) PutCompanyConfig(ctx context.Context, ticker string, doc json.RawMessage) error {
	if r.err != nil {
		return r.err
	}
	r.puts["config/"+ticker] = string(doc)
	return nil
}

type fakeLinks struct {
	err error
	url string
}

func (l *fakeLinks) Fetch(ctx context.Context, rawURL string) (*linkfetch.Page, error) {
	l.url = rawURL
	if l.err != nil {
		return nil, l.err
	}
	return &linkfetch.Page{URL: rawURL, Title: "Q2 Results", Markdown: "# Q2", FetchedAt: testTime}, nil
}

type fakeDB struct{ err error }

func (d fakeDB) Ping(ctx context.Context) error { return d.err }

type testEnv struct {
	srv       *Server
	feed      *fakeFeed
	refresher *fakeRefresher
	push      *fakePush
	resources *fakeResources
	links     *fakeLinks
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		feed: newFakeFeed(
			model.Message{ID: "m1", Ticker: "AAPL", Year: 2025, Quarter: 2, Timestamp: testTime, Content: "beat"},
			model.Message{ID: "m2", Ticker: "AAPL", Year: 2025, Quarter: 2, Timestamp: testTime, Link: "https://ir.example.com/q2"},
		),
		refresher: &fakeRefresher{},
		push:      &fakePush{enabled: true},
		resources: &fakeResources{puts: make(map[string]string)},
		links:     &fakeLinks{},
	}
	env.srv = New(Config{Mode: gin.TestMode, SSEKeepAlive: time.Hour}, Deps{
		Feed:         env.feed,
		Refresher:    env.refresher,
		Push:         env.push,
		Resources:    env.resources,
		Links:        env.links,
		CacheBackend: "memory",
	}, nil)
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["status"] != "ok" || body["cache"] != "memory" || body["database"] != "disabled" {
		t.Errorf("body = %v", body)
	}
	push := body["push"].(map[string]any)
	if push["state"] != "connected" || push["enabled"] != true {
		t.Errorf("push = %v", push)
	}
	if body["last_snapshot"] != testTime.Format(time.RFC3339) {
		t.Errorf("last_snapshot = %v", body["last_snapshot"])
	}
	if rec.Header().Get(api.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestHealth_Database(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		wantStatus int
		wantDB     string
	}{
		{"reachable", fakeDB{}, http.StatusOK, "ok"},
		{"unreachable", fakeDB{err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.srv.deps.DB = tt.db

			rec := env.do(http.MethodGet, "/health", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := decode(t, rec)["database"]; got != tt.wantDB {
				t.Errorf("database = %v, want %s", got, tt.wantDB)
			}
		})
	}
}

func TestRequestIDPropagated(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	req.Header.Set(api.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get(api.RequestIDHeader); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}

func TestFeed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/feed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var v feed.View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(v.Items) != 2 || v.Items[0].ID != "m1" || v.Items[0].Subject != "AAPL:2025Q2" {
		t.Errorf("items = %+v", v.Items)
	}
	if !v.Baselined || v.SnapshotSeq != 3 {
		t.Errorf("view = %+v", v)
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/feed/refresh", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if env.refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", env.refresher.calls)
	}

	env.refresher.err = &api.APIError{StatusCode: 503, Message: "maintenance"}
	rec = env.do(http.MethodPost, "/api/feed/refresh", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if msg, _ := decode(t, rec)["error"].(string); !strings.Contains(msg, "maintenance") {
		t.Errorf("error = %q", msg)
	}
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/feed/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.feed.resets != 1 {
		t.Errorf("resets = %d, want 1", env.feed.resets)
	}
	if decode(t, rec)["baselined"] != false {
		t.Error("view after reset should not be baselined")
	}

	env.feed.err = feed.ErrStopped
	rec = env.do(http.MethodPost, "/api/feed/reset", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when stopped", rec.Code)
	}
}

func TestPushToggle(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantEnabled bool
	}{
		{"disable", `{"enabled":false}`, http.StatusOK, false},
		{"enable", `{"enabled":true}`, http.StatusOK, true},
		{"missing field", `{}`, http.StatusBadRequest, true},
		{"not json", `on`, http.StatusBadRequest, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/feed/push", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if env.push.enabled != tt.wantEnabled {
				t.Errorf("enabled = %v, want %v", env.push.enabled, tt.wantEnabled)
			}
		})
	}

	env.push.err = connection.ErrNotStarted
	env.push.enabled = false
	if rec := env.do(http.MethodPost, "/api/feed/push", `{"enabled":true}`); rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 when enable fails", rec.Code)
	}

	env.srv.deps.Push = nil
	if rec := env.do(http.MethodPost, "/api/feed/push", `{"enabled":true}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without push channel", rec.Code)
	}
}

func TestLink(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/messages/m2/link", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
	}
	if env.links.url != "https://ir.example.com/q2" {
		t.Errorf("fetched %q", env.links.url)
	}
	if decode(t, rec)["title"] != "Q2 Results" {
		t.Errorf("body = %s", rec.Body)
	}

	tests := []struct {
		name       string
		path       string
		fetchErr   error
		wantStatus int
	}{
		{"unknown message", "/api/messages/nope/link", nil, http.StatusNotFound},
		{"content message", "/api/messages/m1/link", nil, http.StatusUnprocessableEntity},
		{"binary link", "/api/messages/m2/link", linkfetch.ErrUnsupportedContent, http.StatusUnprocessableEntity},
		{"fetch failure", "/api/messages/m2/link", errors.New("fetch: Not Found"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.links.err = tt.fetchErr
			if rec := env.do(http.MethodGet, tt.path, ""); rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestEarnings(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/earnings?date=2025-07-31", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.resources.lastDate != "2025-07-31" {
		t.Errorf("date = %q", env.resources.lastDate)
	}
	items := decode(t, rec)["earnings"].([]any)
	if len(items) != 1 {
		t.Errorf("earnings = %v", items)
	}

	if rec := env.do(http.MethodGet, "/api/earnings?date=31/07/2025", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad date", rec.Code)
	}
}

func TestCompanyConfig(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/configs/MSFT", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["ticker"] != "MSFT" {
		t.Errorf("body = %s", rec.Body)
	}

	rec = env.do(http.MethodPut, "/api/configs/MSFT", `{"ir_url":"https://msft.example.com"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d (%s)", rec.Code, rec.Body)
	}
	if got := env.resources.puts["config/MSFT"]; got != `{"ir_url":"https://msft.example.com"}` {
		t.Errorf("stored %q", got)
	}

	if rec := env.do(http.MethodPut, "/api/configs/MSFT", `{broken`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for invalid json", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/configs/"+strings.Repeat("X", 20), ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for invalid ticker", rec.Code)
	}
}

func TestHistorical(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/historical/NVDA?date=2025-08-27", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.resources.lastQuery != "NVDA@2025-08-27" {
		t.Errorf("query = %q", env.resources.lastQuery)
	}

	rec = env.do(http.MethodPut, "/api/historical/NVDA?date=2025-08-27", `{"eps":[0.6]}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d", rec.Code)
	}
	if _, ok := env.resources.puts["historical/NVDA@2025-08-27"]; !ok {
		t.Errorf("puts = %v", env.resources.puts)
	}
}

func TestUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", &api.APIError{StatusCode: 404, Message: "no such ticker"}, http.StatusNotFound},
		{"bad request", &api.APIError{StatusCode: 400, Message: "bad date"}, http.StatusBadRequest},
		{"server error", fmt.Errorf("get company config: %w", &api.APIError{StatusCode: 500, Message: "boom"}), http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"transport", errors.New("connection refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.resources.err = tt.err

			rec := env.do(http.MethodGet, "/api/configs/AAPL", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if _, ok := decode(t, rec)["error"]; !ok {
				t.Errorf("body = %s, want error field", rec.Body)
			}
		})
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/feed/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}

	events := readEvents(t, bufio.NewScanner(resp.Body))

	first := <-events
	if first.Known != 2 {
		t.Errorf("first view known = %d, want 2", first.Known)
	}

	env.feed.publish(&feed.View{Known: 3, Highlighted: []string{"m3"}})
	second := <-events
	if second.Known != 3 || len(second.Highlighted) != 1 {
		t.Errorf("second view = %+v", second)
	}
}

func TestRun_ShutdownEndsEventStreams(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	env := newTestEnv(t)
	srv := New(Config{Addr: addr, Mode: gin.TestMode, ShutdownTimeout: 2 * time.Second, SSEKeepAlive: time.Hour},
		env.srv.deps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	base := "http://" + addr
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not reachable: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get(base + "/api/feed/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	events := readEvents(t, bufio.NewScanner(resp.Body))
	<-events

	start := time.Now()
	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
		if elapsed := time.Since(start); elapsed >= 2*time.Second {
			t.Errorf("Run() took %v to stop", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}

	// The stream is closed by the server.
	for range events {
	}
}

// readEvents decodes "view" events from an SSE stream.
func readEvents(t *testing.T, sc *bufio.Scanner) <-chan feed.View {
	t.Helper()
	out := make(chan feed.View, 4)
	go func() {
		defer close(out)
		event := ""
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:") && event == "view":
				var v feed.View
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &v); err != nil {
					t.Errorf("decode event: %v", err)
					return
				}
				out <- v
			}
		}
	}()
	return out
}
