package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"liquidity_go/internal/book"
	"liquidity_go/internal/domain"
	"liquidity_go/internal/infra"
	"liquidity_go/internal/service"
	"liquidity_go/pkg/quant"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

type stubStatus struct {
	status domain.SystemStatus
}

func (s stubStatus) Status() domain.SystemStatus { return s.status }

func seedServerStore(t *testing.T, id string, bid, ask, size float64) *book.Store {
	t.Helper()
	st := book.NewStore(id, "BTC-USD", 50, 16)
	now := time.Now()
	err := st.Apply(&domain.BookUpdate{
		VenueID: id, Symbol: "BTC-USD", Sequence: 1, Timestamp: now, Snapshot: true,
		Bids: []domain.PriceLevel{{Price: quant.ToPriceMicros(bid), Size: quant.ToQtySats(size)}},
		Asks: []domain.PriceLevel{{Price: quant.ToPriceMicros(ask), Size: quant.ToQtySats(size)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	st.SetConnected(true)
	st.RecordMessage(now)
	return st
}

func newTestServer(t *testing.T, sorStatus domain.SystemStatus) (*Server, *Hub) {
	t.Helper()
	cfg := &infra.Config{}
	cfg.Core.Symbol = "BTC-USD"
	cfg.Core.TickHz = 2
	cfg.Core.DepthWindowBps = 50
	cfg.Core.MinRequiredVenues = 2
	cfg.Core.StaleThresholdMS = 3000

	stores := []*book.Store{
		seedServerStore(t, "binance", 117668.40, 117669.65, 2),
		seedServerStore(t, "kraken", 117770.10, 117771.20, 2),
	}
	counters := &infra.Counters{}
	hub := NewHub(5*time.Second, 8, counters)
	tracker := service.NewStatusTracker([]string{"binance", "kraken"}, 2, 1,
		cfg.StaleThreshold(), 30*time.Second)
	metrics := service.NewMetricsService(cfg, stores, tracker, hub, counters, nil)
	fees := map[string]decimal.Decimal{
		"binance": decimal.RequireFromString("7.5"),
		"kraken":  decimal.RequireFromString("16"),
	}
	sor := service.NewSOR("BTC-USD", cfg.StaleThreshold(), stores, fees,
		stubStatus{sorStatus}, nil)
	return NewServer(cfg, hub, metrics, sor, stores, counters, nil), hub
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, domain.StatusLive)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Venues map[string]struct {
			Connected        bool  `json:"connected"`
			LastMessageAgeMs int64 `json:"lastMessageAgeMs"`
		} `json:"venues"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "warming" {
		t.Errorf("status = %q, want warming before first tick", body.Status)
	}
	v, ok := body.Venues["binance"]
	if !ok || !v.Connected {
		t.Errorf("binance venue = %+v", v)
	}
	if v.LastMessageAgeMs < 0 {
		t.Errorf("age = %d, want non-negative", v.LastMessageAgeMs)
	}
}

func TestExecuteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, domain.StatusLive)

	req := httptest.NewRequest(http.MethodPost, "/api/execute",
		strings.NewReader(`{"symbol":"BTC-USD","side":"buy","notional":"0.5"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var cmp domain.ExecutionComparison
	if err := json.Unmarshal(rec.Body.Bytes(), &cmp); err != nil {
		t.Fatal(err)
	}
	if !cmp.SOR.FilledQuantity.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("filled = %s, want 0.5", cmp.SOR.FilledQuantity)
	}
	if len(cmp.SOR.VenueBreakdown) == 0 {
		t.Error("breakdown is empty")
	}
}

func TestExecuteErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		sorStatus domain.SystemStatus
		body      string
		wantCode  int
	}{
		{"warming system", domain.StatusWarming,
			`{"symbol":"BTC-USD","side":"buy","notional":"0.5"}`, http.StatusServiceUnavailable},
		{"insufficient liquidity", domain.StatusLive,
			`{"symbol":"BTC-USD","side":"buy","notional":"9999"}`, http.StatusUnprocessableEntity},
		{"bad side", domain.StatusLive,
			`{"symbol":"BTC-USD","side":"hold","notional":"1"}`, http.StatusBadRequest},
		{"malformed body", domain.StatusLive, `{not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tc.sorStatus)
			req := httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)
			if rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.wantCode, rec.Body.String())
			}
		})
	}
}

func TestParseWindow(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"050bps", 50, false},
		{"100bps", 100, false},
		{"50", 50, false},
		{"", 0, false},
		{"junk", 0, true},
		{"-5bps", 0, true},
	}
	for _, tc := range cases {
		got, err := parseWindow(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("parseWindow(%q) = %d, %v; want %d, err=%v", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}

func TestStreamEndpoint(t *testing.T) {
	srv, hub := newTestServer(t, domain.StatusLive)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/stream?symbol=BTC-USD&window=050bps"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait for the handler to attach before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(&domain.ConsolidatedMetrics{
		Timestamp: time.Now(), Symbol: "BTC-USD", WindowBps: 50,
		Mid: 117719.84, Status: "live",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var frame StreamFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "market_metrics" {
		t.Errorf("type = %q", frame.Type)
	}
	if frame.Data == nil || frame.Data.Symbol != "BTC-USD" {
		t.Errorf("data = %+v", frame.Data)
	}
}
