package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liquidity_go/internal/book"
	"liquidity_go/internal/domain"
	"liquidity_go/internal/infra"
	"liquidity_go/internal/service"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	readLimit    = 1024 // inbound client frames are control-only
)

// Server exposes the streaming and request endpoints over HTTP.
type Server struct {
	cfg      *infra.Config
	hub      *Hub
	metrics  *service.MetricsService
	sor      *service.SOR
	stores   []*book.Store
	counters *infra.Counters
	clock    domain.Clock

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer wires the HTTP layer over the running core components.
func NewServer(cfg *infra.Config, hub *Hub, metrics *service.MetricsService,
	sor *service.SOR, stores []*book.Store, counters *infra.Counters, clock domain.Clock) *Server {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Server{
		cfg:      cfg,
		hub:      hub,
		metrics:  metrics,
		sor:      sor,
		stores:   stores,
		counters: counters,
		clock:    clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/api/execute", s.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Start begins serving. Non-blocking; errors surface through the log.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own deadlines
	}
	go func() {
		slog.Info("🌐 HTTP server listening", slog.String("addr", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", slog.Any("error", err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// handleStream upgrades the connection and pumps hub frames until either
// side closes. The first frame is the latest metrics tick, so a consumer
// never waits a full tick for initial state.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	windowBps, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	sub := s.hub.Subscribe(symbol, windowBps)
	defer func() {
		s.hub.Unsubscribe(sub.ID)
		conn.Close()
	}()

	if latest := s.metrics.Latest(); latest != nil && sub.matches(latest) {
		payload := encodeFrame(&StreamFrame{Type: "market_metrics", Data: latest})
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}

	// Reader goroutine: consume control frames and detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(readLimit)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case payload, ok := <-sub.Frames():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// handleExecute runs the smart order router against current books.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Symbol == "" {
		req.Symbol = s.cfg.Core.Symbol
	}

	cmp, err := s.sor.Execute(&req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidState):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, domain.ErrInsufficientLiquidity):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, domain.ErrParse):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("Execute failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// venueStatus is one venue's entry in the health response.
type venueStatus struct {
	Connected        bool    `json:"connected"`
	LastMessageAgeMs int64   `json:"lastMessageAgeMs"`
	BestBid          float64 `json:"bestBid,omitempty"`
	BestAsk          float64 `json:"bestAsk,omitempty"`
}

// handleHealth reports readiness, per-venue liveness and counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	venues := make(map[string]venueStatus, len(s.stores))
	for _, st := range s.stores {
		h := st.Health()
		age := int64(-1)
		if !h.LastMessageAt.IsZero() {
			age = now.Sub(h.LastMessageAt).Milliseconds()
		}
		vs := venueStatus{Connected: h.Connected, LastMessageAgeMs: age}
		if top, ok := st.LatestTop(); ok {
			vs.BestBid = top.BestBid.Price.Float()
			vs.BestAsk = top.BestAsk.Price.Float()
		}
		venues[st.VenueID()] = vs
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   s.metrics.Status(),
		"venues":   venues,
		"counters": s.counters.Snapshot(),
	})
}

// parseWindow converts a window selector like "050bps" into basis points.
// Empty means no filter.
func parseWindow(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	trimmed := strings.TrimSuffix(strings.ToLower(raw), "bps")
	bps, err := strconv.Atoi(trimmed)
	if err != nil || bps <= 0 {
		return 0, fmt.Errorf("invalid window %q", raw)
	}
	return bps, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Response encode failed", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
