package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"liquidity_go/internal/book"
	"liquidity_go/internal/domain"
	"liquidity_go/internal/infra"
	"liquidity_go/pkg/quant"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	maxRetries  = 10
	readTimeout = 60 * time.Second

	// Binance rejects bursty snapshot polling; one resync per 2s is plenty.
	resyncEvery = 2 * time.Second
)

// Worker handles the Binance diff depth WebSocket stream. Deltas carry
// first/final update ids (U/u); continuity is checked against the REST
// snapshot's lastUpdateId and normalized into contiguous sequences for the
// store.
type Worker struct {
	cfg        infra.VenueConfig
	symbol     string // normalized, e.g. BTC-USD
	wireSymbol string // BTCUSDT
	store      *book.Store
	counters   *infra.Counters
	limiter    *rate.Limiter
	httpc      *http.Client

	conn      *websocket.Conn
	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Owned by the read loop goroutine.
	localSeq  uint64 // normalized sequence fed to the store
	lastFinal uint64 // last applied binance final update id
}

// NewWorker creates a new Binance adapter bound to one store
func NewWorker(cfg infra.VenueConfig, symbol string, store *book.Store, counters *infra.Counters) *Worker {
	return &Worker{
		cfg:        cfg,
		symbol:     symbol,
		wireSymbol: toWireSymbol(symbol),
		store:      store,
		counters:   counters,
		limiter:    rate.NewLimiter(rate.Every(resyncEvery), 1),
		httpc:      &http.Client{Timeout: 10 * time.Second},
	}
}

// VenueID returns the registry key.
func (w *Worker) VenueID() string { return "binance" }

// Connect starts the WebSocket connection
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Binance connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.cfg.WSURL, nil)
	if err != nil {
		return domain.NewNetworkError("binance", "dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.store.SetConnected(true)
	w.counters.AddConnection(1)

	// Stream events are useless until a snapshot aligns the book.
	if err := w.Resync(ctx); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("Binance connected", slog.String("symbol", w.wireSymbol))
	return nil
}

// Resync fetches a REST depth snapshot and re-seeds the store. Rate-limited;
// concurrent gap signals coalesce into one request.
func (w *Worker) Resync(ctx context.Context) error {
	w.store.MarkResyncing()
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d",
		strings.TrimRight(w.cfg.RestURL, "/"), w.wireSymbol, 100)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := w.httpc.Do(req)
	if err != nil {
		return domain.NewNetworkError("binance", "snapshot", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.NewNetworkError("binance", "snapshot",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var snap depthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("%w: snapshot body: %v", domain.ErrParse, err)
	}

	bids, err := parseLevels(snap.Bids)
	if err != nil {
		return err
	}
	asks, err := parseLevels(snap.Asks)
	if err != nil {
		return err
	}

	w.localSeq++
	u := &domain.BookUpdate{
		VenueID:   w.VenueID(),
		Symbol:    w.symbol,
		Sequence:  w.localSeq,
		Timestamp: time.Now(),
		Snapshot:  true,
		Bids:      bids,
		Asks:      asks,
	}
	if err := w.store.Apply(u); err != nil {
		return err
	}
	w.lastFinal = snap.LastUpdateID
	w.counters.RecordResync()
	slog.Info("Binance book resynced", slog.Uint64("last_update_id", snap.LastUpdateID))
	return nil
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.store.ResyncRequests():
			if err := w.Resync(ctx); err != nil {
				slog.Warn("Binance resync failed", slog.Any("error", err))
				w.closeConnection()
				return
			}
			continue
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var ev depthUpdate
	if err := json.Unmarshal(msg, &ev); err != nil {
		w.store.RecordParseError()
		w.counters.RecordParseError()
		return
	}
	if ev.Event != "depthUpdate" {
		return
	}

	w.store.RecordMessage(time.Now())
	w.counters.RecordMessage()

	// Events at or before the snapshot id replay known state.
	if ev.FinalID <= w.lastFinal {
		return
	}
	if w.lastFinal != 0 && ev.FirstID > w.lastFinal+1 {
		w.counters.RecordSequenceGap()
		w.store.MarkGap()
		return
	}

	bids, errB := parseLevels(ev.Bids)
	asks, errA := parseLevels(ev.Asks)
	if errB != nil || errA != nil {
		w.store.RecordParseError()
		w.counters.RecordParseError()
		return
	}

	w.localSeq++
	u := &domain.BookUpdate{
		VenueID:   w.VenueID(),
		Symbol:    w.symbol,
		Sequence:  w.localSeq,
		Timestamp: time.UnixMilli(ev.EventTime),
		Bids:      bids,
		Asks:      asks,
	}
	if err := w.store.Apply(u); err != nil {
		switch {
		case errors.Is(err, domain.ErrSequenceGap) || errors.Is(err, domain.ErrNoSnapshot):
			w.counters.RecordSequenceGap()
		case errors.Is(err, domain.ErrCrossedBook):
			w.counters.RecordCrossedBook()
			slog.Warn("Binance crossed book rejected", slog.Any("error", err))
		default:
			slog.Warn("Binance update rejected", slog.Any("error", err))
		}
		return
	}
	w.lastFinal = ev.FinalID
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	wasConnected := w.connected
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
	w.mu.Unlock()
	if wasConnected {
		w.store.SetConnected(false)
		w.counters.AddConnection(-1)
	}
}

// IsConnected reports whether the socket is up.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Disconnect stops the worker and waits until no further updates can be
// emitted.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

// toWireSymbol maps a normalized symbol to Binance's format:
// BTC-USD -> BTCUSDT (Binance quotes spot BTC against USDT).
func toWireSymbol(symbol string) string {
	s := strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	return s
}

func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: level %v", domain.ErrParse, pair)
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: price %q", domain.ErrParse, pair[0])
		}
		size, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: size %q", domain.ErrParse, pair[1])
		}
		if price <= 0 || size < 0 {
			continue
		}
		levels = append(levels, domain.PriceLevel{
			Price: quant.ToPriceMicros(price),
			Size:  quant.ToQtySats(size),
		})
	}
	return levels, nil
}
