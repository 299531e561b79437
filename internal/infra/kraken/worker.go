package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
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
	maxRetries   = 10
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	bookDepth    = 25
	resyncEvery  = 2 * time.Second
)

// event is a Kraken dict-shaped control message
type event struct {
	Event  string `json:"event"`
	Status string `json:"status"`
}

// chunk holds one object element of a Kraken book array message. Snapshots
// use bs/as keys, incremental updates b/a; both sides can arrive split
// across two elements.
type chunk struct {
	Bs [][]string `json:"bs"`
	As [][]string `json:"as"`
	B  [][]string `json:"b"`
	A  [][]string `json:"a"`
}

// Worker handles the Kraken book WebSocket feed. Kraken sends a full
// snapshot on subscribe, then incremental updates without wire sequence
// numbers; the worker assigns contiguous local sequences, so any resync
// tears the connection down and resubscribes for a fresh snapshot.
type Worker struct {
	cfg      infra.VenueConfig
	symbol   string
	wirePair string // XBT/USD
	store    *book.Store
	counters *infra.Counters
	limiter  *rate.Limiter

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	localSeq uint64 // owned by the read loop goroutine
}

// NewWorker creates a new Kraken adapter bound to one store
func NewWorker(cfg infra.VenueConfig, symbol string, store *book.Store, counters *infra.Counters) *Worker {
	return &Worker{
		cfg:      cfg,
		symbol:   symbol,
		wirePair: toWirePair(symbol),
		store:    store,
		counters: counters,
		limiter:  rate.NewLimiter(rate.Every(resyncEvery), 1),
	}
}

// VenueID returns the registry key.
func (w *Worker) VenueID() string { return "kraken" }

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
			slog.Warn("Kraken connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
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
		return domain.NewNetworkError("kraken", "dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.store.SetConnected(true)
	w.counters.AddConnection(1)

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return domain.NewNetworkError("kraken", "subscribe", err)
	}

	go w.pingLoop(ctx)
	slog.Info("Kraken connected", slog.String("pair", w.wirePair))
	return nil
}

func (w *Worker) subscribe() error {
	msg := map[string]interface{}{
		"event": "subscribe",
		"pair":  []string{w.wirePair},
		"subscription": map[string]interface{}{
			"name":  "book",
			"depth": bookDepth,
		},
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.IsConnected() {
				return
			}
			w.threadSafeWrite(websocket.TextMessage, []byte(`{"event":"ping"}`))
		}
	}
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

// Resync drops the connection; the supervision loop redials and the fresh
// subscription delivers a new snapshot. Rate-limited to avoid churn.
func (w *Worker) Resync(ctx context.Context) error {
	w.store.MarkResyncing()
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	w.counters.RecordResync()
	w.closeConnection()
	return nil
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.store.ResyncRequests():
			if err := w.Resync(ctx); err != nil {
				slog.Warn("Kraken resync failed", slog.Any("error", err))
			}
			return
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
	// Array messages carry book data; dict messages are control events.
	var elements []json.RawMessage
	if err := json.Unmarshal(msg, &elements); err != nil {
		w.handleEvent(msg)
		return
	}
	if len(elements) < 4 {
		w.store.RecordParseError()
		w.counters.RecordParseError()
		return
	}

	update, snapshot, err := parseBookElements(elements[1 : len(elements)-2])
	if err != nil {
		w.store.RecordParseError()
		w.counters.RecordParseError()
		return
	}

	now := time.Now()
	w.store.RecordMessage(now)
	w.counters.RecordMessage()

	w.localSeq++
	update.VenueID = w.VenueID()
	update.Symbol = w.symbol
	update.Sequence = w.localSeq
	update.Timestamp = now
	update.Snapshot = snapshot

	if err := w.store.Apply(update); err != nil {
		switch {
		case errors.Is(err, domain.ErrSequenceGap) || errors.Is(err, domain.ErrNoSnapshot):
			w.counters.RecordSequenceGap()
		case errors.Is(err, domain.ErrCrossedBook):
			w.counters.RecordCrossedBook()
			slog.Warn("Kraken crossed book rejected", slog.Any("error", err))
		default:
			slog.Warn("Kraken update rejected", slog.Any("error", err))
		}
	}
}

func (w *Worker) handleEvent(msg []byte) {
	var ev event
	if err := json.Unmarshal(msg, &ev); err != nil {
		w.store.RecordParseError()
		w.counters.RecordParseError()
		return
	}
	switch ev.Event {
	case "subscriptionStatus":
		if ev.Status != "subscribed" && ev.Status != "unsubscribed" {
			slog.Warn("Kraken subscription rejected", slog.String("status", ev.Status))
		}
	case "systemStatus", "heartbeat", "pong":
		// Keepalive noise.
	default:
		slog.Debug("Unhandled Kraken event", slog.String("event", ev.Event))
	}
}

// parseBookElements merges the object elements of a book message into one
// normalized update. Snapshot keys (bs/as) and delta keys (b/a) never mix.
func parseBookElements(elements []json.RawMessage) (*domain.BookUpdate, bool, error) {
	update := &domain.BookUpdate{}
	snapshot := false
	for _, el := range elements {
		var c chunk
		if err := json.Unmarshal(el, &c); err != nil {
			return nil, false, fmt.Errorf("%w: book chunk: %v", domain.ErrParse, err)
		}
		if len(c.Bs) > 0 || len(c.As) > 0 {
			snapshot = true
		}
		bids, err := parseSide(append(c.Bs, c.B...))
		if err != nil {
			return nil, false, err
		}
		asks, err := parseSide(append(c.As, c.A...))
		if err != nil {
			return nil, false, err
		}
		update.Bids = append(update.Bids, bids...)
		update.Asks = append(update.Asks, asks...)
	}
	return update, snapshot, nil
}

// parseSide converts Kraken [price, volume, timestamp, ...] entries.
func parseSide(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("%w: level %v", domain.ErrParse, entry)
		}
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: price %q", domain.ErrParse, entry[0])
		}
		size, err := strconv.ParseFloat(entry[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: volume %q", domain.ErrParse, entry[1])
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

// Disconnect stops the worker and waits for teardown.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

// toWirePair maps a normalized symbol to Kraken's pair format:
// BTC-USD -> XBT/USD (Kraken uses the XBT code for bitcoin).
func toWirePair(symbol string) string {
	pair := strings.Replace(strings.ToUpper(symbol), "-", "/", 1)
	return strings.Replace(pair, "BTC", "XBT", 1)
}
