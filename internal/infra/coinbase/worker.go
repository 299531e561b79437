package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
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
	resyncEvery = 2 * time.Second
)

// message covers every Coinbase level2 frame shape. Type discriminates:
// snapshot carries bids/asks, l2update carries changes, the rest are
// control frames.
type message struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Time      time.Time  `json:"time"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Changes   [][]string `json:"changes"` // [side, price, size]
	Message   string     `json:"message"`
}

// Worker handles the Coinbase level2 WebSocket feed. Like Kraken, Coinbase
// pushes a snapshot on subscribe and unsequenced updates after; local
// sequences are synthesized and a resync means reconnecting.
type Worker struct {
	cfg      infra.VenueConfig
	symbol   string
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

// NewWorker creates a new Coinbase adapter bound to one store
func NewWorker(cfg infra.VenueConfig, symbol string, store *book.Store, counters *infra.Counters) *Worker {
	return &Worker{
		cfg:      cfg,
		symbol:   symbol,
		store:    store,
		counters: counters,
		limiter:  rate.NewLimiter(rate.Every(resyncEvery), 1),
	}
}

// VenueID returns the registry key.
func (w *Worker) VenueID() string { return "coinbase" }

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
			slog.Warn("Coinbase connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
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
		return domain.NewNetworkError("coinbase", "dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.store.SetConnected(true)
	w.counters.AddConnection(1)

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return domain.NewNetworkError("coinbase", "subscribe", err)
	}

	slog.Info("Coinbase connected", slog.String("product", w.symbol))
	return nil
}

func (w *Worker) subscribe() error {
	msg := map[string]interface{}{
		"type":        "subscribe",
		"product_ids": []string{w.symbol},
		"channels":    []string{"level2"},
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
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

// Resync drops the connection so the supervision loop redials; the new
// subscription delivers a fresh snapshot.
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
				slog.Warn("Coinbase resync failed", slog.Any("error", err))
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

func (w *Worker) handleMessage(raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.store.RecordParseError()
		w.counters.RecordParseError()
		return
	}

	switch msg.Type {
	case "snapshot":
		w.applySnapshot(&msg)
	case "l2update":
		w.applyUpdate(&msg)
	case "subscriptions", "heartbeat":
		// Control frames.
	case "error":
		slog.Warn("Coinbase feed error", slog.String("message", msg.Message))
	default:
		slog.Debug("Unhandled Coinbase message", slog.String("type", msg.Type))
	}
}

func (w *Worker) applySnapshot(msg *message) {
	bids, errB := parseLevels(msg.Bids)
	asks, errA := parseLevels(msg.Asks)
	if errB != nil || errA != nil {
		w.store.RecordParseError()
		w.counters.RecordParseError()
		return
	}

	now := time.Now()
	w.store.RecordMessage(now)
	w.counters.RecordMessage()

	w.localSeq++
	w.applyChecked(&domain.BookUpdate{
		VenueID:   w.VenueID(),
		Symbol:    w.symbol,
		Sequence:  w.localSeq,
		Timestamp: now,
		Snapshot:  true,
		Bids:      bids,
		Asks:      asks,
	})
}

func (w *Worker) applyUpdate(msg *message) {
	update := &domain.BookUpdate{}
	for _, ch := range msg.Changes {
		if len(ch) < 3 {
			w.store.RecordParseError()
			w.counters.RecordParseError()
			return
		}
		lvl, err := parseLevel(ch[1], ch[2])
		if err != nil {
			w.store.RecordParseError()
			w.counters.RecordParseError()
			return
		}
		switch ch[0] {
		case "buy":
			update.Bids = append(update.Bids, lvl)
		case "sell":
			update.Asks = append(update.Asks, lvl)
		default:
			w.store.RecordParseError()
			w.counters.RecordParseError()
			return
		}
	}

	now := time.Now()
	w.store.RecordMessage(now)
	w.counters.RecordMessage()

	ts := msg.Time
	if ts.IsZero() {
		ts = now
	}
	w.localSeq++
	update.VenueID = w.VenueID()
	update.Symbol = w.symbol
	update.Sequence = w.localSeq
	update.Timestamp = ts
	w.applyChecked(update)
}

func (w *Worker) applyChecked(u *domain.BookUpdate) {
	if err := w.store.Apply(u); err != nil {
		switch {
		case errors.Is(err, domain.ErrSequenceGap) || errors.Is(err, domain.ErrNoSnapshot):
			w.counters.RecordSequenceGap()
		case errors.Is(err, domain.ErrCrossedBook):
			w.counters.RecordCrossedBook()
			slog.Warn("Coinbase crossed book rejected", slog.Any("error", err))
		default:
			slog.Warn("Coinbase update rejected", slog.Any("error", err))
		}
	}
}

func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: level %v", domain.ErrParse, pair)
		}
		lvl, err := parseLevel(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}

func parseLevel(priceStr, sizeStr string) (domain.PriceLevel, error) {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("%w: price %q", domain.ErrParse, priceStr)
	}
	size, err := strconv.ParseFloat(sizeStr, 64)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("%w: size %q", domain.ErrParse, sizeStr)
	}
	if price <= 0 || size < 0 {
		return domain.PriceLevel{}, fmt.Errorf("%w: negative level %s@%s", domain.ErrParse, sizeStr, priceStr)
	}
	return domain.PriceLevel{
		Price: quant.ToPriceMicros(price),
		Size:  quant.ToQtySats(size),
	}, nil
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
