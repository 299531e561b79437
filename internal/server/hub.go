package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"liquidity_go/internal/domain"
	"liquidity_go/internal/infra"

	"github.com/google/uuid"
)

// StreamFrame is the JSON envelope sent to stream subscribers.
type StreamFrame struct {
	Type string                      `json:"type"`
	Data *domain.ConsolidatedMetrics `json:"data,omitempty"`
	TS   time.Time                   `json:"ts,omitempty"`
}

// Subscriber is one attached stream consumer. Frames are delivered through
// a bounded channel; the hub never blocks on a subscriber.
type Subscriber struct {
	ID        string
	Symbol    string
	WindowBps int // 0 matches any window

	send      chan []byte
	closeOnce sync.Once
}

// Frames returns the subscriber's outbound channel. It is closed when the
// subscriber is dropped or the hub shuts down.
func (s *Subscriber) Frames() <-chan []byte { return s.send }

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// matches reports whether a frame passes the subscriber's filter.
func (s *Subscriber) matches(m *domain.ConsolidatedMetrics) bool {
	if s.Symbol != "" && s.Symbol != m.Symbol {
		return false
	}
	if s.WindowBps != 0 && s.WindowBps != m.WindowBps {
		return false
	}
	return true
}

// Hub fans computed metrics out to stream subscribers. Publish runs on the
// metrics tick goroutine and must never block: a subscriber whose buffer is
// full is dropped on the spot, protecting the tick loop and every other
// consumer.
type Hub struct {
	heartbeat time.Duration
	sendBuf   int
	counters  *infra.Counters

	mu   sync.RWMutex
	subs map[string]*Subscriber

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub with the given heartbeat cadence and per-subscriber
// buffer size.
func NewHub(heartbeat time.Duration, sendBuf int, counters *infra.Counters) *Hub {
	if sendBuf <= 0 {
		sendBuf = 64
	}
	return &Hub{
		heartbeat: heartbeat,
		sendBuf:   sendBuf,
		counters:  counters,
		subs:      make(map[string]*Subscriber),
	}
}

// Start launches the heartbeat loop.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				h.broadcast(encodeFrame(&StreamFrame{Type: "heartbeat", TS: t.UTC()}))
			}
		}
	}()
}

// Stop halts the heartbeat loop and detaches every subscriber.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.mu.Lock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.close()
		h.counters.AddSubscriber(-1)
	}
	h.mu.Unlock()
}

// Subscribe attaches a consumer filtered by symbol and depth window.
func (h *Hub) Subscribe(symbol string, windowBps int) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		WindowBps: windowBps,
		send:      make(chan []byte, h.sendBuf),
	}
	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	h.counters.AddSubscriber(1)
	slog.Debug("Subscriber attached", slog.String("id", sub.ID), slog.String("symbol", symbol))
	return sub
}

// Unsubscribe detaches a consumer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		sub.close()
		h.counters.AddSubscriber(-1)
	}
}

// SubscriberCount returns the number of attached consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers one metrics frame to every matching subscriber.
// Implements domain.MetricsPublisher.
func (h *Hub) Publish(m *domain.ConsolidatedMetrics) {
	if m == nil {
		return
	}
	payload := encodeFrame(&StreamFrame{Type: "market_metrics", Data: m})

	var dropped []string
	h.mu.RLock()
	for id, sub := range h.subs {
		if !sub.matches(m) {
			continue
		}
		select {
		case sub.send <- payload:
			h.counters.RecordFrame()
		default:
			dropped = append(dropped, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range dropped {
		h.Unsubscribe(id)
		h.counters.RecordDroppedSubscriber()
		slog.Warn("Dropped slow subscriber", slog.String("id", id))
	}
}

// broadcast sends a raw payload to all subscribers regardless of filter.
func (h *Hub) broadcast(payload []byte) {
	var dropped []string
	h.mu.RLock()
	for id, sub := range h.subs {
		select {
		case sub.send <- payload:
		default:
			dropped = append(dropped, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range dropped {
		h.Unsubscribe(id)
		h.counters.RecordDroppedSubscriber()
	}
}

func encodeFrame(f *StreamFrame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		slog.Error("Frame encode failed", slog.Any("error", err))
		return []byte(`{"type":"error"}`)
	}
	return b
}
