package coinbase

import (
	"testing"

	"liquidity_go/internal/book"
	"liquidity_go/internal/infra"
	"liquidity_go/pkg/quant"
)

func newTestWorker() (*Worker, *book.Store) {
	store := book.NewStore("coinbase", "BTC-USD", 50, 16)
	cfg := infra.VenueConfig{WSURL: "wss://example"}
	w := NewWorker(cfg, "BTC-USD", store, &infra.Counters{})
	return w, store
}

const snapshotMsg = `{"type":"snapshot","product_id":"BTC-USD",` +
	`"bids":[["117768.4","0.9"],["117760.0","2.0"]],"asks":[["117769.65","1.1"]]}`

func TestHandleMessageSnapshot(t *testing.T) {
	w, store := newTestWorker()

	w.handleMessage([]byte(snapshotMsg))

	snap := store.Snapshot()
	if snap == nil {
		t.Fatal("snapshot should seed the book")
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("book = %d bids / %d asks", len(snap.Bids), len(snap.Asks))
	}
	if snap.Asks[0].Price != quant.ToPriceMicros(117769.65) {
		t.Errorf("best ask = %v", snap.Asks[0].Price.Float())
	}
}

func TestHandleMessageL2Update(t *testing.T) {
	w, store := newTestWorker()
	w.handleMessage([]byte(snapshotMsg))

	w.handleMessage([]byte(`{"type":"l2update","product_id":"BTC-USD",` +
		`"time":"2026-08-23T12:00:00.000000Z",` +
		`"changes":[["buy","117768.4","1.5"],["sell","117769.65","0"],["sell","117772.0","0.4"]]}`))

	snap := store.Snapshot()
	if snap.Bids[0].Size != quant.ToQtySats(1.5) {
		t.Errorf("best bid size = %v, want 1.5", snap.Bids[0].Size.Float())
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Price != quant.ToPriceMicros(117772.0) {
		t.Errorf("ask removal/insert not applied: %+v", snap.Asks)
	}
	if snap.Sequence != 2 {
		t.Errorf("local sequence = %d, want 2", snap.Sequence)
	}
}

func TestUpdateBeforeSnapshotFreezes(t *testing.T) {
	w, store := newTestWorker()

	w.handleMessage([]byte(`{"type":"l2update","product_id":"BTC-USD",` +
		`"changes":[["buy","117768.4","1.5"]]}`))

	if !store.Gapped() {
		t.Fatal("update before snapshot should freeze the book")
	}
	select {
	case <-store.ResyncRequests():
	default:
		t.Error("freeze should request resync")
	}
}

func TestHandleMessageControlFrames(t *testing.T) {
	w, store := newTestWorker()
	w.handleMessage([]byte(snapshotMsg))
	before := store.Snapshot()

	for _, frame := range []string{
		`{"type":"subscriptions","channels":[]}`,
		`{"type":"heartbeat","product_id":"BTC-USD"}`,
		`{"type":"error","message":"rate limited"}`,
	} {
		w.handleMessage([]byte(frame))
	}

	if store.Snapshot() != before {
		t.Error("control frames must not touch the book")
	}
}

func TestHandleMessageParseFailure(t *testing.T) {
	w, store := newTestWorker()
	w.handleMessage([]byte(snapshotMsg))

	w.handleMessage([]byte(`{not json`))
	w.handleMessage([]byte(`{"type":"l2update","changes":[["hold","1","1"]]}`))
	w.handleMessage([]byte(`{"type":"l2update","changes":[["buy","bad","1"]]}`))

	if store.Health().ConsecutiveErrors != 3 {
		t.Errorf("error streak = %d, want 3", store.Health().ConsecutiveErrors)
	}

	w.handleMessage([]byte(snapshotMsg))
	if store.Health().ConsecutiveErrors != 0 {
		t.Error("good frame should reset error streak")
	}
}
