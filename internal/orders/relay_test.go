package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

func newRelayFor(h *harness, cfg RelayConfig) (*Relay, *fakeQueue) {
	q := newFakeQueue(h.store)
	return NewRelay(q, h.store, h.catalog, h.events, cfg, zap.NewNop(), nil), q
}

func TestRelayPublishesPendingEvent(t *testing.T) {
	h := newHarness(t, Config{}, product(1, "10.00", 5))
	h.events.err = errors.New("broker unavailable")
	order, err := h.svc.CreateOrder(context.Background(), 1, []models.LineItemRequest{line(1, 1)})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	h.events.err = nil
	relay, _ := newRelayFor(h, RelayConfig{})
	done, err := relay.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if done != 1 {
		t.Errorf("done = %d, want 1", done)
	}

	events := h.events.events()
	if len(events) != 1 || events[0].EventID != models.OrderCreatedEventID(order.ID) {
		t.Fatalf("unexpected events %+v", events)
	}
	if s := h.store.followUp(order.ID, models.FollowUpEvent); s != models.FollowUpDone {
		t.Errorf("event follow-up = %s, want done", s)
	}
}

func TestRelayAppliesStockOnce(t *testing.T) {
	h := newHarness(t, Config{}, product(1, "10.00", 5), product(2, "1.00", 5))
	h.catalog.decErr[2] = errors.New("connection reset")
	order, err := h.svc.CreateOrder(context.Background(), 1, []models.LineItemRequest{line(1, 2), line(2, 1), line(2, 1)})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if h.catalog.stock(1) != 3 || h.catalog.stock(2) != 5 {
		t.Fatalf("stock before relay = %d, %d", h.catalog.stock(1), h.catalog.stock(2))
	}

	delete(h.catalog.decErr, 2)
	relay, _ := newRelayFor(h, RelayConfig{})
	if _, err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if h.catalog.stock(1) != 3 || h.catalog.stock(2) != 3 {
		t.Errorf("stock after relay = %d, %d, want 3, 3", h.catalog.stock(1), h.catalog.stock(2))
	}
	if s := h.store.followUp(order.ID, models.FollowUpStock); s != models.FollowUpDone {
		t.Errorf("stock follow-up = %s, want done", s)
	}

	// A crash after the decrement but before the follow-up was resolved.
	h.store.followUps[followUpKey{order.ID, models.FollowUpStock}] = models.FollowUpPending
	if _, err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if h.catalog.stock(1) != 3 || h.catalog.stock(2) != 3 {
		t.Errorf("stock decremented twice: %d, %d", h.catalog.stock(1), h.catalog.stock(2))
	}
}

func TestRelaySkipsCancelledOrders(t *testing.T) {
	h := newHarness(t, Config{}, product(1, "10.00", 5))
	h.events.err = errors.New("broker unavailable")
	h.catalog.decErr[1] = errors.New("connection reset")
	order, err := h.svc.CreateOrder(context.Background(), 1, []models.LineItemRequest{line(1, 1)})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := h.svc.UpdateOrderStatus(context.Background(), order.ID, models.StatusCancelled); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	h.events.err = nil
	delete(h.catalog.decErr, 1)
	relay, _ := newRelayFor(h, RelayConfig{})
	if _, err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if len(h.events.events()) != 0 {
		t.Error("event published for a cancelled order")
	}
	if h.catalog.stock(1) != 5 {
		t.Error("stock taken for a cancelled order")
	}
	for _, kind := range []models.FollowUpKind{models.FollowUpStock, models.FollowUpEvent} {
		if s := h.store.followUp(order.ID, kind); s != models.FollowUpCancelled {
			t.Errorf("%s follow-up = %s, want cancelled", kind, s)
		}
	}
}

func TestRelayStockForOrderCancelledMidRun(t *testing.T) {
	h := newHarness(t, Config{}, product(1, "10.00", 5))
	h.catalog.decErr[1] = errors.New("connection reset")
	order, err := h.svc.CreateOrder(context.Background(), 1, []models.LineItemRequest{line(1, 2)})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	delete(h.catalog.decErr, 1)

	// The order is cancelled after the relay loaded it as PENDING.
	h.catalog.beforeDecrement = func(int64) {
		h.store.mu.Lock()
		o := h.store.orders[order.ID]
		o.Status = models.StatusCancelled
		h.store.orders[order.ID] = o
		h.store.mu.Unlock()
	}

	relay, q := newRelayFor(h, RelayConfig{})
	if _, err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if h.catalog.stock(1) != 5 {
		t.Errorf("stock = %d, want 5", h.catalog.stock(1))
	}
	if s := h.store.followUp(order.ID, models.FollowUpStock); s != models.FollowUpCancelled {
		t.Errorf("stock follow-up = %s, want cancelled", s)
	}
	if len(q.retried) != 0 || len(q.failed) != 0 {
		t.Errorf("retried %v, failed %v", q.retried, q.failed)
	}
}

func TestRelayShortageIsTerminal(t *testing.T) {
	h := newHarness(t, Config{}, product(1, "10.00", 5))
	h.catalog.decErr[1] = errors.New("connection reset")
	order, err := h.svc.CreateOrder(context.Background(), 1, []models.LineItemRequest{line(1, 4)})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	delete(h.catalog.decErr, 1)
	p := h.catalog.products[1]
	p.Stock = 1
	h.catalog.products[1] = p

	relay, q := newRelayFor(h, RelayConfig{MaxAttempts: 5})
	if _, err := relay.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if s := h.store.followUp(order.ID, models.FollowUpStock); s != models.FollowUpFailed {
		t.Errorf("stock follow-up = %s, want failed", s)
	}
	if len(q.retried) != 0 {
		t.Errorf("shortage was retried: %v", q.retried)
	}
	if h.catalog.stock(1) != 1 {
		t.Error("stock changed")
	}
}

func TestRelayGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, Config{}, product(1, "10.00", 5))
	h.events.err = errors.New("broker unavailable")
	order, err := h.svc.CreateOrder(context.Background(), 1, []models.LineItemRequest{line(1, 1)})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	relay, q := newRelayFor(h, RelayConfig{MaxAttempts: 2})
	for i := 0; i < 3; i++ {
		if _, err := relay.Drain(context.Background()); err != nil {
			t.Fatalf("Drain: %v", err)
		}
	}

	if len(q.retried) != 1 || len(q.failed) != 1 {
		t.Errorf("retried %d, failed %d, want 1 and 1", len(q.retried), len(q.failed))
	}
	if s := h.store.followUp(order.ID, models.FollowUpEvent); s != models.FollowUpFailed {
		t.Errorf("event follow-up = %s, want failed", s)
	}
}

func TestRelayClaimError(t *testing.T) {
	h := newHarness(t, Config{})
	relay, q := newRelayFor(h, RelayConfig{})
	q.claimErr = errors.New("relation \"order_followups\" does not exist")

	if _, err := relay.Drain(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, Config{})
	relay, _ := newRelayFor(h, RelayConfig{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(stopped)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
