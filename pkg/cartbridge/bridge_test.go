package cartbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memoryCart struct {
	mu       sync.Mutex
	lines    map[int64]int
	failID   int64
	getCalls int
}

func newMemoryCart() *memoryCart {
	return &memoryCart{lines: map[int64]int{}}
}

func (m *memoryCart) snapshotLocked() CartSnapshot {
	snapshot := CartSnapshot{Currency: "EUR"}
	for id, qty := range m.lines {
		if qty <= 0 {
			continue
		}
		snapshot.Items = append(snapshot.Items, CartItem{VariantID: id, Quantity: qty})
		snapshot.ItemCount += qty
		snapshot.TotalPrice += int64(qty) * 1000
	}
	return snapshot
}

func (m *memoryCart) GetCart(context.Context) (CartSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	return m.snapshotLocked(), nil
}

func (m *memoryCart) AddItem(_ context.Context, variantID int64, quantity int) (CartSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if variantID == m.failID {
		return CartSnapshot{}, fmt.Errorf("variant %d is sold out", variantID)
	}
	m.lines[variantID] += quantity
	return m.snapshotLocked(), nil
}

func (m *memoryCart) ChangeItem(_ context.Context, variantID int64, quantity int) (CartSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quantity <= 0 {
		delete(m.lines, variantID)
	} else {
		m.lines[variantID] = quantity
	}
	return m.snapshotLocked(), nil
}

func (m *memoryCart) quantity(variantID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines[variantID]
}

func startBridge(t *testing.T, cart NativeCart) (*Embedded, *Host, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	widgetSide, hostSide := NewPair()

	host := NewHost(cart, nil)
	detach := host.Attach(ctx, hostSide)

	embedded := NewEmbedded(widgetSide, nil)
	go embedded.Run(ctx)

	t.Cleanup(func() {
		detach()
		cancel()
	})
	return embedded, host, cancel
}

func rawID(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

func TestBackToBackAddsAccumulateQuantity(t *testing.T) {
	t.Parallel()

	cart := newMemoryCart()
	embedded, _, _ := startBridge(t, cart)
	ctx := context.Background()

	if _, err := embedded.AddToCart(ctx, rawID(4242), 1); err != nil {
		t.Fatalf("first add: %v", err)
	}
	snapshot, err := embedded.AddToCart(ctx, rawID(4242), 1)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if cart.quantity(4242) != 2 {
		t.Fatalf("expected cumulative quantity 2, got %d", cart.quantity(4242))
	}
	if snapshot.ItemCount != 2 {
		t.Fatalf("snapshot should reflect both adds, got count %d", snapshot.ItemCount)
	}
}

func TestVariantNormalizationAgreesAcrossAddAndRemove(t *testing.T) {
	t.Parallel()

	cart := newMemoryCart()
	embedded, _, _ := startBridge(t, cart)
	ctx := context.Background()

	// Add with a structured global id, remove with the native numeric id.
	if _, err := embedded.AddToCart(ctx, rawID("gid://shop/ProductVariant/777001"), 1); err != nil {
		t.Fatalf("add by gid: %v", err)
	}
	if cart.quantity(777001) != 1 {
		t.Fatalf("gid add did not normalize to numeric id, cart: %v", cart.lines)
	}
	snapshot, err := embedded.RemoveFromCart(ctx, rawID(777001))
	if err != nil {
		t.Fatalf("remove by numeric id: %v", err)
	}
	if cart.quantity(777001) != 0 || snapshot.ItemCount != 0 {
		t.Fatalf("remove missed the line added by gid, quantity=%d", cart.quantity(777001))
	}
}

func TestUncorrelatedReplyIsIgnored(t *testing.T) {
	t.Parallel()

	widgetSide, hostSide := NewPair()
	embedded := NewEmbedded(widgetSide, nil)

	var callbacks int
	embedded.OnSnapshot = func(CartSnapshot) { callbacks++ }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go embedded.Run(ctx)

	hostSide.Send(Envelope{
		Type:          TypeCartData,
		Payload:       mustMarshal(CartSnapshot{ItemCount: 99}),
		CorrelationID: "never-requested",
	})
	time.Sleep(50 * time.Millisecond)

	if callbacks != 0 {
		t.Fatal("uncorrelated reply must not trigger a snapshot callback")
	}
	if _, ok := embedded.Snapshot(); ok {
		t.Fatal("uncorrelated reply must not change cached state")
	}
}

func TestReplyWithoutCorrelationIDIsDropped(t *testing.T) {
	t.Parallel()

	widgetSide, hostSide := NewPair()
	embedded := NewEmbedded(widgetSide, nil)

	var callbacks int
	embedded.OnSnapshot = func(CartSnapshot) { callbacks++ }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go embedded.Run(ctx)

	for _, msgType := range []MessageType{TypeCartData, TypeCartUpdateOK} {
		hostSide.Send(Envelope{
			Type:    msgType,
			Payload: mustMarshal(CartSnapshot{ItemCount: 42}),
		})
	}
	// CART_INITIAL_STATE stays the one legitimate uncorrelated broadcast.
	hostSide.Send(Envelope{
		Type:    TypeCartInitialState,
		Payload: mustMarshal(CartSnapshot{ItemCount: 7}),
	})
	time.Sleep(50 * time.Millisecond)

	if callbacks != 1 {
		t.Fatalf("expected only the initial-state broadcast to land, got %d callbacks", callbacks)
	}
	snapshot, ok := embedded.Snapshot()
	if !ok || snapshot.ItemCount != 7 {
		t.Fatalf("expected cached state from the broadcast only, got %+v ok=%v", snapshot, ok)
	}
}

func TestBulkAddReportsPartialFailureWithoutRollback(t *testing.T) {
	t.Parallel()

	cart := newMemoryCart()
	cart.failID = 2002
	embedded, _, _ := startBridge(t, cart)

	_, err := embedded.AddRoutine(context.Background(), []AddRequest{
		{ID: rawID(1001), Quantity: 1},
		{ID: rawID(2002), Quantity: 1},
		{ID: rawID(3003), Quantity: 1},
	})

	var update *ErrCartUpdate
	if !errors.As(err, &update) {
		t.Fatalf("expected cart update error, got %v", err)
	}
	if update.Payload.Applied != 1 {
		t.Fatalf("expected 1 applied item reported, got %d", update.Payload.Applied)
	}
	// No rollback: the successful first add stays in the cart.
	if cart.quantity(1001) != 1 {
		t.Fatalf("first add was rolled back, quantity=%d", cart.quantity(1001))
	}
	if cart.quantity(3003) != 0 {
		t.Fatal("items after the failure must not be applied")
	}
}

func TestInitialStateCatchUpBroadcast(t *testing.T) {
	t.Parallel()

	cart := newMemoryCart()
	cart.lines[5] = 3
	embedded, host, _ := startBridge(t, cart)

	var mu sync.Mutex
	var received []CartSnapshot
	embedded.OnSnapshot = func(s CartSnapshot) {
		mu.Lock()
		received = append(received, s)
		mu.Unlock()
	}

	// The host re-announces after init; duplicates must be harmless.
	for i := 0; i < 2; i++ {
		if err := host.AnnounceInitialState(context.Background()); err != nil {
			t.Fatalf("announce: %v", err)
		}
	}
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 broadcasts, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	snapshot, ok := embedded.Snapshot()
	if !ok || snapshot.ItemCount != 3 {
		t.Fatalf("expected cached snapshot with count 3, got %+v ok=%v", snapshot, ok)
	}
}

func TestRequestTimesOutWhenHostNotListening(t *testing.T) {
	t.Parallel()

	widgetSide, _ := NewPair()
	embedded := NewEmbedded(widgetSide, nil)
	embedded.timeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go embedded.Run(ctx)

	_, err := embedded.GetCart(context.Background())
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected no-response outcome, got %v", err)
	}
}

func TestNormalizeVariantID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  json.RawMessage
		want int64
		ok   bool
	}{
		{"native numeric", rawID(123456), 123456, true},
		{"numeric string", rawID("123456"), 123456, true},
		{"global id", rawID("gid://shop/ProductVariant/123456"), 123456, true},
		{"global id with params", rawID("gid://shop/ProductVariant/123456?variant=a"), 123456, true},
		{"garbage", rawID("gid://shop/ProductVariant/latest"), 0, false},
		{"zero", rawID(0), 0, false},
		{"missing", nil, 0, false},
	}
	for _, tc := range cases {
		got, err := NormalizeVariantID(tc.raw)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%s: expected %d, got %d err=%v", tc.name, tc.want, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error, got %d", tc.name, got)
		}
	}
}
