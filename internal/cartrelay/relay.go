// Package cartrelay buffers verified cart webhook snapshots per shop and fans
// them out to connected widgets. Delivery is one-shot: a snapshot is removed
// once pulled, and stale snapshots past the cache TTL are dropped.
package cartrelay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/helioma/facet/pkg/cartevents"
)

const defaultCacheTTL = 30 * time.Second

// Snapshot is one verified cart state received from the commerce platform.
type Snapshot struct {
	Shop       string    `json:"shop"`
	ItemCount  int       `json:"itemCount"`
	TotalPrice int64     `json:"totalPrice"`
	Currency   string    `json:"currency"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// PendingStore holds at most one pending snapshot per shop.
type PendingStore interface {
	// Put stores the snapshot, replacing any pending one for the shop.
	Put(ctx context.Context, snapshot Snapshot) error
	// Take removes and returns the pending snapshot for the shop.
	Take(ctx context.Context, shop string) (Snapshot, bool, error)
}

// EventSink receives a notification for every accepted snapshot.
type EventSink interface {
	Publish(ctx context.Context, update cartevents.Update) error
}

// Relay accepts webhook snapshots and pushes them to live subscribers, with
// the pending store as pull fallback for widgets that reconnect later.
type Relay struct {
	store PendingStore
	sink  EventSink
	log   *slog.Logger
	ttl   time.Duration
	now   func() time.Time

	mu   sync.Mutex
	subs map[string]map[chan Snapshot]struct{}
}

// New builds a relay. sink may be nil.
func New(store PendingStore, sink EventSink, log *slog.Logger, ttl time.Duration) *Relay {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Relay{
		store: store,
		sink:  sink,
		log:   log,
		ttl:   ttl,
		now:   time.Now,
		subs:  make(map[string]map[chan Snapshot]struct{}),
	}
}

// Accept records one verified snapshot, notifies subscribers and the sink.
func (r *Relay) Accept(ctx context.Context, snapshot Snapshot) error {
	if snapshot.ReceivedAt.IsZero() {
		snapshot.ReceivedAt = r.now()
	}
	if err := r.store.Put(ctx, snapshot); err != nil {
		return err
	}

	r.broadcast(snapshot)

	if r.sink != nil {
		update := cartevents.Update{
			Shop:       snapshot.Shop,
			ItemCount:  snapshot.ItemCount,
			TotalPrice: snapshot.TotalPrice,
			Currency:   snapshot.Currency,
			ReceivedAt: snapshot.ReceivedAt.UTC().Format(time.RFC3339),
		}
		if err := r.sink.Publish(ctx, update); err != nil {
			// Sink delivery is best-effort, the widget path already succeeded.
			r.log.Warn("cart event sink rejected update", "shop", snapshot.Shop, "error", err)
		}
	}
	return nil
}

// Subscribe registers a live push channel for one shop. The returned cancel
// func must be called when the subscriber disconnects.
func (r *Relay) Subscribe(shop string) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)

	r.mu.Lock()
	set, ok := r.subs[shop]
	if !ok {
		set = make(map[chan Snapshot]struct{})
		r.subs[shop] = set
	}
	set[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if set, ok := r.subs[shop]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(r.subs, shop)
			}
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// Pull removes and returns the pending snapshot for a shop. Snapshots older
// than the cache TTL are discarded, not delivered.
func (r *Relay) Pull(ctx context.Context, shop string) (Snapshot, bool, error) {
	snapshot, ok, err := r.store.Take(ctx, shop)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	if r.now().Sub(snapshot.ReceivedAt) > r.ttl {
		r.log.Debug("dropping stale pending cart update", "shop", shop)
		return Snapshot{}, false, nil
	}
	return snapshot, true, nil
}

func (r *Relay) broadcast(snapshot Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs[snapshot.Shop] {
		select {
		case ch <- snapshot:
		default:
			// Slow subscriber, it will catch up through Pull.
		}
	}
}
