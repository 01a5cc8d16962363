package cartbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestAjaxCartClientNormalizesPlatformShape(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	quantities := map[int64]int{}

	mux := http.NewServeMux()
	mux.HandleFunc("/cart.js", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		items := make([]map[string]any, 0, len(quantities))
		count := 0
		for id, qty := range quantities {
			items = append(items, map[string]any{
				"variant_id": id,
				"quantity":   qty,
				"title":      "Serum",
				"line_price": qty * 2500,
			})
			count += qty
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"item_count":  count,
			"total_price": count * 2500,
			"currency":    "USD",
			"items":       items,
		})
	})
	mux.HandleFunc("/cart/add.js", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID       int64 `json:"id"`
			Quantity int   `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		mu.Lock()
		quantities[body.ID] += body.Quantity
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"id": body.ID, "quantity": body.Quantity})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewAjaxCartClient(srv.URL)
	ctx := context.Background()

	snapshot, err := client.AddItem(ctx, 9001, 2)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if snapshot.ItemCount != 2 || snapshot.Currency != "USD" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if len(snapshot.Items) != 1 || snapshot.Items[0].VariantID != 9001 {
		t.Fatalf("expected normalized variant line, got %+v", snapshot.Items)
	}
	if snapshot.TotalPrice != 5000 {
		t.Fatalf("expected total 5000, got %d", snapshot.TotalPrice)
	}
}

func TestAjaxCartClientSurfacesPlatformErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"description":"sold out"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewAjaxCartClient(srv.URL)
	if _, err := client.AddItem(context.Background(), 1, 1); err == nil {
		t.Fatal("expected error from platform rejection")
	}
}
