package cartbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AjaxCartClient drives a storefront's AJAX cart endpoints (cart.js,
// cart/add.js, cart/change.js) and normalizes the platform cart shape into
// the bridge's snapshot model.
type AjaxCartClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAjaxCartClient builds a client for the storefront at baseURL.
func NewAjaxCartClient(baseURL string) *AjaxCartClient {
	return &AjaxCartClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type platformCart struct {
	ItemCount  int    `json:"item_count"`
	TotalPrice int64  `json:"total_price"`
	Currency   string `json:"currency"`
	Items      []struct {
		VariantID int64  `json:"variant_id"`
		Quantity  int    `json:"quantity"`
		Title     string `json:"title"`
		LinePrice int64  `json:"line_price"`
	} `json:"items"`
}

func (c *AjaxCartClient) GetCart(ctx context.Context) (CartSnapshot, error) {
	return c.do(ctx, http.MethodGet, "/cart.js", nil)
}

func (c *AjaxCartClient) AddItem(ctx context.Context, variantID int64, quantity int) (CartSnapshot, error) {
	body := map[string]any{"id": variantID, "quantity": quantity}
	if _, err := c.do(ctx, http.MethodPost, "/cart/add.js", body); err != nil {
		return CartSnapshot{}, err
	}
	// add.js answers with the added line, not the cart; re-read for the
	// full snapshot so callers always see cumulative state.
	return c.GetCart(ctx)
}

func (c *AjaxCartClient) ChangeItem(ctx context.Context, variantID int64, quantity int) (CartSnapshot, error) {
	body := map[string]any{"id": variantID, "quantity": quantity}
	return c.do(ctx, http.MethodPost, "/cart/change.js", body)
}

func (c *AjaxCartClient) do(ctx context.Context, method, path string, body map[string]any) (CartSnapshot, error) {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return CartSnapshot{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CartSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return CartSnapshot{}, fmt.Errorf("cart request %s failed: %s", path, strings.TrimSpace(string(payload)))
	}

	var cart platformCart
	if err := json.NewDecoder(resp.Body).Decode(&cart); err != nil {
		return CartSnapshot{}, fmt.Errorf("decode cart response: %w", err)
	}
	return normalizePlatformCart(cart), nil
}

func normalizePlatformCart(cart platformCart) CartSnapshot {
	snapshot := CartSnapshot{
		ItemCount:  cart.ItemCount,
		TotalPrice: cart.TotalPrice,
		Currency:   cart.Currency,
		Items:      make([]CartItem, 0, len(cart.Items)),
	}
	for _, item := range cart.Items {
		snapshot.Items = append(snapshot.Items, CartItem{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Title:     item.Title,
			LinePrice: item.LinePrice,
		})
	}
	return snapshot
}
