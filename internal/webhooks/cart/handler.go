// Package cart ingests cart-update webhooks from the commerce platform.
// Requests authenticate by HMAC signature over the raw body; anything that
// does not verify is rejected before the payload is even parsed.
package cart

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/helioma/facet/internal/cartrelay"
)

const (
	// SignatureHeader is the HMAC signature header.
	SignatureHeader = "X-Cart-Signature"
	maxPayloadBytes = 1 << 20
)

// Handler processes cart webhook payloads.
type Handler struct {
	secret string
	relay  *cartrelay.Relay
}

// Payload is the incoming webhook body.
type Payload struct {
	ShopDomain string `json:"shop_domain"`
	ItemCount  int    `json:"item_count"`
	TotalPrice int64  `json:"total_price"`
	Currency   string `json:"currency"`
}

// NewHandler constructs a cart webhook handler.
func NewHandler(secret string, relay *cartrelay.Relay) *Handler {
	return &Handler{secret: strings.TrimSpace(secret), relay: relay}
}

// Handle validates and processes one webhook request. Signature mismatch
// fails closed: no cache entry, no push, 401.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) error {
	if h.secret == "" {
		http.Error(w, "webhook ingestion disabled", http.StatusServiceUnavailable)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return nil
	}
	if !validSignature(body, h.secret, r.Header.Get(SignatureHeader)) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil
	}

	var payload Payload
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return nil
	}

	payload.ShopDomain = strings.TrimSpace(payload.ShopDomain)
	if payload.ShopDomain == "" {
		http.Error(w, "missing shop domain", http.StatusBadRequest)
		return nil
	}

	snapshot := cartrelay.Snapshot{
		Shop:       payload.ShopDomain,
		ItemCount:  payload.ItemCount,
		TotalPrice: payload.TotalPrice,
		Currency:   strings.TrimSpace(payload.Currency),
	}
	if err := h.relay.Accept(r.Context(), snapshot); err != nil {
		return err
	}

	w.WriteHeader(http.StatusAccepted)
	return nil
}

func validSignature(body []byte, secret, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
