// Command cartwebhook sends signed synthetic cart-update webhooks against a
// running relay, for local development and load rehearsal.
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type config struct {
	BaseURL  string `mapstructure:"base_url"`
	Secret   string `mapstructure:"secret"`
	Shop     string `mapstructure:"shop"`
	Currency string `mapstructure:"currency"`
	Interval string `mapstructure:"interval"`
}

type payload struct {
	ShopDomain string `json:"shop_domain"`
	ItemCount  int    `json:"item_count"`
	TotalPrice int64  `json:"total_price"`
	Currency   string `json:"currency"`
}

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	interval, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid interval duration:", err)
		os.Exit(1)
	}
	if interval <= 0 {
		fmt.Fprintln(os.Stderr, "interval must be positive")
		os.Exit(1)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 10 * time.Second}
	for {
		if err := sendWebhook(client, cfg); err != nil {
			fmt.Fprintln(os.Stderr, "webhook error:", err)
		}
		<-ticker.C
	}
}

func loadConfig(path string) (config, error) {
	if strings.TrimSpace(path) == "" {
		return config{}, fmt.Errorf("config path is required")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.Shop = strings.TrimSpace(cfg.Shop)
	cfg.Currency = strings.TrimSpace(cfg.Currency)
	cfg.Interval = strings.TrimSpace(cfg.Interval)

	if cfg.BaseURL == "" || cfg.Secret == "" || cfg.Shop == "" {
		return config{}, fmt.Errorf("config must include base_url, secret, shop")
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	if cfg.Interval == "" {
		return config{}, fmt.Errorf("interval must be provided")
	}
	return cfg, nil
}

func sendWebhook(client *http.Client, cfg config) error {
	itemCount := 1 + rand.Intn(5)
	body, err := json.Marshal(payload{
		ShopDomain: cfg.Shop,
		ItemCount:  itemCount,
		TotalPrice: int64(itemCount) * (1500 + int64(rand.Intn(4000))),
		Currency:   cfg.Currency,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	signature := sign(body, cfg.Secret)
	request, err := http.NewRequestWithContext(context.Background(), http.MethodPost, strings.TrimRight(cfg.BaseURL, "/")+"/webhooks/cart", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	request.Header.Set("X-Cart-Signature", signature)
	request.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook failed: %s", strings.TrimSpace(string(payload)))
	}

	fmt.Printf("Webhook status: %s (items %d)\n", resp.Status, itemCount)
	return nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
