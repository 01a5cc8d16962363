package config

import (
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FACET_ENV", "APP_ENV", "GO_ENV",
		"FACET_PORT", "FACET_DB_PATH",
		"FACET_WEBHOOK_SECRET", "FACET_RELAY_TTL_SECONDS",
		"FACET_TICKET_TTL_SECONDS", "FACET_RATE_LIMIT_PER_MINUTE",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_HEADERS",
		"OTEL_EXPORTER_OTLP_TRACES_HEADERS", "OTEL_SERVICE_NAME",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "data/facet" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.BlobStore.Bucket != "facet-captures" {
		t.Fatalf("unexpected bucket %q", cfg.BlobStore.Bucket)
	}
	if !cfg.IsLocalDevelopment() {
		t.Fatal("empty environment should count as local development")
	}
	if cfg.Relay.WebhookSecret != "facet-local-dev" {
		t.Fatalf("expected local fallback secret, got %q", cfg.Relay.WebhookSecret)
	}
}

func TestLoadRequiresWebhookSecretInProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACET_ENV", "production")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing webhook secret in production")
	}
	if !strings.Contains(err.Error(), "FACET_WEBHOOK_SECRET") {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Setenv("FACET_WEBHOOK_SECRET", "prod-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with secret: %v", err)
	}
	if cfg.IsLocalDevelopment() {
		t.Fatal("production must not count as local development")
	}
	if cfg.Relay.WebhookSecret != "prod-secret" {
		t.Fatalf("unexpected secret %q", cfg.Relay.WebhookSecret)
	}
}

func TestLoadForToolSkipsWebhookSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACET_ENV", "production")

	cfg, err := LoadForTool()
	if err != nil {
		t.Fatalf("load for tool: %v", err)
	}
	if cfg.Relay.WebhookSecret != "" {
		t.Fatalf("expected empty secret, got %q", cfg.Relay.WebhookSecret)
	}
}

func TestLoadClampsTTLs(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACET_TICKET_TTL_SECONDS", "7200")
	t.Setenv("FACET_RELAY_TTL_SECONDS", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BlobStore.TicketTTLSec != 3600 {
		t.Fatalf("expected ticket ttl clamped to 3600, got %d", cfg.BlobStore.TicketTTLSec)
	}
	if cfg.Relay.CacheTTLSec != 30 {
		t.Fatalf("expected relay ttl default 30, got %d", cfg.Relay.CacheTTLSec)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACET_PORT", "70000")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestParseOTLPHeaders(t *testing.T) {
	clearEnv(t)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://otlp.example.com")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer abc, x-team=facet")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_HEADERS", "x-team=traces")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Observability.Enabled {
		t.Fatal("expected observability enabled when endpoint set")
	}
	if got := cfg.Observability.OTLPTraceHeaders["x-team"]; got != "traces" {
		t.Fatalf("expected signal header to win, got %q", got)
	}
	if got := cfg.Observability.OTLPTraceHeaders["authorization"]; got != "Bearer abc" {
		t.Fatalf("expected common header carried over, got %q", got)
	}
	if got := cfg.Observability.OTLPMetricHeaders["x-team"]; got != "facet" {
		t.Fatalf("expected metric headers to keep common value, got %q", got)
	}
}
