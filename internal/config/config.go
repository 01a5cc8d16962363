package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	BlobStore     BlobStoreConfig
	Inference     InferenceConfig
	Relay         RelayConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Path string
}

type BlobStoreConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	Region       string
	PublicURL    string
	TicketTTLSec int
}

type InferenceConfig struct {
	UpstreamURL     string
	UpstreamToken   string
	PollIntervalSec int
}

type RelayConfig struct {
	WebhookSecret  string
	CacheTTLSec    int
	RedisAddr      string
	RedisPassword  string
	EventSinkURL   string
	EventSinkToken string
}

type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
}

type ObservabilityConfig struct {
	Enabled           bool
	OTLPEndpoint      string
	OTLPTraceHeaders  map[string]string
	OTLPMetricHeaders map[string]string
	ServiceName       string
	ServiceVer        string
	SamplingRatio     float64
	MetricsConsole    bool
}

func Load() (Config, error) {
	return load(true)
}

// LoadForTool loads config for CLI tools that do not require the webhook secret.
func LoadForTool() (Config, error) {
	return load(false)
}

func load(requireWebhookSecret bool) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("facet_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("facet_port", 8080)
	v.SetDefault("facet_db_path", "data/facet")
	v.SetDefault("facet_blob_endpoint", "localhost:9000")
	v.SetDefault("facet_blob_access_key", "")
	v.SetDefault("facet_blob_secret_key", "")
	v.SetDefault("facet_blob_bucket", "facet-captures")
	v.SetDefault("facet_blob_ssl", false)
	v.SetDefault("facet_blob_region", "")
	v.SetDefault("facet_blob_public_url", "")
	v.SetDefault("facet_ticket_ttl_seconds", 900)
	v.SetDefault("facet_inference_url", "")
	v.SetDefault("facet_inference_token", "")
	v.SetDefault("facet_inference_poll_seconds", 15)
	v.SetDefault("facet_webhook_secret", "")
	v.SetDefault("facet_relay_ttl_seconds", 30)
	v.SetDefault("facet_redis_addr", "")
	v.SetDefault("facet_redis_password", "")
	v.SetDefault("facet_event_sink_url", "")
	v.SetDefault("facet_event_sink_secret", "")
	v.SetDefault("facet_rate_limit_enabled", true)
	v.SetDefault("facet_rate_limit_per_minute", 30)
	v.SetDefault("facet_otel_enabled", false)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_exporter_otlp_headers", "")
	v.SetDefault("otel_exporter_otlp_traces_headers", "")
	v.SetDefault("otel_exporter_otlp_metrics_headers", "")
	v.SetDefault("otel_service_name", "facet")
	v.SetDefault("facet_service_name", "facet")
	v.SetDefault("facet_version", "dev")
	v.SetDefault("otel_service_version", "")
	v.SetDefault("facet_otel_sampling_ratio", 1.0)
	v.SetDefault("facet_otel_metrics_console", false)

	env := resolveEnvironment(v)
	port := v.GetInt("facet_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid FACET_PORT: %d", port)
	}

	samplingRatio := v.GetFloat64("facet_otel_sampling_ratio")
	if samplingRatio < 0 {
		samplingRatio = 0
	}
	if samplingRatio > 1 {
		samplingRatio = 1
	}

	ticketTTL := v.GetInt("facet_ticket_ttl_seconds")
	if ticketTTL <= 0 {
		ticketTTL = 900
	}
	if ticketTTL > 3600 {
		ticketTTL = 3600
	}

	relayTTL := v.GetInt("facet_relay_ttl_seconds")
	if relayTTL <= 0 {
		relayTTL = 30
	}
	if relayTTL > 300 {
		relayTTL = 300
	}

	pollInterval := v.GetInt("facet_inference_poll_seconds")
	if pollInterval <= 0 {
		pollInterval = 15
	}

	ratePerMinute := v.GetInt("facet_rate_limit_per_minute")
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}

	serviceName := strings.TrimSpace(v.GetString("otel_service_name"))
	if serviceName == "" {
		serviceName = strings.TrimSpace(v.GetString("facet_service_name"))
	}
	if serviceName == "" {
		serviceName = "facet"
	}

	serviceVersion := strings.TrimSpace(v.GetString("facet_version"))
	if serviceVersion == "" {
		serviceVersion = strings.TrimSpace(v.GetString("otel_service_version"))
	}
	if serviceVersion == "" {
		serviceVersion = "dev"
	}

	otlpEndpoint := strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint"))
	otlpCommonHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_headers"))
	otlpTraceHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_traces_headers"))
	otlpMetricHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_metrics_headers"))
	metricsConsole := v.GetBool("facet_otel_metrics_console")
	otelEnabled := v.GetBool("facet_otel_enabled") || otlpEndpoint != "" || metricsConsole

	cfg := Config{
		Environment: env,
		Server:      ServerConfig{Port: port},
		Database: DatabaseConfig{
			Path: strings.TrimSpace(v.GetString("facet_db_path")),
		},
		BlobStore: BlobStoreConfig{
			Endpoint:     strings.TrimSpace(v.GetString("facet_blob_endpoint")),
			AccessKey:    strings.TrimSpace(v.GetString("facet_blob_access_key")),
			SecretKey:    strings.TrimSpace(v.GetString("facet_blob_secret_key")),
			Bucket:       strings.TrimSpace(v.GetString("facet_blob_bucket")),
			UseSSL:       v.GetBool("facet_blob_ssl"),
			Region:       strings.TrimSpace(v.GetString("facet_blob_region")),
			PublicURL:    strings.TrimSpace(v.GetString("facet_blob_public_url")),
			TicketTTLSec: ticketTTL,
		},
		Inference: InferenceConfig{
			UpstreamURL:     strings.TrimSpace(v.GetString("facet_inference_url")),
			UpstreamToken:   strings.TrimSpace(v.GetString("facet_inference_token")),
			PollIntervalSec: pollInterval,
		},
		Relay: RelayConfig{
			WebhookSecret:  strings.TrimSpace(v.GetString("facet_webhook_secret")),
			CacheTTLSec:    relayTTL,
			RedisAddr:      strings.TrimSpace(v.GetString("facet_redis_addr")),
			RedisPassword:  strings.TrimSpace(v.GetString("facet_redis_password")),
			EventSinkURL:   strings.TrimSpace(v.GetString("facet_event_sink_url")),
			EventSinkToken: strings.TrimSpace(v.GetString("facet_event_sink_secret")),
		},
		RateLimit: RateLimitConfig{
			Enabled:   v.GetBool("facet_rate_limit_enabled"),
			PerMinute: ratePerMinute,
		},
		Observability: ObservabilityConfig{
			Enabled:           otelEnabled,
			OTLPEndpoint:      otlpEndpoint,
			OTLPTraceHeaders:  mergeHeaderMaps(otlpCommonHeaders, otlpTraceHeaders),
			OTLPMetricHeaders: mergeHeaderMaps(otlpCommonHeaders, otlpMetricHeaders),
			ServiceName:       serviceName,
			ServiceVer:        serviceVersion,
			SamplingRatio:     samplingRatio,
			MetricsConsole:    metricsConsole,
		},
	}

	if strings.TrimSpace(cfg.Database.Path) == "" {
		cfg.Database.Path = "data/facet"
	}
	if requireWebhookSecret && !cfg.IsLocalDevelopment() && cfg.Relay.WebhookSecret == "" {
		return Config{}, fmt.Errorf("FACET_WEBHOOK_SECRET is required outside local/dev environments")
	}
	if cfg.IsLocalDevelopment() && cfg.Relay.WebhookSecret == "" {
		cfg.Relay.WebhookSecret = "facet-local-dev"
	}

	return cfg, nil
}

func parseOTLPHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.TrimSpace(pair[0])
		value := strings.TrimSpace(pair[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeHeaderMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

func (c Config) RelayCacheTTL() time.Duration {
	return time.Duration(c.Relay.CacheTTLSec) * time.Second
}

func (c Config) TicketTTL() time.Duration {
	return time.Duration(c.BlobStore.TicketTTLSec) * time.Second
}

func (c Config) InferencePollInterval() time.Duration {
	return time.Duration(c.Inference.PollIntervalSec) * time.Second
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"facet_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
