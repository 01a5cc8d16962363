package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/helioma/facet/internal/blobstore"
	"github.com/helioma/facet/internal/cartrelay"
	"github.com/helioma/facet/internal/config"
	"github.com/helioma/facet/internal/db"
	"github.com/helioma/facet/internal/inference"
	"github.com/helioma/facet/internal/observability"
	"github.com/helioma/facet/internal/server"
	"github.com/helioma/facet/internal/server/routes"
	"github.com/helioma/facet/pkg/cartevents"
)

func main() {
	log := slog.New(observability.WrapSlogHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOpenTelemetry(ctx, log, observability.OpenTelemetryConfig{
		Enabled:           cfg.Observability.Enabled,
		Environment:       cfg.Environment,
		OTLPEndpoint:      cfg.Observability.OTLPEndpoint,
		OTLPTraceHeaders:  cfg.Observability.OTLPTraceHeaders,
		OTLPMetricHeaders: cfg.Observability.OTLPMetricHeaders,
		ServiceName:       cfg.Observability.ServiceName,
		ServiceVer:        cfg.Observability.ServiceVer,
		SamplingRatio:     cfg.Observability.SamplingRatio,
		MetricsConsole:    cfg.Observability.MetricsConsole,
	})
	if err != nil {
		slog.Error("Failed to set up OpenTelemetry", "error", err)
		return
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down OpenTelemetry", "error", err)
		}
	}()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	tickets, err := blobstore.New(blobstore.Options{
		Endpoint:  cfg.BlobStore.Endpoint,
		AccessKey: cfg.BlobStore.AccessKey,
		SecretKey: cfg.BlobStore.SecretKey,
		Bucket:    cfg.BlobStore.Bucket,
		UseSSL:    cfg.BlobStore.UseSSL,
		Region:    cfg.BlobStore.Region,
		PublicURL: cfg.BlobStore.PublicURL,
		TicketTTL: cfg.TicketTTL(),
	})
	if err != nil {
		slog.Error("Failed to create blob store", "error", err)
		return
	}
	if err := tickets.EnsureBucket(ctx); err != nil {
		slog.Warn("Capture bucket not ready, upload tickets may fail", "error", err)
	}

	var warnings []string

	analyzer := inference.NewClient(cfg.Inference.UpstreamURL, cfg.Inference.UpstreamToken)
	if !analyzer.Enabled() {
		warnings = append(warnings, "inference upstream not configured")
		slog.Warn("FACET_INFERENCE_URL not set, analysis requests will be rejected")
	}

	var redisClient *redis.Client
	var pendingStore cartrelay.PendingStore
	if cfg.Relay.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Relay.RedisAddr,
			Password: cfg.Relay.RedisPassword,
		})
		defer func() { _ = redisClient.Close() }()
		pendingStore = cartrelay.NewRedisStore(redisClient, cfg.RelayCacheTTL())
	} else {
		pendingStore = cartrelay.NewMemoryStore()
		slog.Info("FACET_REDIS_ADDR not set, using in-process pending cart store")
	}

	var sink cartrelay.EventSink
	if cfg.Relay.EventSinkURL != "" {
		sink = cartevents.Publisher{
			Endpoint: cfg.Relay.EventSinkURL,
			Secret:   cfg.Relay.EventSinkToken,
		}
	}

	relay := cartrelay.New(pendingStore, sink, log, cfg.RelayCacheTTL())

	runner := inference.NewRunner(database, analyzer, log, cfg.InferencePollInterval())
	go runner.Run(ctx)

	go expireTicketsLoop(ctx, database, log)

	srv := server.New(log)
	srv.Use(observability.EchoMiddleware(), observability.EchoSpanEnrichmentMiddleware())
	if cfg.RateLimit.Enabled && redisClient != nil {
		srv.Use(routes.NewRateLimiter(redisClient, cfg.RateLimit.PerMinute, time.Minute).Middleware())
	} else if cfg.RateLimit.Enabled {
		warnings = append(warnings, "rate limiting disabled, redis not configured")
	}

	srv.RegisterRouter(routes.NewUploadRoutes(tickets, database))
	srv.RegisterRouter(routes.NewInferRoutes(analyzer, database))
	srv.RegisterRouter(routes.NewCartEventRoutes(relay))
	srv.RegisterRouter(routes.NewWebhookRoutes(cfg.Relay.WebhookSecret, relay))
	srv.RegisterRouter(routes.NewHealthRoutes(warnings...))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down server", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("Starting server", "port", cfg.Server.Port, "environment", cfg.Environment)
	slog.Error("Closing server", "error", srv.Start(addr))
}

func expireTicketsLoop(ctx context.Context, database *db.Database, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := database.DeleteExpiredUploadTickets(ctx, time.Now())
			if err != nil {
				log.Error("Failed to expire upload tickets", "error", err)
				continue
			}
			if removed > 0 {
				log.Debug("Expired upload tickets removed", "count", removed)
			}
		}
	}
}
