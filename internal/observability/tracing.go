package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const dbTracerName = "facet/db"

type contextKey string

const (
	clientIDContextKey contextKey = "observability.client_id"
	shopContextKey     contextKey = "observability.shop"
	requestIDKey       contextKey = "observability.request_id"
	routeKey           contextKey = "observability.route"
)

// Span is the application-level tracing span contract.
type Span interface {
	End()
	RecordError(error)
}

type otelSpan struct {
	inner trace.Span
}

// StartDBSpan starts a database tracing span for one query operation.
func StartDBSpan(ctx context.Context, queryName, operation string) (context.Context, Span) {
	queryName = strings.TrimSpace(queryName)
	if queryName == "" {
		queryName = "unknown"
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system.name", "sqlite"),
		attribute.String("db.query_name", queryName),
		attribute.String("db.operation", strings.TrimSpace(operation)),
	}
	if clientID, ok := ClientIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("facet.client_id", clientID))
	}
	if shop, ok := ShopFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("facet.shop", shop))
	}

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, "db."+queryName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, otelSpan{inner: span}
}

// WithRequestIdentity enriches context and current span with client/shop attributes.
func WithRequestIdentity(ctx context.Context, clientID, shop string) context.Context {
	clientID = strings.TrimSpace(clientID)
	shop = strings.TrimSpace(shop)
	if clientID != "" {
		ctx = context.WithValue(ctx, clientIDContextKey, clientID)
	}
	if shop != "" {
		ctx = context.WithValue(ctx, shopContextKey, shop)
	}
	setSpanIdentityAttributes(ctx, clientID, shop)
	return ctx
}

// WithRequestMetadata enriches context and current span with request metadata.
func WithRequestMetadata(ctx context.Context, requestID, route string) context.Context {
	requestID = strings.TrimSpace(requestID)
	route = strings.TrimSpace(route)
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	if route != "" {
		ctx = context.WithValue(ctx, routeKey, route)
	}
	setSpanRequestAttributes(ctx, requestID, route)
	return ctx
}

// ClientIDFromContext extracts the widget client identity.
func ClientIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(clientIDContextKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// ShopFromContext extracts the shop domain the request acts on.
func ShopFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(shopContextKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RequestIDFromContext extracts request id.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(requestIDKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RouteFromContext extracts normalized route path.
func RouteFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(routeKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func setSpanIdentityAttributes(ctx context.Context, clientID, shop string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 2)
	if clientID != "" {
		attrs = append(attrs, attribute.String("facet.client_id", clientID))
	}
	if shop != "" {
		attrs = append(attrs, attribute.String("facet.shop", shop))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func setSpanRequestAttributes(ctx context.Context, requestID, route string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 2)
	if requestID != "" {
		attrs = append(attrs, attribute.String("request.id", requestID))
	}
	if route != "" {
		attrs = append(attrs, attribute.String("http.route", route))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func (s otelSpan) End() {
	if s.inner == nil {
		return
	}
	s.inner.End()
}

func (s otelSpan) RecordError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}
