package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: Never record actual sensitive values (access tokens,
// refresh tokens, authorization codes, client secrets) in traces or metrics.
// Only record metadata such as token types, statuses and decision outcomes.
// Traces are persisted for extended periods, replicated across monitoring
// infrastructure, and accessible to wider audiences than production systems.
const (
	// Protocol attributes - metadata only
	AttrClientID  = "oidc.client_id"  // Client identifier (non-secret)
	AttrSubject   = "oidc.subject"    // Subject identifier (non-secret)
	AttrEndpoint  = "oidc.endpoint"   // Protocol endpoint name
	AttrGrantType = "oidc.grant_type" // OAuth grant type
	AttrScope     = "oidc.scope"      // Requested scopes
	AttrTokenType = "oidc.token_type" //nolint:gosec // Token record type - NOT the actual token
	AttrActive    = "oidc.active"     // Introspection decision (boolean)
	AttrError     = "oidc.error"      // OAuth error code

	// Manager attributes
	AttrManagerOperation = "manager.operation"
	AttrManagerResult    = "manager.result"
	AttrManagerBackend   = "manager.backend"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddRequestAttributes adds common protocol request attributes to a span (nil-safe)
func AddRequestAttributes(span trace.Span, endpoint, clientID, grantType string) {
	if endpoint != "" {
		SetSpanAttributes(span, attribute.String(AttrEndpoint, endpoint))
	}
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if grantType != "" {
		SetSpanAttributes(span, attribute.String(AttrGrantType, grantType))
	}
}

// AddManagerAttributes adds manager operation attributes to a span (nil-safe)
func AddManagerAttributes(span trace.Span, operation, backend string) {
	SetSpanAttributes(span,
		attribute.String(AttrManagerOperation, operation),
		attribute.String(AttrManagerBackend, backend),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
