package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the library
type Metrics struct {
	// HTTP layer metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Pipeline metrics
	RequestsValidated     metric.Int64Counter
	RequestsRejected      metric.Int64Counter
	TokensRedeemed        metric.Int64Counter
	RedemptionConflicts   metric.Int64Counter
	SiblingTokensRevoked  metric.Int64Counter
	TokensExtended        metric.Int64Counter
	AuthorizationsCreated metric.Int64Counter
	IntrospectionDecided  metric.Int64Counter

	// Security metrics
	RateLimitExceeded metric.Int64Counter

	// Manager metrics
	ManagerOperationTotal      metric.Int64Counter
	ManagerOperationDuration   metric.Float64Histogram
	ManagerApplicationsCount   metric.Int64ObservableGauge
	ManagerAuthorizationsCount metric.Int64ObservableGauge
	ManagerTokensCount         metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	managerMeter := inst.Meter("managers")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oidc.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oidc.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.RequestsValidated, err = serverMeter.Int64Counter(
		"oidc.requests.validated",
		metric.WithDescription("Number of requests accepted by the validation stage"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests.validated counter: %w", err)
	}

	m.RequestsRejected, err = serverMeter.Int64Counter(
		"oidc.requests.rejected",
		metric.WithDescription("Number of requests rejected by a validator or handler"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests.rejected counter: %w", err)
	}

	m.TokensRedeemed, err = serverMeter.Int64Counter(
		"oidc.tokens.redeemed",
		metric.WithDescription("Number of codes and refresh tokens redeemed"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.redeemed counter: %w", err)
	}

	m.RedemptionConflicts, err = serverMeter.Int64Counter(
		"oidc.tokens.redemption_conflicts",
		metric.WithDescription("Number of redemption attempts lost to a concurrent request"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.redemption_conflicts counter: %w", err)
	}

	m.SiblingTokensRevoked, err = serverMeter.Int64Counter(
		"oidc.tokens.siblings_revoked",
		metric.WithDescription("Number of sibling tokens revoked during rolling rotation"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.siblings_revoked counter: %w", err)
	}

	m.TokensExtended, err = serverMeter.Int64Counter(
		"oidc.tokens.extended",
		metric.WithDescription("Number of refresh tokens extended by sliding expiration"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.extended counter: %w", err)
	}

	m.AuthorizationsCreated, err = serverMeter.Int64Counter(
		"oidc.authorizations.created",
		metric.WithDescription("Number of ad hoc authorizations created"),
		metric.WithUnit("{authorization}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorizations.created counter: %w", err)
	}

	m.IntrospectionDecided, err = serverMeter.Int64Counter(
		"oidc.introspection.decided",
		metric.WithDescription("Number of introspection decisions, labeled by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection.decided counter: %w", err)
	}

	m.RateLimitExceeded, err = serverMeter.Int64Counter(
		"oidc.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.ManagerOperationTotal, err = managerMeter.Int64Counter(
		"oidc.manager.operation.total",
		metric.WithDescription("Total number of manager operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager.operation.total counter: %w", err)
	}

	m.ManagerOperationDuration, err = managerMeter.Float64Histogram(
		"oidc.manager.operation.duration",
		metric.WithDescription("Manager operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager.operation.duration histogram: %w", err)
	}

	m.ManagerApplicationsCount, err = managerMeter.Int64ObservableGauge(
		"oidc.manager.applications.count",
		metric.WithDescription("Current number of applications"),
		metric.WithUnit("{application}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager.applications.count gauge: %w", err)
	}

	m.ManagerAuthorizationsCount, err = managerMeter.Int64ObservableGauge(
		"oidc.manager.authorizations.count",
		metric.WithDescription("Current number of authorizations"),
		metric.WithUnit("{authorization}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager.authorizations.count gauge: %w", err)
	}

	m.ManagerTokensCount, err = managerMeter.Int64ObservableGauge(
		"oidc.manager.tokens.count",
		metric.WithDescription("Current number of token records"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager.tokens.count gauge: %w", err)
	}

	return m, nil
}

// RecordManagerOperation records a manager operation with its outcome
func (m *Metrics) RecordManagerOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrManagerOperation, operation),
		attribute.String(AttrManagerResult, result),
	)
	m.ManagerOperationTotal.Add(ctx, 1, attrs)
	m.ManagerOperationDuration.Record(ctx, durationMs, attrs)
}
