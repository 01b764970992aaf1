package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/managers"
	"github.com/giantswarm/oidc-core/security"
)

// Server runs the request pipeline. All per-request state lives on the
// Request and Response values; the Server itself is read-only after New and
// safe for concurrent use.
type Server struct {
	applications   managers.ApplicationManager
	authorizations managers.AuthorizationManager
	scopes         managers.ScopeManager
	tokens         managers.TokenManager

	registry *Registry

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// New creates a request-pipeline server and registers the built-in
// validators, handlers and shapers on its dispatch registry.
func New(
	applications managers.ApplicationManager,
	authorizations managers.AuthorizationManager,
	scopes managers.ScopeManager,
	tokens managers.TokenManager,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if applications == nil {
		return nil, fmt.Errorf("application manager is required")
	}
	if authorizations == nil {
		return nil, fmt.Errorf("authorization manager is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		applications:   applications,
		authorizations: authorizations,
		scopes:         scopes,
		tokens:         tokens,
		registry:       NewRegistry(),
		Logger:         logger,
		Config:         applySecureDefaults(config, logger),
	}
	s.registerHooks()
	return s, nil
}

// registerHooks wires the built-in pipeline steps into the registry.
// Validation hooks wrap whatever base hook is registered so hosts that
// install their own base validation still run it after the built-in chain.
func (s *Server) registerHooks() {
	// Registration against a fresh registry cannot fail; the events are
	// the registry's own enumerated set.
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(s.registry.Register(EndpointIntrospection, StageExtract, s.extractIntrospectionRequest))
	must(s.registry.Register(EndpointToken, StageExtract, s.extractTokenRequest))
	must(s.registry.Register(EndpointRevocation, StageExtract, s.extractRevocationRequest))

	must(s.registry.Override(EndpointIntrospection, StageValidate, func(next Hook) Hook {
		return func(ctx context.Context, req *Request, resp *Response) error {
			if err := s.validateIntrospectionRequest(ctx, req); err != nil {
				return err
			}
			if req.IsRejected() {
				return nil
			}
			return next(ctx, req, resp)
		}
	}))
	must(s.registry.Register(EndpointIntrospection, StageHandle, func(ctx context.Context, req *Request, resp *Response) error {
		return s.handleIntrospectionRequest(ctx, req, resp)
	}))

	must(s.registry.Override(EndpointToken, StageValidate, func(next Hook) Hook {
		return func(ctx context.Context, req *Request, resp *Response) error {
			if err := s.validateTokenRequest(ctx, req); err != nil {
				return err
			}
			if req.IsRejected() {
				return nil
			}
			return next(ctx, req, resp)
		}
	}))
	must(s.registry.Register(EndpointToken, StageHandle, func(ctx context.Context, req *Request, resp *Response) error {
		return s.handleSigninResponse(ctx, req, resp)
	}))

	must(s.registry.Override(EndpointRevocation, StageValidate, func(next Hook) Hook {
		return func(ctx context.Context, req *Request, resp *Response) error {
			if err := s.validateRevocationRequest(ctx, req); err != nil {
				return err
			}
			if req.IsRejected() {
				return nil
			}
			return next(ctx, req, resp)
		}
	}))
	must(s.registry.Register(EndpointRevocation, StageHandle, func(ctx context.Context, req *Request, resp *Response) error {
		return s.handleRevocationRequest(ctx, req, resp)
	}))

	must(s.registry.Register(EndpointAuthorization, StageApply, func(ctx context.Context, req *Request, resp *Response) error {
		return s.applyChallengeResponse(ctx, req, resp)
	}))
	must(s.registry.Register(EndpointLogout, StageApply, func(ctx context.Context, req *Request, resp *Response) error {
		return s.applySignoutResponse(ctx, req, resp)
	}))
}

// Registry exposes the dispatch table so hosts can override individual
// pipeline events before serving starts.
func (s *Server) Registry() *Registry {
	return s.registry
}

// SetInstrumentation attaches OpenTelemetry metrics and tracing.
// Call before serving starts; the pipeline reads these without locking.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.metrics = inst.Metrics()
	s.tracer = inst.Tracer("server")
}

// Process runs the full pipeline for one request. A protocol rejection is
// reported on the returned Response, never as a Go error; a non-nil error
// is a fatal backend failure.
func (s *Server) Process(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if req.Endpoint == "" {
		return nil, fmt.Errorf("request endpoint is required")
	}

	ctx, span := s.startSpan(ctx, "server.Process", req)
	defer span.End()

	resp := NewResponse()
	for _, stage := range []Stage{StageExtract, StageValidate, StageHandle, StageApply} {
		hook := s.registry.Hook(req.Endpoint, stage)
		if err := hook(ctx, req, resp); err != nil {
			instrumentation.RecordError(span, err)
			return nil, fmt.Errorf("%s stage failed: %w", stage, err)
		}
		if req.IsRejected() {
			resp.Error = req.Rejection()
			s.recordRejection(ctx, req)
			instrumentation.SetSpanSuccess(span)
			return resp, nil
		}
		if stage == StageValidate {
			s.recordValidated(ctx, req)
		}
	}

	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

// Introspect processes an introspection request
func (s *Server) Introspect(ctx context.Context, req *Request) (*Response, error) {
	req.Endpoint = EndpointIntrospection
	return s.Process(ctx, req)
}

// Exchange processes a token request
func (s *Server) Exchange(ctx context.Context, req *Request) (*Response, error) {
	req.Endpoint = EndpointToken
	return s.Process(ctx, req)
}

// Revoke processes a revocation request
func (s *Server) Revoke(ctx context.Context, req *Request) (*Response, error) {
	req.Endpoint = EndpointRevocation
	return s.Process(ctx, req)
}

// startSpan begins a tracing span for a pipeline run, or a noop span when
// instrumentation is not attached
func (s *Server) startSpan(ctx context.Context, name string, req *Request) (context.Context, trace.Span) {
	if s.tracer == nil {
		return tracenoop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	ctx, span := s.tracer.Start(ctx, name)
	instrumentation.AddRequestAttributes(span, string(req.Endpoint), req.ClientID, req.GrantType)
	return ctx, span
}

func (s *Server) recordValidated(ctx context.Context, req *Request) {
	if s.metrics == nil {
		return
	}
	s.metrics.RequestsValidated.Add(ctx, 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrEndpoint, string(req.Endpoint)),
	))
}

func (s *Server) recordRejection(ctx context.Context, req *Request) {
	rejection := req.Rejection()
	s.Logger.Info("Request rejected",
		"endpoint", req.Endpoint,
		"client_id", req.ClientID,
		"error", rejection.Code,
		"description", rejection.Description)
	if s.Auditor != nil {
		s.Auditor.LogRejection(string(req.Endpoint), req.ClientID, "", rejection.Code, rejection.Description)
	}
	if s.metrics != nil {
		s.metrics.RequestsRejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrEndpoint, string(req.Endpoint)),
			attribute.String(instrumentation.AttrError, rejection.Code),
		))
	}
}
