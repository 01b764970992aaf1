// Package oidc exposes the authorization server's request pipeline over
// HTTP: token, introspection and revocation endpoints with client
// authentication, per-IP rate limiting and security headers. All protocol
// decisions happen in the server package; this layer only frames them.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/server"
)

// Handler serves the protocol endpoints
type Handler struct {
	pipeline    *server.Server
	auditor     *security.Auditor
	rateLimiter *security.RateLimiter
	logger      *slog.Logger
	config      *Config

	metrics *instrumentation.Metrics
}

// NewHandler creates the HTTP adapter around a request pipeline
func NewHandler(pipeline *server.Server, config *Config, logger *slog.Logger) (*Handler, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline server is required")
	}
	if config == nil {
		config = &Config{EnableRateLimiting: true}
	}
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults(logger)

	h := &Handler{
		pipeline: pipeline,
		auditor:  pipeline.Auditor,
		logger:   logger,
		config:   config,
	}
	if config.EnableRateLimiting {
		h.rateLimiter = security.NewRateLimiter(
			config.RateLimitRequestsPerSecond,
			config.RateLimitBurst,
			config.RateLimitMaxEntries,
			logger,
		)
	}
	return h, nil
}

// SetInstrumentation attaches OpenTelemetry metrics to the HTTP layer
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	h.metrics = inst.Metrics()
}

// Close releases background resources held by the handler
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// RegisterRoutes registers the protocol endpoints on the mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/oauth/token", h.instrumented("/oauth/token", h.HandleToken))
	mux.HandleFunc("/oauth/introspect", h.instrumented("/oauth/introspect", h.HandleIntrospect))
	mux.HandleFunc("/oauth/revoke", h.instrumented("/oauth/revoke", h.HandleRevoke))
}

// HandleToken serves the token endpoint (RFC 6749 §3.2)
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	req, ok := h.beginRequest(w, r, server.EndpointToken)
	if !ok {
		return
	}
	req.GrantType = r.PostFormValue("grant_type")
	switch req.GrantType {
	case server.GrantTypeAuthorizationCode:
		req.Token = r.PostFormValue("code")
	case server.GrantTypeRefreshToken:
		req.Token = r.PostFormValue("refresh_token")
	}

	resp, err := h.pipeline.Exchange(r.Context(), req)
	if err != nil {
		h.writeFatal(w, r, err)
		return
	}
	if resp.Error != nil {
		h.writeError(w, fromRejection(resp.Error))
		return
	}

	issued, err := h.pipeline.IssueTokens(r.Context(), req, resp)
	if err != nil {
		h.writeFatal(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    issued.ExpiresIn,
		RefreshToken: issued.RefreshToken,
		IDToken:      issued.IdentityToken,
		Scope:        strings.Join(resp.Ticket.Scopes(), " "),
		Parameters:   resp.Parameters,
	})
}

// HandleIntrospect serves the introspection endpoint (RFC 7662).
// An inactive token is a normal 200 response with active=false, never an error.
func (h *Handler) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
	req, ok := h.beginRequest(w, r, server.EndpointIntrospection)
	if !ok {
		return
	}
	req.Token = r.PostFormValue("token")
	req.TokenTypeHint = r.PostFormValue("token_type_hint")

	resp, err := h.pipeline.Introspect(r.Context(), req)
	if err != nil {
		h.writeFatal(w, r, err)
		return
	}
	if resp.Error != nil {
		h.writeError(w, fromRejection(resp.Error))
		return
	}
	if !resp.Active {
		h.writeJSON(w, http.StatusOK, IntrospectionResponse{Active: false})
		return
	}

	out := IntrospectionResponse{
		Active:    true,
		TokenType: "Bearer",
		ClientID:  req.ClientID,
	}
	if ticket := req.Ticket; ticket != nil {
		out.Scope = strings.Join(ticket.Scopes(), " ")
		out.Subject = ticket.Subject
		out.Audiences = ticket.Audiences()
		if !ticket.IssuedAt.IsZero() {
			out.IssuedAt = ticket.IssuedAt.Unix()
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

// HandleRevoke serves the revocation endpoint (RFC 7009).
// Unknown tokens yield success; only client failures produce errors.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.beginRequest(w, r, server.EndpointRevocation)
	if !ok {
		return
	}
	req.Token = r.PostFormValue("token")
	req.TokenTypeHint = r.PostFormValue("token_type_hint")

	resp, err := h.pipeline.Revoke(r.Context(), req)
	if err != nil {
		h.writeFatal(w, r, err)
		return
	}
	if resp.Error != nil {
		h.writeError(w, fromRejection(resp.Error))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// beginRequest applies the shared endpoint preamble: method check, form
// parsing, rate limiting, security headers and client credential extraction.
func (h *Handler) beginRequest(w http.ResponseWriter, r *http.Request, endpoint server.Endpoint) (*server.Request, bool) {
	security.SetSecurityHeaders(w, h.config.Issuer)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, ErrInvalidRequest("The request must use the POST method."))
		return nil, false
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("The request form could not be parsed."))
		return nil, false
	}

	clientIP := security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
	if h.rateLimiter != nil && !h.rateLimiter.Allow(clientIP) {
		if h.auditor != nil {
			h.auditor.LogRateLimitExceeded(clientIP, string(endpoint))
		}
		if h.metrics != nil {
			h.metrics.RateLimitExceeded.Add(r.Context(), 1, metric.WithAttributes(
				attribute.String(instrumentation.AttrEndpoint, string(endpoint)),
			))
		}
		h.writeError(w, ErrRateLimitExceeded("Too many requests, slow down."))
		return nil, false
	}

	clientID, clientSecret := clientCredentials(r)
	return &server.Request{
		Endpoint:     endpoint,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       strings.Fields(r.PostFormValue("scope")),
	}, true
}

// clientCredentials extracts the client id and secret from HTTP Basic
// authentication, falling back to form parameters (RFC 6749 §2.3.1)
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// instrumented wraps an endpoint handler with HTTP metrics
func (h *Handler) instrumented(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		h.recordHTTPRequest(r.Context(), route, r.Method, rec.status, time.Since(start))
	}
}

func (h *Handler) recordHTTPRequest(ctx context.Context, route, method string, status int, duration time.Duration) {
	if h.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(instrumentation.AttrHTTPEndpoint, route),
		attribute.String(instrumentation.AttrHTTPMethod, method),
		attribute.Int(instrumentation.AttrHTTPStatusCode, status),
	)
	h.metrics.HTTPRequestsTotal.Add(ctx, 1, attrs)
	h.metrics.HTTPRequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// writeError writes a structured OAuth error response
func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth", charset="UTF-8"`)
	}
	h.writeJSON(w, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// writeFatal handles backend failures. Details never reach the client.
func (h *Handler) writeFatal(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("Request processing failed",
		"path", r.URL.Path,
		"error", err)
	h.writeError(w, ErrServerError("The request could not be processed."))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
