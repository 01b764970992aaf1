package oidc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/oidc-core/internal/testutil"
	"github.com/giantswarm/oidc-core/managers"
	"github.com/giantswarm/oidc-core/managers/memory"
	"github.com/giantswarm/oidc-core/server"
)

// newTestHandler builds the HTTP adapter over an in-memory backed pipeline
func newTestHandler(t *testing.T, serverConfig *server.Config, handlerConfig *Config) (*Handler, *server.Server) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	ctx := context.Background()
	if err := store.CreateApplication(ctx, testutil.GenerateTestApplication()); err != nil {
		t.Fatalf("failed to seed application: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store.SetLogger(logger)

	if serverConfig == nil {
		serverConfig = &server.Config{UseReferenceTokens: true, UseRollingRefreshTokens: true}
	}
	pipeline, err := server.New(store, store, store, store, serverConfig, logger)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	if handlerConfig == nil {
		handlerConfig = &Config{}
	}
	handler, err := NewHandler(pipeline, handlerConfig, logger)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	t.Cleanup(handler.Close)
	return handler, pipeline
}

// issueCode produces an authorization code the way the authorization
// endpoint would, for exchange through the HTTP layer
func issueCode(t *testing.T, pipeline *server.Server, scopes ...string) string {
	t.Helper()

	ticket := server.NewTicket("test-user-123")
	ticket.SetScopes(scopes...)
	ticket.SetAudiences("test-client-id")
	code, err := pipeline.IssueAuthorizationCode(context.Background(),
		&server.Request{ClientID: "test-client-id"}, ticket)
	if err != nil {
		t.Fatalf("failed to issue code: %v", err)
	}
	return code
}

func postForm(t *testing.T, handler http.HandlerFunc, form url.Values, clientID, clientSecret string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if clientID != "" {
		req.SetBasicAuth(clientID, clientSecret)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleTokenCodeExchange(t *testing.T) {
	handler, pipeline := newTestHandler(t, nil, nil)
	code := issueCode(t, pipeline, "openid", "offline_access")

	rec := postForm(t, handler.HandleToken, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}, "test-client-id", "secret")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["access_token"] == "" || resp["access_token"] == nil {
		t.Error("no access token in response")
	}
	if resp["refresh_token"] == "" || resp["refresh_token"] == nil {
		t.Error("no refresh token in response")
	}
	if resp["id_token"] == "" || resp["id_token"] == nil {
		t.Error("no identity token in response")
	}
	if resp["token_type"] != "Bearer" {
		t.Errorf("token_type = %v", resp["token_type"])
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
}

func TestHandleTokenReplayRejected(t *testing.T) {
	handler, pipeline := newTestHandler(t, nil, nil)
	code := issueCode(t, pipeline, "openid")

	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	if rec := postForm(t, handler.HandleToken, form, "test-client-id", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("first exchange status = %d", rec.Code)
	}

	rec := postForm(t, handler.HandleToken, form, "test-client-id", "secret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want 400", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Error != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want invalid_grant", resp.Error)
	}
}

func TestHandleTokenClientCredentials(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	machine := testutil.GenerateTestApplication()
	machine.ClientID = "machine-client"
	machine.Permissions = []string{
		managers.PermissionEndpointToken,
		managers.PermissionGrantTypeClientCredentials,
	}
	if err := store.CreateApplication(context.Background(), machine); err != nil {
		t.Fatalf("failed to seed application: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store.SetLogger(logger)
	pipeline, err := server.New(store, store, store, store, &server.Config{}, logger)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	handler, err := NewHandler(pipeline, &Config{}, logger)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	t.Cleanup(handler.Close)

	rec := postForm(t, handler.HandleToken, url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {"api:read"},
	}, "machine-client", "secret")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["access_token"] == "" || resp["access_token"] == nil {
		t.Error("no access token in response")
	}
	if _, ok := resp["refresh_token"]; ok {
		t.Error("client credentials response carries a refresh token")
	}
	if _, ok := resp["id_token"]; ok {
		t.Error("client credentials response carries an identity token")
	}
}

func TestHandleTokenClientAuthFailure(t *testing.T) {
	handler, pipeline := newTestHandler(t, nil, nil)
	code := issueCode(t, pipeline, "openid")

	rec := postForm(t, handler.HandleToken, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}, "test-client-id", "wrong-secret")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header on 401")
	}
}

func TestHandleTokenFormCredentials(t *testing.T) {
	handler, pipeline := newTestHandler(t, nil, nil)
	code := issueCode(t, pipeline, "openid")

	// Credentials in the form body instead of the Authorization header
	rec := postForm(t, handler.HandleToken, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"test-client-id"},
		"client_secret": {"secret"},
	}, "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleTokenRequiresPost(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.HandleToken(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("Allow = %q, want POST", allow)
	}
}

func TestHandleIntrospect(t *testing.T) {
	handler, pipeline := newTestHandler(t, nil, nil)
	code := issueCode(t, pipeline, "openid")

	exchange := postForm(t, handler.HandleToken, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}, "test-client-id", "secret")
	if exchange.Code != http.StatusOK {
		t.Fatalf("exchange status = %d", exchange.Code)
	}
	var tokens TokenResponse
	if err := json.Unmarshal(exchange.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("invalid exchange response: %v", err)
	}

	rec := postForm(t, handler.HandleIntrospect, url.Values{
		"token": {tokens.AccessToken},
	}, "test-client-id", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("introspect status = %d", rec.Code)
	}
	var resp IntrospectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid introspection response: %v", err)
	}
	if !resp.Active {
		t.Error("fresh access token introspects as inactive")
	}
	if resp.Subject != "test-user-123" {
		t.Errorf("sub = %q", resp.Subject)
	}

	// An undecipherable token is inactive, not an error
	inactive := postForm(t, handler.HandleIntrospect, url.Values{
		"token": {"garbage"},
	}, "test-client-id", "secret")
	if inactive.Code != http.StatusOK {
		t.Fatalf("introspect(garbage) status = %d, want 200", inactive.Code)
	}
	var inactiveResp IntrospectionResponse
	if err := json.Unmarshal(inactive.Body.Bytes(), &inactiveResp); err != nil {
		t.Fatalf("invalid introspection response: %v", err)
	}
	if inactiveResp.Active {
		t.Error("garbage token introspects as active")
	}
}

func TestHandleIntrospectMissingCredentials(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil)

	rec := postForm(t, handler.HandleIntrospect, url.Values{
		"token": {"anything"},
	}, "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Error != ErrorCodeInvalidRequest {
		t.Errorf("error = %q, want invalid_request", resp.Error)
	}
}

func TestHandleRevoke(t *testing.T) {
	handler, pipeline := newTestHandler(t, nil, nil)
	code := issueCode(t, pipeline, "openid")

	exchange := postForm(t, handler.HandleToken, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}, "test-client-id", "secret")
	var tokens TokenResponse
	if err := json.Unmarshal(exchange.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("invalid exchange response: %v", err)
	}

	rec := postForm(t, handler.HandleRevoke, url.Values{
		"token": {tokens.AccessToken},
	}, "test-client-id", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", rec.Code)
	}

	after := postForm(t, handler.HandleIntrospect, url.Values{
		"token": {tokens.AccessToken},
	}, "test-client-id", "secret")
	var resp IntrospectionResponse
	if err := json.Unmarshal(after.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid introspection response: %v", err)
	}
	if resp.Active {
		t.Error("access token still active after revocation")
	}
}

func TestRateLimiting(t *testing.T) {
	handler, _ := newTestHandler(t, nil, &Config{
		EnableRateLimiting:         true,
		RateLimitRequestsPerSecond: 1,
		RateLimitBurst:             2,
	})

	limited := false
	for i := 0; i < 5; i++ {
		rec := postForm(t, handler.HandleIntrospect, url.Values{
			"token": {"anything"},
		}, "test-client-id", "secret")
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("burst of requests was never rate limited")
	}
}

func TestTokenResponseParameterFlattening(t *testing.T) {
	resp := TokenResponse{
		AccessToken: "at",
		TokenType:   "Bearer",
		Parameters: map[string]string{
			"custom_param": "custom-value",
			// A colliding name must not override the standard member
			"access_token": "evil",
		},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out["custom_param"] != "custom-value" {
		t.Errorf("custom_param = %v", out["custom_param"])
	}
	if out["access_token"] != "at" {
		t.Errorf("access_token = %v, standard member must win", out["access_token"])
	}
}
