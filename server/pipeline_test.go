package server

import (
	"context"
	"testing"

	"github.com/giantswarm/oidc-core/internal/testutil"
	"github.com/giantswarm/oidc-core/managers"
)

// TestFullGrantLifecycle walks one grant through the whole pipeline: a code
// is issued, exchanged for tokens, the access token is introspected, the
// refresh token is rotated and the access token is revoked.
func TestFullGrantLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &Config{
		UseReferenceTokens:      true,
		UseRollingRefreshTokens: true,
	})
	ctx := context.Background()

	// Issue an authorization code the way the authorization endpoint would
	grant := NewTicket("test-user-123")
	grant.SetScopes(ScopeOpenID, ScopeOfflineAccess)
	grant.SetAudiences("test-client-id")
	code, err := srv.IssueAuthorizationCode(ctx, &Request{ClientID: "test-client-id"}, grant)
	if err != nil {
		t.Fatalf("failed to issue code: %v", err)
	}

	// Exchange the code
	exchangeReq := &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeAuthorizationCode,
		Token:        code,
	}
	resp, err := srv.Exchange(ctx, exchangeReq)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("exchange rejected: %v", resp.Error)
	}
	if !resp.IncludeIdentityToken || !resp.IncludeRefreshToken {
		t.Fatalf("unexpected inclusion flags: id=%v refresh=%v",
			resp.IncludeIdentityToken, resp.IncludeRefreshToken)
	}

	issued, err := srv.IssueTokens(ctx, exchangeReq, resp)
	if err != nil {
		t.Fatalf("token issuance failed: %v", err)
	}
	if issued.AccessToken == "" || issued.RefreshToken == "" || issued.IdentityToken == "" {
		t.Fatal("issued token values missing")
	}

	// Replaying the code must fail
	replay, err := srv.Exchange(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeAuthorizationCode,
		Token:        code,
	})
	if err != nil {
		t.Fatalf("replay exchange failed: %v", err)
	}
	if replay.Error == nil || replay.Error.Code != ErrorCodeInvalidGrant {
		t.Fatalf("replayed code not rejected: %v", replay.Error)
	}

	// The access token introspects as active for an audience-bound caller
	active, err := srv.Introspect(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		Token:        issued.AccessToken,
	})
	if err != nil {
		t.Fatalf("introspection failed: %v", err)
	}
	if active.Error != nil {
		t.Fatalf("introspection rejected: %v", active.Error)
	}
	if !active.Active {
		t.Fatal("fresh access token introspects as inactive")
	}

	// Rotate the refresh token
	rotateReq := &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeRefreshToken,
		Token:        issued.RefreshToken,
	}
	rotated, err := srv.Exchange(ctx, rotateReq)
	if err != nil {
		t.Fatalf("refresh exchange failed: %v", err)
	}
	if rotated.Error != nil {
		t.Fatalf("refresh exchange rejected: %v", rotated.Error)
	}
	if !rotated.IncludeRefreshToken {
		t.Fatal("rolling mode did not issue a new refresh token")
	}

	// Rotation revoked the sibling access token
	after, err := srv.Introspect(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		Token:        issued.AccessToken,
	})
	if err != nil {
		t.Fatalf("introspection failed: %v", err)
	}
	if after.Active {
		t.Fatal("access token still active after sibling revocation")
	}

	// The used refresh token cannot be replayed either
	reuse, err := srv.Exchange(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeRefreshToken,
		Token:        issued.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh replay failed: %v", err)
	}
	if reuse.Error == nil || reuse.Error.Code != ErrorCodeInvalidGrant {
		t.Fatalf("replayed refresh token not rejected: %v", reuse.Error)
	}
}

func TestIntrospectionAudienceBinding(t *testing.T) {
	srv, store := newTestServer(t, &Config{UseReferenceTokens: true})
	ctx := context.Background()

	// A second confidential resource server
	other := &managers.Application{
		ClientID:         "other-resource",
		ClientSecretHash: testutil.TestClientSecretHash,
		Type:             managers.ApplicationTypeConfidential,
		Permissions:      []string{managers.PermissionEndpointIntrospection},
	}
	if err := store.CreateApplication(ctx, other); err != nil {
		t.Fatalf("failed to seed application: %v", err)
	}

	grant := NewTicket("test-user-123")
	grant.SetScopes(ScopeOpenID)
	grant.SetAudiences("test-client-id")
	code, err := srv.IssueAuthorizationCode(ctx, &Request{ClientID: "test-client-id"}, grant)
	if err != nil {
		t.Fatalf("failed to issue code: %v", err)
	}
	exchangeReq := &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeAuthorizationCode,
		Token:        code,
	}
	resp, err := srv.Exchange(ctx, exchangeReq)
	if err != nil || resp.Error != nil {
		t.Fatalf("exchange failed: err=%v rejection=%v", err, resp.Error)
	}
	issued, err := srv.IssueTokens(ctx, exchangeReq, resp)
	if err != nil {
		t.Fatalf("token issuance failed: %v", err)
	}

	// The audience-bound client sees the token as active
	bound, err := srv.Introspect(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		Token:        issued.AccessToken,
	})
	if err != nil || bound.Error != nil {
		t.Fatalf("introspection failed: err=%v rejection=%v", err, bound.Error)
	}
	if !bound.Active {
		t.Fatal("audience-bound introspection reported inactive")
	}

	// Any other client, even a fully authenticated one, learns nothing
	unbound, err := srv.Introspect(ctx, &Request{
		ClientID:     "other-resource",
		ClientSecret: "secret",
		Token:        issued.AccessToken,
	})
	if err != nil || unbound.Error != nil {
		t.Fatalf("introspection failed: err=%v rejection=%v", err, unbound.Error)
	}
	if unbound.Active {
		t.Fatal("non-audience client saw the token as active")
	}
}

func TestRevocationEndpointLifecycle(t *testing.T) {
	srv, store := newTestServer(t, &Config{UseReferenceTokens: true})
	ctx := context.Background()

	grant := NewTicket("test-user-123")
	grant.SetScopes(ScopeOpenID)
	grant.SetAudiences("test-client-id")
	code, err := srv.IssueAuthorizationCode(ctx, &Request{ClientID: "test-client-id"}, grant)
	if err != nil {
		t.Fatalf("failed to issue code: %v", err)
	}
	exchangeReq := &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeAuthorizationCode,
		Token:        code,
	}
	resp, err := srv.Exchange(ctx, exchangeReq)
	if err != nil || resp.Error != nil {
		t.Fatalf("exchange failed: err=%v rejection=%v", err, resp.Error)
	}
	issued, err := srv.IssueTokens(ctx, exchangeReq, resp)
	if err != nil {
		t.Fatalf("token issuance failed: %v", err)
	}

	revokeResp, err := srv.Revoke(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		Token:        issued.AccessToken,
	})
	if err != nil {
		t.Fatalf("revocation failed: %v", err)
	}
	if revokeResp.Error != nil {
		t.Fatalf("revocation rejected: %v", revokeResp.Error)
	}

	after, err := srv.Introspect(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		Token:        issued.AccessToken,
	})
	if err != nil || after.Error != nil {
		t.Fatalf("introspection failed: err=%v rejection=%v", err, after.Error)
	}
	if after.Active {
		t.Fatal("access token still active after revocation")
	}

	// Revoking an undecipherable token still succeeds per RFC 7009
	unknown, err := srv.Revoke(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		Token:        "garbage",
	})
	if err != nil {
		t.Fatalf("revocation of unknown token failed: %v", err)
	}
	if unknown.Error != nil {
		t.Fatalf("revocation of unknown token rejected: %v", unknown.Error)
	}

	// A foreign client cannot revoke the token
	foreign := &managers.Application{
		ClientID:         "foreign-client",
		ClientSecretHash: testutil.TestClientSecretHash,
		Type:             managers.ApplicationTypeConfidential,
		Permissions:      []string{managers.PermissionEndpointRevocation},
	}
	if err := store.CreateApplication(ctx, foreign); err != nil {
		t.Fatalf("failed to seed application: %v", err)
	}

	refreshGrant := NewTicket("test-user-123")
	refreshGrant.SetScopes(ScopeOfflineAccess)
	refreshGrant.SetAudiences("test-client-id")
	code2, err := srv.IssueAuthorizationCode(ctx, &Request{ClientID: "test-client-id"}, refreshGrant)
	if err != nil {
		t.Fatalf("failed to issue second code: %v", err)
	}
	exchangeReq2 := &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeAuthorizationCode,
		Token:        code2,
	}
	resp2, err := srv.Exchange(ctx, exchangeReq2)
	if err != nil || resp2.Error != nil {
		t.Fatalf("second exchange failed: err=%v rejection=%v", err, resp2.Error)
	}
	issued2, err := srv.IssueTokens(ctx, exchangeReq2, resp2)
	if err != nil {
		t.Fatalf("second issuance failed: %v", err)
	}

	denied, err := srv.Revoke(ctx, &Request{
		ClientID:     "foreign-client",
		ClientSecret: "secret",
		Token:        issued2.AccessToken,
	})
	if err != nil {
		t.Fatalf("foreign revocation failed: %v", err)
	}
	if denied.Error == nil || denied.Error.Code != ErrorCodeUnauthorizedClient {
		t.Fatalf("foreign revocation not refused: %v", denied.Error)
	}
}

// TestSelfContainedCodeExchange exercises the default configuration, where
// tokens are self-contained on the wire but codes still carry a backing
// record so one-shot redemption holds.
func TestSelfContainedCodeExchange(t *testing.T) {
	srv, _ := newTestServer(t, &Config{})
	ctx := context.Background()

	grant := NewTicket("test-user-123")
	grant.SetScopes(ScopeOpenID)
	grant.SetAudiences("test-client-id")
	code, err := srv.IssueAuthorizationCode(ctx, &Request{ClientID: "test-client-id"}, grant)
	if err != nil {
		t.Fatalf("failed to issue code: %v", err)
	}

	exchangeReq := &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeAuthorizationCode,
		Token:        code,
	}
	resp, err := srv.Exchange(ctx, exchangeReq)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("fresh code rejected: %v", resp.Error)
	}
	issued, err := srv.IssueTokens(ctx, exchangeReq, resp)
	if err != nil {
		t.Fatalf("token issuance failed: %v", err)
	}
	if issued.AccessToken == "" {
		t.Fatal("no access token issued")
	}

	// Single use still holds without reference tokens
	replay, err := srv.Exchange(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeAuthorizationCode,
		Token:        code,
	})
	if err != nil {
		t.Fatalf("replay exchange failed: %v", err)
	}
	if replay.Error == nil || replay.Error.Code != ErrorCodeInvalidGrant {
		t.Fatalf("replayed code not rejected: %v", replay.Error)
	}
}

// TestClientCredentialsLifecycle covers the machine-to-machine grant: the
// client is its own subject and only an access token is issued.
func TestClientCredentialsLifecycle(t *testing.T) {
	srv, store := newTestServer(t, &Config{})
	ctx := context.Background()

	machine := &managers.Application{
		ClientID:         "machine-client",
		ClientSecretHash: testutil.TestClientSecretHash,
		Type:             managers.ApplicationTypeConfidential,
		Permissions: []string{
			managers.PermissionEndpointToken,
			managers.PermissionGrantTypeClientCredentials,
		},
	}
	if err := store.CreateApplication(ctx, machine); err != nil {
		t.Fatalf("failed to seed application: %v", err)
	}

	exchangeReq := &Request{
		ClientID:     "machine-client",
		ClientSecret: "secret",
		GrantType:    GrantTypeClientCredentials,
		Scopes:       []string{"api:read"},
	}
	resp, err := srv.Exchange(ctx, exchangeReq)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("exchange rejected: %v", resp.Error)
	}
	if resp.Ticket == nil || resp.Ticket.Subject != "machine-client" {
		t.Fatalf("ticket subject = %v, want the client id", resp.Ticket)
	}
	if !resp.Ticket.HasScope("api:read") {
		t.Error("requested scope not carried onto the ticket")
	}
	if resp.IncludeRefreshToken || resp.IncludeIdentityToken {
		t.Errorf("unexpected inclusion flags: id=%v refresh=%v",
			resp.IncludeIdentityToken, resp.IncludeRefreshToken)
	}

	issued, err := srv.IssueTokens(ctx, exchangeReq, resp)
	if err != nil {
		t.Fatalf("token issuance failed: %v", err)
	}
	if issued.AccessToken == "" {
		t.Fatal("no access token issued")
	}
	if issued.RefreshToken != "" || issued.IdentityToken != "" {
		t.Error("client credentials grant must only issue an access token")
	}
}

// TestGrantIntegrityAfterClientAuthentication pins the rejection ordering:
// an unauthenticated caller never learns whether a presented grant decodes.
func TestGrantIntegrityAfterClientAuthentication(t *testing.T) {
	srv, _ := newTestServer(t, &Config{})
	ctx := context.Background()

	// The client identity failure wins over the grant failure
	badAuth, err := srv.Exchange(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "wrong-secret",
		GrantType:    GrantTypeAuthorizationCode,
		Token:        "not-a-code",
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if badAuth.Error == nil || badAuth.Error.Code != ErrorCodeInvalidClient {
		t.Fatalf("rejection = %v, want invalid_client", badAuth.Error)
	}

	// An authenticated caller sees the grant failure
	badGrant, err := srv.Exchange(ctx, &Request{
		ClientID:     "test-client-id",
		ClientSecret: "secret",
		GrantType:    GrantTypeAuthorizationCode,
		Token:        "not-a-code",
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if badGrant.Error == nil || badGrant.Error.Code != ErrorCodeInvalidGrant {
		t.Fatalf("rejection = %v, want invalid_grant", badGrant.Error)
	}
}
