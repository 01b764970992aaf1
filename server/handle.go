package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/managers"
	"github.com/giantswarm/oidc-core/security"
)

// handleIntrospectionRequest computes the introspection "active" decision.
// Inactivity is never an error: a wrong-type, audience-mismatched or
// store-invalidated token yields a normal response with active=false.
func (s *Server) handleIntrospectionRequest(ctx context.Context, req *Request, resp *Response) error {
	defer s.recordIntrospectionDecision(ctx, req, resp)

	// An undecipherable or absent ticket means the token is unknown
	if req.Ticket == nil || req.Ticket.TokenID() == "" {
		resp.Active = false
		return nil
	}

	// Only access tokens may be introspected through this endpoint
	if req.Ticket.Usage != UsageAccessToken {
		resp.Active = false
		return nil
	}

	// SECURITY: Only resource servers named as an audience of the token
	// may learn anything about it. This is deliberately narrower than
	// RFC 7662, which allows any authorized presenter.
	if len(req.Ticket.Audiences()) == 0 {
		resp.Active = false
		return nil
	}
	if !req.Ticket.HasAudience(req.ClientID) {
		resp.Active = false
		return nil
	}

	// Self-contained tokens carry no server-side record to consult
	if !s.Config.UseReferenceTokens {
		return nil
	}

	token := req.Transaction.Token
	if token == nil {
		var err error
		token, err = s.tokens.FindByID(ctx, req.Ticket.TokenID())
		if err != nil {
			if errors.Is(err, managers.ErrTokenNotFound) {
				resp.Active = false
				return nil
			}
			return err
		}
		req.Transaction.Token = token
	}

	valid, err := s.tokens.IsValid(ctx, token)
	if err != nil {
		return err
	}
	if !valid {
		resp.Active = false
	}
	return nil
}

func (s *Server) recordIntrospectionDecision(ctx context.Context, req *Request, resp *Response) {
	if s.Auditor != nil {
		s.Auditor.LogTokenIntrospected(req.ClientID, "", resp.Active)
	}
	if s.metrics != nil {
		s.metrics.IntrospectionDecided.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool(instrumentation.AttrActive, resp.Active),
		))
	}
}

// handleSigninResponse finalizes a token response for the authorization-code
// and refresh-token grants: property inheritance, scope defaulting, token
// inclusion policy, redemption and rotation, ad hoc authorization creation
// and response shaping.
func (s *Server) handleSigninResponse(ctx context.Context, req *Request, resp *Response) error {
	if req.IsClientCredentialsGrant() {
		return s.handleClientCredentialsResponse(ctx, req, resp)
	}
	if !req.IsAuthorizationCodeGrant() && !req.IsRefreshTokenGrant() {
		return nil
	}

	// Grant-integrity failures noticed during extraction surface only
	// here, after client validation, so an unauthenticated caller cannot
	// probe whether a presented grant decodes
	if rejection := req.Transaction.grantRejection; rejection != nil {
		req.Reject(rejection.Code, rejection.Description)
		return nil
	}

	if req.Ticket == nil {
		req.Reject(ErrorCodeInvalidGrant, "The specified grant is invalid.")
		return nil
	}

	// Stages must not observe each other's mutations through a shared
	// ticket, so the handler works on its own copy
	ticket := req.Ticket.Clone()

	// When the middleware did not already link the new ticket to a token
	// record, continuity comes from the original ticket: every property
	// it carries is inherited unless the new ticket explicitly set it.
	if ticket.TokenID() == "" {
		ticket.inheritFrom(req.Transaction.OriginalTicket)
	}

	// Scope default: a request that asked for openid keeps it across the
	// hop unless scopes were explicitly assigned
	if !ticket.ScopesExplicitlySet() && req.HasScope(ScopeOpenID) && !ticket.HasScope(ScopeOpenID) {
		ticket.SetScopes(append(ticket.Scopes(), ScopeOpenID)...)
	}

	resp.IncludeIdentityToken = ticket.HasScope(ScopeOpenID)
	resp.IncludeRefreshToken = ticket.HasScope(ScopeOfflineAccess)
	if req.IsRefreshTokenGrant() && !s.Config.UseRollingRefreshTokens {
		// Without rotation the caller keeps its existing refresh token
		resp.IncludeRefreshToken = false
	}

	if !s.Config.DisableTokenRevocation {
		if s.Config.UseRollingRefreshTokens || req.IsAuthorizationCodeGrant() {
			outcome, err := s.redeemOriginalToken(ctx, req, ticket)
			if err != nil {
				return err
			}
			if outcome != redemptionSucceeded {
				req.Reject(ErrorCodeInvalidGrant, redemptionRejectionDescription(req, outcome))
				return nil
			}
		}

		if req.IsRefreshTokenGrant() {
			if s.Config.UseRollingRefreshTokens {
				s.revokeSiblingTokens(ctx, req, ticket)
			} else if s.Config.UseSlidingExpiration {
				s.extendRefreshToken(ctx, req, ticket)
			}
		}
	}

	if err := s.ensureAdHocAuthorization(ctx, req, ticket, resp); err != nil {
		return err
	}

	shapeResponse(ticket, resp)
	resp.Ticket = ticket

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(ticket.Subject, req.ClientID, "", req.GrantType, strings.Join(ticket.Scopes(), " "))
	}
	return nil
}

// handleClientCredentialsResponse finalizes a token response for the
// client-credentials grant. The client acts on its own behalf, so the
// default subject is the client identifier and no refresh or identity token
// is issued regardless of the requested scopes.
func (s *Server) handleClientCredentialsResponse(ctx context.Context, req *Request, resp *Response) error {
	ticket := req.Ticket
	if ticket == nil {
		ticket = NewTicket(req.ClientID)
		ticket.SetScopes(req.Scopes...)
	} else {
		ticket = ticket.Clone()
		if ticket.Subject == "" {
			ticket.Subject = req.ClientID
		}
	}
	if ticket.IssuedAt.IsZero() {
		ticket.IssuedAt = time.Now()
	}

	resp.IncludeRefreshToken = false
	resp.IncludeIdentityToken = false

	shapeResponse(ticket, resp)
	resp.Ticket = ticket

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(ticket.Subject, req.ClientID, "", req.GrantType, strings.Join(ticket.Scopes(), " "))
	}
	return nil
}

// handleRevocationRequest revokes the presented token record. Per RFC 7009
// an unknown or already-terminal token still yields success; only ownership
// violations are refused.
func (s *Server) handleRevocationRequest(ctx context.Context, req *Request, resp *Response) error {
	if req.Ticket == nil || req.Ticket.TokenID() == "" {
		return nil
	}

	token, err := s.tokens.FindByID(ctx, req.Ticket.TokenID())
	if err != nil {
		if errors.Is(err, managers.ErrTokenNotFound) {
			return nil
		}
		return err
	}

	// A client may only revoke tokens issued to itself
	if token.ClientID != "" && token.ClientID != req.ClientID {
		req.Reject(ErrorCodeUnauthorizedClient, "The client is not authorized to revoke the specified token.")
		return nil
	}

	revoked, err := s.tokens.TryRevoke(ctx, token.ID)
	if err != nil {
		return err
	}
	if revoked {
		if s.Auditor != nil {
			s.Auditor.LogEvent(tokenRevokedEvent(token, req.ClientID))
		}
		s.Logger.Info("Token revoked",
			"client_id", req.ClientID,
			"token_type", token.Type)
	}
	return nil
}

// applyChallengeResponse copies public request-scoped properties into an
// authorization (challenge) response. No ticket mutation, no persistence.
func (s *Server) applyChallengeResponse(ctx context.Context, req *Request, resp *Response) error {
	if req.Ticket == nil {
		return nil
	}
	for name, value := range req.Ticket.PublicProperties() {
		resp.SetParameter(name, value)
	}
	return nil
}

// applySignoutResponse copies public request-scoped properties into a
// logout response
func (s *Server) applySignoutResponse(ctx context.Context, req *Request, resp *Response) error {
	if req.Ticket == nil {
		return nil
	}
	for name, value := range req.Ticket.PublicProperties() {
		resp.SetParameter(name, value)
	}
	return nil
}

// shapeResponse moves every public ticket property into the response as a
// named parameter and strips it from the ticket, so public data appears in
// the response exactly once and is never re-embedded in the opaque token.
func shapeResponse(ticket *Ticket, resp *Response) {
	for name, value := range ticket.PublicProperties() {
		resp.SetParameter(name, value)
		ticket.RemoveProperty(name)
	}
}

// tokenRevokedEvent builds the audit event for a client-initiated revocation
func tokenRevokedEvent(token *managers.Token, clientID string) security.Event {
	return security.Event{
		Type:     security.EventTokenRevoked,
		Subject:  token.Subject,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": token.Type,
		},
	}
}
