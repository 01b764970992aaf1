package server

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/managers"
)

// redemptionOutcome classifies why a redemption did or did not happen
type redemptionOutcome int

const (
	redemptionSucceeded redemptionOutcome = iota

	// redemptionConflict means the record exists but already left the
	// valid state: a replay or a lost race
	redemptionConflict

	// redemptionNotFound means no record backs the presented grant, so
	// it was never issued here or was cleaned up after expiry
	redemptionNotFound
)

// redeemOriginalToken marks the record backing the presented code or refresh
// token as redeemed. The transition is one-shot: when a concurrent request
// already won the race the outcome is a conflict and the caller rejects the
// request. A non-nil error is a backend failure, never a lost race.
func (s *Server) redeemOriginalToken(ctx context.Context, req *Request, ticket *Ticket) (redemptionOutcome, error) {
	token, err := s.resolveOriginalToken(ctx, req, ticket)
	if err != nil {
		return redemptionNotFound, err
	}
	if token == nil {
		return redemptionNotFound, nil
	}

	redeemed, err := s.tokens.TryRedeem(ctx, token.ID)
	if err != nil {
		if errors.Is(err, managers.ErrTokenNotFound) {
			// The record left the store between resolution and
			// redemption. Not a replay, the grant is simply gone.
			s.Logger.Debug("Token record disappeared before redemption",
				"client_id", req.ClientID,
				"token_type", token.Type)
			return redemptionNotFound, nil
		}
		return redemptionNotFound, err
	}

	if redeemed {
		if s.Auditor != nil {
			s.Auditor.LogTokenRedeemed(token.Subject, req.ClientID, token.Type)
		}
		if s.metrics != nil {
			s.metrics.TokensRedeemed.Add(ctx, 1, metric.WithAttributes(
				attribute.String(instrumentation.AttrTokenType, token.Type),
			))
		}
		return redemptionSucceeded, nil
	}

	// Losing the race is a strong replay signal and always audited
	s.Logger.Warn("Token redemption conflict",
		"client_id", req.ClientID,
		"token_type", token.Type)
	if s.Auditor != nil {
		s.Auditor.LogRedemptionConflict(token.Subject, req.ClientID, token.Type)
	}
	if s.metrics != nil {
		s.metrics.RedemptionConflicts.Add(ctx, 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrTokenType, token.Type),
		))
	}
	return redemptionConflict, nil
}

// redemptionRejectionDescription distinguishes a replayed grant from one
// whose record is gone, so the client and the audit trail see the real cause
func redemptionRejectionDescription(req *Request, outcome redemptionOutcome) string {
	switch {
	case req.IsAuthorizationCodeGrant() && outcome == redemptionConflict:
		return "The specified authorization code has already been redeemed."
	case req.IsAuthorizationCodeGrant():
		return "The specified authorization code is no longer valid."
	case outcome == redemptionConflict:
		return "The specified refresh token has already been redeemed."
	default:
		return "The specified refresh token is no longer valid."
	}
}

// resolveOriginalToken returns the record backing the redeemed grant,
// preferring the one already resolved during extraction
func (s *Server) resolveOriginalToken(ctx context.Context, req *Request, ticket *Ticket) (*managers.Token, error) {
	if req.Transaction.Token != nil {
		return req.Transaction.Token, nil
	}

	id := ""
	if original := req.Transaction.OriginalTicket; original != nil {
		id = original.TokenID()
	}
	if id == "" {
		id = ticket.TokenID()
	}
	if id == "" {
		return nil, nil
	}

	token, err := s.tokens.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, managers.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, err
	}
	req.Transaction.Token = token
	return token, nil
}

// revokeSiblingTokens best-effort revokes every other token sharing the
// refreshed ticket's authorization. Individual failures are recorded and
// discarded: a concurrent request may have already mutated a sibling, which
// is an accepted race, not an integrity violation.
func (s *Server) revokeSiblingTokens(ctx context.Context, req *Request, ticket *Ticket) {
	authorizationID := ticket.AuthorizationID()
	if authorizationID == "" && req.Transaction.Token != nil {
		authorizationID = req.Transaction.Token.AuthorizationID
	}
	if authorizationID == "" {
		return
	}

	siblings, err := s.tokens.FindByAuthorizationID(ctx, authorizationID)
	if err != nil {
		s.Logger.Warn("Failed to list sibling tokens for rotation",
			"client_id", req.ClientID,
			"error", err)
		return
	}

	redeemedID := ""
	if req.Transaction.Token != nil {
		redeemedID = req.Transaction.Token.ID
	}

	attempted, revoked := 0, 0
	for _, sibling := range siblings {
		if sibling.ID == redeemedID {
			continue
		}
		if sibling.Status != managers.TokenStatusValid {
			continue
		}
		attempted++
		ok, err := s.tokens.TryRevoke(ctx, sibling.ID)
		if err != nil {
			s.Logger.Warn("Failed to revoke sibling token",
				"client_id", req.ClientID,
				"token_type", sibling.Type,
				"error", err)
			continue
		}
		if ok {
			revoked++
		}
	}

	if attempted > 0 {
		if s.Auditor != nil {
			s.Auditor.LogSiblingTokensRevoked(ticket.Subject, req.ClientID, attempted, revoked)
		}
		if s.metrics != nil {
			s.metrics.SiblingTokensRevoked.Add(ctx, int64(revoked))
		}
	}
}

// extendRefreshToken best-effort slides the presented refresh token's
// expiration forward. The new absolute expiration derives from the ticket's
// issuance timestamp when available, else from the current time. Failure is
// discarded after logging, same as sibling revocation.
func (s *Server) extendRefreshToken(ctx context.Context, req *Request, ticket *Ticket) {
	token := req.Transaction.Token
	if token == nil {
		id := ""
		if original := req.Transaction.OriginalTicket; original != nil {
			id = original.TokenID()
		}
		if id == "" {
			return
		}
		var err error
		token, err = s.tokens.FindByID(ctx, id)
		if err != nil {
			s.Logger.Warn("Failed to resolve refresh token for extension",
				"client_id", req.ClientID,
				"error", err)
			return
		}
	}

	base := ticket.IssuedAt
	if base.IsZero() {
		base = time.Now()
	}
	expiresAt := base.Add(s.Config.RefreshTokenLifetime)

	ok, err := s.tokens.TryExtend(ctx, token.ID, expiresAt)
	if err != nil {
		s.Logger.Warn("Failed to extend refresh token expiration",
			"client_id", req.ClientID,
			"error", err)
		return
	}
	if !ok {
		// Lost to a concurrent mutation; the request still succeeds
		s.Logger.Debug("Refresh token extension skipped",
			"client_id", req.ClientID)
		return
	}

	if s.metrics != nil {
		s.metrics.TokensExtended.Add(ctx, 1)
	}
	s.Logger.Debug("Extended refresh token expiration",
		"client_id", req.ClientID,
		"expires_at", expiresAt)
}

// ensureAdHocAuthorization creates an authorization on the fly when the
// ticket carries none yet a code or refresh token is about to be issued, and
// stamps its identifier back onto the ticket.
func (s *Server) ensureAdHocAuthorization(ctx context.Context, req *Request, ticket *Ticket, resp *Response) error {
	if ticket.AuthorizationID() != "" {
		return nil
	}
	// Only a grant that outlives the response needs an umbrella record.
	// Codes never reach this handler, so refresh token inclusion is the
	// deciding signal.
	if !resp.IncludeRefreshToken {
		return nil
	}

	authorization, err := s.authorizations.CreateAuthorization(
		ctx, ticket.Subject, req.ClientID, ticket.Scopes(), managers.AuthorizationTypeAdHoc)
	if err != nil {
		return err
	}
	ticket.SetAuthorizationID(authorization.ID)

	if s.Auditor != nil {
		s.Auditor.LogAuthorizationCreated(ticket.Subject, req.ClientID, managers.AuthorizationTypeAdHoc)
	}
	if s.metrics != nil {
		s.metrics.AuthorizationsCreated.Add(ctx, 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrClientID, req.ClientID),
		))
	}
	s.Logger.Info("Created ad hoc authorization",
		"client_id", req.ClientID,
		"authorization_id", authorization.ID)
	return nil
}
