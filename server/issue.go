package server

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-core/managers"
)

// generateTokenID generates a cryptographically secure token identifier.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for token identifiers.
func generateTokenID() string {
	return oauth2.GenerateVerifier()
}

// IssuedTokens holds the wire values produced from a finalized response
type IssuedTokens struct {
	AccessToken   string
	RefreshToken  string
	IdentityToken string

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64
}

// IssueTokens serializes the response ticket into the token values the
// response advertises. Every issued token gets its own identifier; refresh
// tokens always get a backing record, access tokens only in reference mode.
func (s *Server) IssueTokens(ctx context.Context, req *Request, resp *Response) (*IssuedTokens, error) {
	if resp == nil || resp.Ticket == nil {
		return nil, fmt.Errorf("response carries no ticket")
	}

	issued := &IssuedTokens{
		ExpiresIn: int64(s.Config.AccessTokenLifetime.Seconds()),
	}

	accessToken, err := s.issueToken(ctx, req, resp.Ticket, UsageAccessToken, s.Config.AccessTokenLifetime)
	if err != nil {
		return nil, err
	}
	issued.AccessToken = accessToken

	if resp.IncludeRefreshToken {
		refreshToken, err := s.issueToken(ctx, req, resp.Ticket, UsageRefreshToken, s.Config.RefreshTokenLifetime)
		if err != nil {
			return nil, err
		}
		issued.RefreshToken = refreshToken
	}

	if resp.IncludeIdentityToken {
		identityToken, err := s.issueToken(ctx, req, resp.Ticket, UsageIdentityToken, s.Config.AccessTokenLifetime)
		if err != nil {
			return nil, err
		}
		issued.IdentityToken = identityToken
	}

	return issued, nil
}

// IssueAuthorizationCode serializes the ticket into a one-shot code backed
// by a record
func (s *Server) IssueAuthorizationCode(ctx context.Context, req *Request, ticket *Ticket) (string, error) {
	return s.issueToken(ctx, req, ticket, UsageAuthorizationCode, s.Config.AuthorizationCodeLifetime)
}

// issueToken stamps a fresh token identifier onto a copy of the ticket,
// persists the backing record where the kind requires one and serializes
// the copy through the registered codec for the token kind.
func (s *Server) issueToken(ctx context.Context, req *Request, ticket *Ticket, kind string, lifetime time.Duration) (string, error) {
	cp := ticket.Clone()
	cp.Usage = kind
	cp.SetTokenID(generateTokenID())
	if cp.IssuedAt.IsZero() {
		cp.IssuedAt = time.Now()
	}

	// Authorization codes and refresh tokens always carry a backing
	// record so one-shot redemption can be enforced whatever the wire
	// format. Access tokens get a record only in reference mode, and
	// identity tokens never do: they are consumed by the client and
	// never presented back.
	persist := kind == UsageAuthorizationCode || kind == UsageRefreshToken ||
		(s.Config.UseReferenceTokens && kind == UsageAccessToken)
	if persist {
		record := &managers.Token{
			ID:              cp.TokenID(),
			Type:            kind,
			Status:          managers.TokenStatusValid,
			Subject:         cp.Subject,
			ClientID:        req.ClientID,
			AuthorizationID: cp.AuthorizationID(),
			CreatedAt:       cp.IssuedAt,
			ExpiresAt:       cp.IssuedAt.Add(lifetime),
		}
		if err := s.tokens.Create(ctx, record); err != nil {
			return "", fmt.Errorf("failed to persist %s record: %w", kind, err)
		}
	}

	serialize, err := s.registry.Serializer(kind)
	if err != nil {
		return "", err
	}
	payload, err := serialize(cp)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
