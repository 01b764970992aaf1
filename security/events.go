package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Request pipeline events

	// EventRequestRejected is logged when a validator or handler rejects a
	// protocol request with an OAuth error code
	EventRequestRejected = "request_rejected"

	// EventClientAuthenticationFailed is logged when client secret
	// validation fails at a backchannel endpoint
	EventClientAuthenticationFailed = "client_authentication_failed"

	// Token lifecycle events

	// EventTokenIssued is logged when a new token is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRedeemed is logged when a code or refresh token is
	// successfully redeemed (one-shot)
	EventTokenRedeemed = "token_redeemed"

	// EventTokenRedemptionConflict is logged when a redemption attempt
	// loses the race against a concurrent request (possible replay)
	EventTokenRedemptionConflict = "token_redemption_conflict"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked = "token_revoked"

	// EventSiblingTokensRevoked is logged when rolling refresh-token
	// rotation revokes the other tokens of an authorization
	EventSiblingTokensRevoked = "sibling_tokens_revoked" //nolint:gosec // G101: event type name, not a credential

	// EventTokenExtended is logged when sliding expiration extends a
	// refresh token's lifetime
	EventTokenExtended = "token_extended"

	// Authorization events

	// EventAuthorizationCreated is logged when an ad hoc authorization is
	// created because a token was issued without a pre-existing grant
	EventAuthorizationCreated = "authorization_created"

	// Introspection events

	// EventTokenIntrospected is logged when an introspection request
	// completes, successfully or not
	EventTokenIntrospected = "token_introspected"

	// Abuse events

	// EventRateLimitExceeded is logged when a client exceeds the endpoint
	// rate limit
	EventRateLimitExceeded = "rate_limit_exceeded"
)
