package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogRejection logs a protocol-level rejection issued by a validator or handler
func (a *Auditor) LogRejection(endpoint, clientID, ipAddress, errorCode, reason string) {
	a.LogEvent(Event{
		Type:      EventRequestRejected,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
			"error":    errorCode,
			"reason":   reason,
		},
	})
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(subject, clientID, ipAddress, tokenType, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
			"scope":      scope,
		},
	})
}

// LogTokenRedeemed logs a successful one-shot redemption of a code or refresh token
func (a *Auditor) LogTokenRedeemed(subject, clientID, tokenType string) {
	a.LogEvent(Event{
		Type:     EventTokenRedeemed,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogRedemptionConflict logs a redemption attempt that lost against a
// concurrent request. May indicate a replayed code or stolen refresh token.
func (a *Auditor) LogRedemptionConflict(subject, clientID, tokenType string) {
	a.LogEvent(Event{
		Type:     EventTokenRedemptionConflict,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
			"severity":   "warning",
		},
	})
}

// LogSiblingTokensRevoked logs a rolling-rotation sweep over an authorization
func (a *Auditor) LogSiblingTokensRevoked(subject, clientID string, attempted, revoked int) {
	a.LogEvent(Event{
		Type:     EventSiblingTokensRevoked,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"attempted": attempted,
			"revoked":   revoked,
		},
	})
}

// LogTokenIntrospected logs the outcome of an introspection request
func (a *Auditor) LogTokenIntrospected(clientID, ipAddress string, active bool) {
	a.LogEvent(Event{
		Type:      EventTokenIntrospected,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"active": active,
		},
	})
}

// LogAuthorizationCreated logs the creation of an ad hoc authorization
func (a *Auditor) LogAuthorizationCreated(subject, clientID, authorizationType string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationCreated,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"authorization_type": authorizationType,
		},
	})
}

// LogRateLimitExceeded logs when a rate limit is hit
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging hashes sensitive identifiers for privacy-preserving audit
// logs. The first 16 hex chars of SHA-256 are enough to correlate events for
// one subject without storing the identifier itself.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])[:16]
}
