package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oidc-core/managers"
)

// valkeyIsNil reports whether the error is the Valkey nil reply
func valkeyIsNil(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func isNotFound(err error) bool {
	return errors.Is(err, managers.ErrTokenNotFound)
}

// tokenJSON is the JSON representation of a token record stored in Valkey.
// Expirations are stored as Unix seconds so the Lua scripts can compare them
// without parsing time strings.
type tokenJSON struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	Subject         string `json:"subject"`
	ClientID        string `json:"client_id"`
	AuthorizationID string `json:"authorization_id,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
}

func toTokenJSON(t *managers.Token) *tokenJSON {
	j := &tokenJSON{
		ID:              t.ID,
		Type:            t.Type,
		Status:          t.Status,
		Subject:         t.Subject,
		ClientID:        t.ClientID,
		AuthorizationID: t.AuthorizationID,
		CreatedAt:       t.CreatedAt.Unix(),
	}
	if !t.ExpiresAt.IsZero() {
		j.ExpiresAt = t.ExpiresAt.Unix()
	}
	return j
}

func fromTokenJSON(j *tokenJSON) *managers.Token {
	t := &managers.Token{
		ID:              j.ID,
		Type:            j.Type,
		Status:          j.Status,
		Subject:         j.Subject,
		ClientID:        j.ClientID,
		AuthorizationID: j.AuthorizationID,
		CreatedAt:       time.Unix(j.CreatedAt, 0),
	}
	if j.ExpiresAt > 0 {
		t.ExpiresAt = time.Unix(j.ExpiresAt, 0)
	}
	return t
}

// keyTTL computes the TTL for a token key. Expired records are kept for the
// grace period plus one day so concurrent requests observe the terminal
// status instead of "not found".
func (s *Store) keyTTL(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0 // no TTL
	}
	return time.Until(expiresAt.Add(s.grace + 24*time.Hour))
}

// Create persists a new token record with status "valid"
func (s *Store) Create(ctx context.Context, token *managers.Token) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("token and token id are required")
	}
	if len(token.ID) > MaxIDLength {
		return fmt.Errorf("token id exceeds maximum allowed length")
	}

	stored := *token
	if stored.Status == "" {
		stored.Status = managers.TokenStatusValid
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	data, err := json.Marshal(toTokenJSON(&stored))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	key := s.tokenKey(stored.ID)

	var execErr error
	if ttl := s.keyTTL(stored.ExpiresAt); ttl > 0 {
		if ttl <= s.grace {
			return fmt.Errorf("token already expired")
		}
		execErr = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
	} else {
		execErr = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error()
	}
	if execErr != nil {
		return fmt.Errorf("failed to save token: %w", execErr)
	}

	// Index the record under its authorization for rolling revocation
	if stored.AuthorizationID != "" {
		idxKey := s.authzKey(stored.AuthorizationID)
		if err := s.client.Do(ctx, s.client.B().Sadd().Key(idxKey).Member(stored.ID).Build()).Error(); err != nil {
			return fmt.Errorf("failed to index token under authorization: %w", err)
		}
		if err := s.client.Do(ctx, s.client.B().Expire().Key(idxKey).Seconds(int64(authzIndexTTL.Seconds())).Build()).Error(); err != nil {
			s.logger.Warn("Failed to set TTL on authorization index", "error", err)
		}
	}

	s.logger.Debug("Saved token record",
		"token_prefix", safeTruncate(stored.ID, tokenIDLogLength),
		"token_type", stored.Type)
	return nil
}

// FindByID retrieves a token record by its identifier
func (s *Store) FindByID(ctx context.Context, id string) (*managers.Token, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(id)).Build()).ToString()
	if err != nil {
		if valkeyIsNil(err) {
			return nil, fmt.Errorf("%w: %s", managers.ErrTokenNotFound, safeTruncate(id, tokenIDLogLength))
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return fromTokenJSON(&j), nil
}

// FindByAuthorizationID retrieves every token record attached to the authorization
func (s *Store) FindByAuthorizationID(ctx context.Context, authorizationID string) ([]*managers.Token, error) {
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.authzKey(authorizationID)).Build()).AsStrSlice()
	if err != nil {
		if valkeyIsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read authorization index: %w", err)
	}

	out := make([]*managers.Token, 0, len(ids))
	for _, id := range ids {
		token, err := s.FindByID(ctx, id)
		if err != nil {
			// Records expire independently of the index; skip the gaps
			continue
		}
		out = append(out, token)
	}
	return out, nil
}

// IsValid reports whether the record is still usable
func (s *Store) IsValid(ctx context.Context, token *managers.Token) (bool, error) {
	if token == nil {
		return false, nil
	}

	// Re-read the record so a mutation by a concurrent request is seen
	current, err := s.FindByID(ctx, token.ID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if current.Status != managers.TokenStatusValid {
		return false, nil
	}
	if !current.ExpiresAt.IsZero() && time.Now().After(current.ExpiresAt.Add(s.grace)) {
		return false, nil
	}
	return true, nil
}

// TryRedeem atomically transitions the record from "valid" to "redeemed".
//
// SECURITY: The transition runs as a Lua script, so exactly one concurrent
// caller succeeds for a given token identifier across all server processes.
func (s *Store) TryRedeem(ctx context.Context, id string) (bool, error) {
	result, err := s.tryTransition(ctx, id, managers.TokenStatusRedeemed)
	if err != nil {
		return false, err
	}
	switch {
	case result == "OK":
		return true, nil
	case result == "NOT_FOUND":
		// Distinguishable from a lost race so the caller can tell a
		// replayed grant apart from a cleaned-up record
		return false, fmt.Errorf("%w: %s", managers.ErrTokenNotFound, safeTruncate(id, tokenIDLogLength))
	case result == "EXPIRED", strings.HasPrefix(result, "WRONG_STATUS:"):
		// Lost the race or the record left the valid state earlier.
		// A well-defined failure, not a backend error.
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status transition result: %s", result)
	}
}

// TryRevoke atomically transitions the record from "valid" to "revoked"
func (s *Store) TryRevoke(ctx context.Context, id string) (bool, error) {
	result, err := s.tryTransition(ctx, id, managers.TokenStatusRevoked)
	if err != nil {
		return false, err
	}
	switch {
	case result == "OK":
		return true, nil
	case result == "NOT_FOUND", result == "EXPIRED",
		strings.HasPrefix(result, "WRONG_STATUS:"):
		// A benign concurrent mutation, not a backend error
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status transition result: %s", result)
	}
}

// tryTransition executes the compare-and-set status transition script and
// returns the raw script verdict
func (s *Store) tryTransition(ctx context.Context, id, target string) (string, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaTryTransition).
			Numkeys(1).
			Key(s.tokenKey(id)).
			Arg(target).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Arg(fmt.Sprintf("%d", int64(s.grace.Seconds()))).
			Build(),
	).ToString()
	if err != nil {
		return "", fmt.Errorf("failed to execute status transition: %w", err)
	}

	if result == "OK" {
		s.logger.Debug("Transitioned token status",
			"token_prefix", safeTruncate(id, tokenIDLogLength),
			"status", target)
	}
	return result, nil
}

// TryExtend moves the record's expiration when the record is still valid
func (s *Store) TryExtend(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	ttl := s.keyTTL(expiresAt)
	if ttl <= 0 {
		return false, fmt.Errorf("new expiration is in the past")
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaTryExtend).
			Numkeys(1).
			Key(s.tokenKey(id)).
			Arg(fmt.Sprintf("%d", expiresAt.Unix())).
			Arg(fmt.Sprintf("%d", int64(ttl.Seconds()))).
			Build(),
	).ToString()
	if err != nil {
		return false, fmt.Errorf("failed to execute expiration update: %w", err)
	}

	switch {
	case result == "OK":
		s.logger.Debug("Extended token expiration",
			"token_prefix", safeTruncate(id, tokenIDLogLength),
			"expires_at", expiresAt)
		return true, nil
	case result == "NOT_FOUND", strings.HasPrefix(result, "WRONG_STATUS:"):
		return false, nil
	default:
		return false, fmt.Errorf("unexpected expiration update result: %s", result)
	}
}
