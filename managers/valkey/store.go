package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oidc-core/managers"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oidc:"

	// tokenIDLogLength is the number of characters to include when logging token ids
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// authzIndexTTL is how long the authorization -> token-id index is kept.
	// The index only needs to outlive the longest-lived token under the
	// authorization; 90 days matches the longest default refresh lifetime.
	authzIndexTTL = 90 * 24 * time.Hour

	// MaxIDLength is the maximum allowed length for identifiers
	MaxIDLength = 256
)

// Config holds configuration for the Valkey token manager backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oidc:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// ClockSkewGracePeriod is the grace period applied to expiry checks
	// (default: 5 seconds)
	ClockSkewGracePeriod time.Duration
}

// Store is a Valkey-backed implementation of the TokenManager interface.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
	grace  time.Duration
}

// Compile-time interface check
var _ managers.TokenManager = (*Store)(nil)

// New creates a new Valkey-backed token manager.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	grace := cfg.ClockSkewGracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey token manager",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
		grace:  grace,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey token manager connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// tokenKey returns the key for a token record: {prefix}token:{id}
func (s *Store) tokenKey(id string) string {
	return s.prefix + "token:" + id
}

// authzKey returns the key for an authorization index: {prefix}authz:{id}
func (s *Store) authzKey(id string) string {
	return s.prefix + "authz:" + id
}

// safeTruncate returns the first n characters of the value for logging
func safeTruncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n]
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Status transitions on token records must be atomic: the request core's
// at-most-once redemption guarantee depends on exactly one concurrent
// TryRedeem succeeding. Lua scripts execute atomically in Valkey, which
// extends that guarantee across server processes.

// luaTryTransition atomically moves a token record from "valid" to the given
// target status.
//
// KEYS[1] = token key (e.g., "oidc:token:abc123")
// ARGV[1] = target status ("redeemed" or "revoked")
// ARGV[2] = current Unix timestamp in seconds (for expiry check)
// ARGV[3] = clock skew grace period in seconds
//
// Returns:
//   - "OK" if the record was valid and the transition was applied
//   - "NOT_FOUND" if the key doesn't exist
//   - "EXPIRED" if the record is past its expiration plus grace
//   - "WRONG_STATUS:<status>" if the record already left the valid state
const luaTryTransition = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)

if token.status ~= 'valid' then
    return 'WRONG_STATUS:' .. token.status
end

local now = tonumber(ARGV[2])
local grace = tonumber(ARGV[3])
local expiresAt = tonumber(token.expires_at)
if expiresAt and expiresAt > 0 and now > expiresAt + grace then
    return 'EXPIRED'
end

token.status = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(token), 'KEEPTTL')

return 'OK'
`

// luaTryExtend atomically moves a valid token record's expiration.
//
// KEYS[1] = token key
// ARGV[1] = new expiration as Unix timestamp in seconds
// ARGV[2] = new TTL in seconds for the key itself
//
// Returns "OK", "NOT_FOUND" or "WRONG_STATUS:<status>".
const luaTryExtend = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)

if token.status ~= 'valid' then
    return 'WRONG_STATUS:' .. token.status
end

token.expires_at = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(token), 'EX', ARGV[2])

return 'OK'
`
