package server

import (
	"log/slog"
	"time"
)

// Config holds the token lifecycle policies consumed by the request pipeline.
// All fields are read-only once the server is constructed.
type Config struct {
	// UseReferenceTokens backs issued access tokens with a Token record
	// whose status introspection consults. Codes and refresh tokens carry
	// a record regardless, so they stay single use in either mode.
	UseReferenceTokens bool

	// UseRollingRefreshTokens issues a new refresh token on every use and
	// revokes the prior siblings of the same authorization.
	UseRollingRefreshTokens bool

	// UseSlidingExpiration extends a refresh token's expiration on use
	// instead of replacing the token. Ignored when rolling mode is on.
	UseSlidingExpiration bool

	// DisableTokenRevocation skips redemption and post-redemption cleanup
	// entirely. Intended for stateless deployments only.
	DisableTokenRevocation bool

	// AuthorizationCodeLifetime bounds the validity of issued codes
	AuthorizationCodeLifetime time.Duration

	// AccessTokenLifetime bounds the validity of issued access tokens
	AccessTokenLifetime time.Duration

	// RefreshTokenLifetime bounds the validity of issued refresh tokens
	// and is the window applied by sliding extension.
	RefreshTokenLifetime time.Duration

	// ClockSkewGracePeriod is the tolerance applied to expiry checks
	ClockSkewGracePeriod time.Duration
}

// applySecureDefaults applies secure-by-default configuration values.
// This follows the principle: secure by default, opt-in for less secure options.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeLifetime == 0 {
		config.AuthorizationCodeLifetime = 10 * time.Minute
	}
	if config.AccessTokenLifetime == 0 {
		config.AccessTokenLifetime = time.Hour
	}
	if config.RefreshTokenLifetime == 0 {
		config.RefreshTokenLifetime = 90 * 24 * time.Hour
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5 * time.Second
	}
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.DisableTokenRevocation {
		logger.Warn("⚠️  SECURITY WARNING: Token revocation is DISABLED",
			"risk", "Redeemed codes and rotated refresh tokens remain usable",
			"recommendation", "Leave DisableTokenRevocation=false unless the deployment is fully stateless")
	}
	if !config.UseRollingRefreshTokens && !config.UseSlidingExpiration {
		logger.Warn("Refresh tokens are issued with a fixed lifetime",
			"recommendation", "Enable UseRollingRefreshTokens for OAuth 2.1 style rotation")
	}
	if config.UseRollingRefreshTokens && config.UseSlidingExpiration {
		logger.Warn("Sliding expiration has no effect while rolling refresh tokens are enabled")
	}
}
