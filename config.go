package oidc

import "log/slog"

// Config holds HTTP adapter configuration. Token lifecycle policy lives in
// server.Config; this only covers transport concerns.
type Config struct {
	// Issuer is the server's issuer identifier (base URL), used for
	// security headers
	Issuer string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// WARNING: Only enable if behind a trusted reverse proxy.
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used to extract the client IP from X-Forwarded-For.
	// Default: 1
	TrustedProxyCount int

	// EnableRateLimiting turns on per-IP rate limiting at the protocol
	// endpoints. Default: true
	EnableRateLimiting bool

	// RateLimitRequestsPerSecond is the sustained per-IP request rate.
	// Default: 10
	RateLimitRequestsPerSecond int

	// RateLimitBurst is the per-IP burst allowance. Default: 20
	RateLimitBurst int

	// RateLimitMaxEntries bounds the number of tracked IPs. Default: 10000
	RateLimitMaxEntries int
}

// applyDefaults fills zero values with production defaults
func (c *Config) applyDefaults(logger *slog.Logger) {
	if c.TrustedProxyCount == 0 {
		c.TrustedProxyCount = 1
	}
	if c.RateLimitRequestsPerSecond == 0 {
		c.RateLimitRequestsPerSecond = 10
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 20
	}
	if c.RateLimitMaxEntries == 0 {
		c.RateLimitMaxEntries = 10000
	}
	if c.TrustProxy {
		logger.Warn("Proxy headers are trusted for client IP extraction",
			"trusted_proxy_count", c.TrustedProxyCount)
	}
}
