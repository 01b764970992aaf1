package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/managers"
	"github.com/giantswarm/oidc-core/security"
)

const (
	// tokenIDLogLength is the number of characters to include when logging
	// token identifiers. Enough uniqueness for debugging without exposing
	// the full identifier.
	tokenIDLogLength = 8

	// dummySecretHash is a pre-computed bcrypt hash (of "test") compared
	// against when the application is missing or carries no secret, so
	// secret validation always costs one bcrypt comparison.
	dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// Store is an in-memory implementation of all manager interfaces.
// It implements ApplicationManager, AuthorizationManager, ScopeManager and
// TokenManager.
type Store struct {
	mu sync.RWMutex

	applications   map[string]*managers.Application   // client id -> application
	authorizations map[string]*managers.Authorization // authorization id -> authorization
	scopes         map[string]*managers.Scope         // name -> scope
	tokens         map[string]*managers.Token         // token id -> record
	byAuthz        map[string][]string                // authorization id -> token ids

	clockSkewGrace time.Duration

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for gauges (lock-free access during metric collection)
	applicationsCountAtomic   atomic.Int64
	authorizationsCountAtomic atomic.Int64
	tokensCountAtomic         atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ managers.ApplicationManager   = (*Store)(nil)
	_ managers.AuthorizationManager = (*Store)(nil)
	_ managers.ScopeManager         = (*Store)(nil)
	_ managers.TokenManager         = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval for expired token records. Pass 0 to disable background cleanup.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	s := &Store{
		applications:    make(map[string]*managers.Application),
		authorizations:  make(map[string]*managers.Authorization),
		scopes:          make(map[string]*managers.Scope),
		tokens:          make(map[string]*managers.Token),
		byAuthz:         make(map[string][]string),
		clockSkewGrace:  security.DefaultClockSkewGracePeriod,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// SetLogger sets the logger for the store
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClockSkewGracePeriod overrides the grace period used by expiry checks
func (s *Store) SetClockSkewGracePeriod(grace time.Duration) {
	s.clockSkewGrace = grace
}

// SetInstrumentation wires OpenTelemetry instrumentation into the store and
// registers the entity-count gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) error {
	s.instrumentation = inst
	s.tracer = inst.Tracer("managers")

	return inst.RegisterEntityCountCallbacks(
		func() int64 { return s.applicationsCountAtomic.Load() },
		func() int64 { return s.authorizationsCountAtomic.Load() },
		func() int64 { return s.tokensCountAtomic.Load() },
	)
}

// Stop gracefully stops the background cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ==================== ApplicationManager ====================

// CreateApplication provisions an application. This is an administrative
// operation; the request core only reads applications.
func (s *Store) CreateApplication(ctx context.Context, app *managers.Application) error {
	if app == nil || app.ClientID == "" {
		return fmt.Errorf("application and client id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.applications[app.ClientID]; exists {
		return fmt.Errorf("%w: %s", managers.ErrDuplicateEntity, app.ClientID)
	}

	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now()
	}
	s.applications[app.ClientID] = app
	s.applicationsCountAtomic.Store(int64(len(s.applications)))

	s.logger.Debug("Created application", "client_id", app.ClientID, "type", app.Type)
	return nil
}

// FindByClientID retrieves an application by its client identifier
func (s *Store) FindByClientID(ctx context.Context, clientID string) (*managers.Application, error) {
	ctx, span := s.startSpan(ctx, "find_application")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "find_application", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", managers.ErrApplicationNotFound, clientID)
		return nil, err
	}

	return app, nil
}

// HasPermission reports whether the application holds the given permission
func (s *Store) HasPermission(ctx context.Context, app *managers.Application, permission string) (bool, error) {
	if app == nil {
		return false, fmt.Errorf("application is required")
	}
	return app.HasPermission(permission), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Uses constant-time operations to prevent timing attacks.
func (s *Store) ValidateClientSecret(ctx context.Context, app *managers.Application, clientSecret string) error {
	// SECURITY: Always perform one bcrypt comparison, whether or not the
	// application carries credential material, so the timing does not
	// reveal which case applied.
	hashToCompare := dummySecretHash
	hasSecret := false

	if app != nil && app.ClientSecretHash != "" {
		hashToCompare = app.ClientSecretHash
		hasSecret = true
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if !hasSecret {
		return managers.ErrInvalidClientSecret
	}
	if bcryptErr != nil {
		return managers.ErrInvalidClientSecret
	}
	return nil
}

// ==================== AuthorizationManager ====================

// CreateAuthorization persists a new authorization record
func (s *Store) CreateAuthorization(ctx context.Context, subject, clientID string, scopes []string, typ string) (*managers.Authorization, error) {
	ctx, span := s.startSpan(ctx, "create_authorization")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "create_authorization", err, start) }()

	if subject == "" || clientID == "" {
		err = fmt.Errorf("subject and client id are required")
		return nil, err
	}

	authz := &managers.Authorization{
		ID:        uuid.NewString(),
		Subject:   subject,
		ClientID:  clientID,
		Scopes:    append([]string(nil), scopes...),
		Type:      typ,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.authorizations[authz.ID] = authz
	s.authorizationsCountAtomic.Store(int64(len(s.authorizations)))
	s.mu.Unlock()

	s.logger.Debug("Created authorization",
		"authorization_id", authz.ID,
		"client_id", clientID,
		"type", typ)

	return authz, nil
}

// FindAuthorizationByID retrieves an authorization by its identifier
func (s *Store) FindAuthorizationByID(ctx context.Context, id string) (*managers.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authz, ok := s.authorizations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", managers.ErrAuthorizationNotFound, id)
	}
	return authz, nil
}

// ==================== ScopeManager ====================

// CreateScope registers a scope
func (s *Store) CreateScope(ctx context.Context, scope *managers.Scope) error {
	if scope == nil || scope.Name == "" {
		return fmt.Errorf("scope and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scopes[scope.Name]; exists {
		return fmt.Errorf("%w: %s", managers.ErrDuplicateEntity, scope.Name)
	}
	if scope.CreatedAt.IsZero() {
		scope.CreatedAt = time.Now()
	}
	s.scopes[scope.Name] = scope
	return nil
}

// FindByName retrieves a scope by name
func (s *Store) FindByName(ctx context.Context, name string) (*managers.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, ok := s.scopes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", managers.ErrScopeNotFound, name)
	}
	return scope, nil
}

// List returns all registered scopes
func (s *Store) List(ctx context.Context) ([]*managers.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*managers.Scope, 0, len(s.scopes))
	for _, scope := range s.scopes {
		out = append(out, scope)
	}
	return out, nil
}

// ==================== TokenManager ====================

// Create persists a new token record with status "valid"
func (s *Store) Create(ctx context.Context, token *managers.Token) error {
	ctx, span := s.startSpan(ctx, "create_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "create_token", err, start) }()

	if token == nil || token.ID == "" {
		err = fmt.Errorf("token and token id are required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.ID]; exists {
		err = fmt.Errorf("%w: %s", managers.ErrDuplicateEntity, safeTruncate(token.ID, tokenIDLogLength))
		return err
	}

	stored := *token
	if stored.Status == "" {
		stored.Status = managers.TokenStatusValid
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.tokens[token.ID] = &stored
	if stored.AuthorizationID != "" {
		s.byAuthz[stored.AuthorizationID] = append(s.byAuthz[stored.AuthorizationID], stored.ID)
	}
	s.tokensCountAtomic.Store(int64(len(s.tokens)))

	s.logger.Debug("Created token record",
		"token_prefix", safeTruncate(token.ID, tokenIDLogLength),
		"token_type", stored.Type)
	return nil
}

// FindByID retrieves a token record by its identifier
func (s *Store) FindByID(ctx context.Context, id string) (*managers.Token, error) {
	ctx, span := s.startSpan(ctx, "find_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "find_token", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		err = fmt.Errorf("%w: %s", managers.ErrTokenNotFound, safeTruncate(id, tokenIDLogLength))
		return nil, err
	}

	cp := *token
	return &cp, nil
}

// FindByAuthorizationID retrieves every token record attached to the authorization
func (s *Store) FindByAuthorizationID(ctx context.Context, authorizationID string) ([]*managers.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAuthz[authorizationID]
	out := make([]*managers.Token, 0, len(ids))
	for _, id := range ids {
		if token, ok := s.tokens[id]; ok {
			cp := *token
			out = append(out, &cp)
		}
	}
	return out, nil
}

// IsValid reports whether the record is still usable: status "valid" and not
// past its expiration (with clock skew grace).
func (s *Store) IsValid(ctx context.Context, token *managers.Token) (bool, error) {
	if token == nil {
		return false, nil
	}

	// Re-read the record so a revocation by a concurrent request is seen
	s.mu.RLock()
	current, ok := s.tokens[token.ID]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if current.Status != managers.TokenStatusValid {
		return false, nil
	}
	if security.IsTokenExpiredWithGracePeriod(current.ExpiresAt, s.clockSkewGrace) {
		return false, nil
	}
	return true, nil
}

// TryRedeem atomically transitions the record from "valid" to "redeemed".
//
// SECURITY: The check and the status write happen under one write lock, so
// exactly one concurrent caller observes true for a given identifier.
func (s *Store) TryRedeem(ctx context.Context, id string) (bool, error) {
	ctx, span := s.startSpan(ctx, "redeem_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "redeem_token", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		// Distinguishable from a lost race so the caller can tell a
		// replayed grant apart from a cleaned-up record
		err = fmt.Errorf("%w: %s", managers.ErrTokenNotFound, safeTruncate(id, tokenIDLogLength))
		return false, err
	}
	if token.Status != managers.TokenStatusValid {
		return false, nil
	}
	if security.IsTokenExpiredWithGracePeriod(token.ExpiresAt, s.clockSkewGrace) {
		return false, nil
	}

	token.Status = managers.TokenStatusRedeemed

	s.logger.Debug("Redeemed token",
		"token_prefix", safeTruncate(id, tokenIDLogLength),
		"token_type", token.Type)
	return true, nil
}

// TryRevoke atomically transitions the record from "valid" to "revoked"
func (s *Store) TryRevoke(ctx context.Context, id string) (bool, error) {
	ctx, span := s.startSpan(ctx, "revoke_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "revoke_token", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return false, nil
	}
	if token.Status != managers.TokenStatusValid {
		return false, nil
	}

	token.Status = managers.TokenStatusRevoked

	s.logger.Debug("Revoked token",
		"token_prefix", safeTruncate(id, tokenIDLogLength),
		"token_type", token.Type)
	return true, nil
}

// TryExtend moves the record's expiration when the record is still valid
func (s *Store) TryExtend(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	ctx, span := s.startSpan(ctx, "extend_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "extend_token", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return false, nil
	}
	if token.Status != managers.TokenStatusValid {
		return false, nil
	}

	token.ExpiresAt = expiresAt

	s.logger.Debug("Extended token expiration",
		"token_prefix", safeTruncate(id, tokenIDLogLength),
		"expires_at", expiresAt)
	return true, nil
}

// ==================== Cleanup ====================

// cleanupLoop periodically removes expired, redeemed and revoked token
// records to prevent unbounded memory growth.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes token records that expired past the grace period.
// Redeemed and revoked records are retained until expiry so concurrent
// requests keep observing the terminal status instead of "not found".
func (s *Store) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, token := range s.tokens {
		if !security.IsTokenExpiredWithGracePeriod(token.ExpiresAt, s.clockSkewGrace) {
			continue
		}
		delete(s.tokens, id)
		if token.AuthorizationID != "" {
			s.byAuthz[token.AuthorizationID] = removeID(s.byAuthz[token.AuthorizationID], id)
			if len(s.byAuthz[token.AuthorizationID]) == 0 {
				delete(s.byAuthz, token.AuthorizationID)
			}
		}
		removed++
	}
	s.tokensCountAtomic.Store(int64(len(s.tokens)))

	if removed > 0 {
		s.logger.Debug("Cleaned up expired token records",
			"removed", removed,
			"remaining", len(s.tokens))
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// ==================== Instrumentation helpers ====================

// startSpan starts a tracing span for a manager operation (no-op when
// instrumentation is not configured)
func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := s.tracer.Start(ctx, "managers.memory."+operation)
	instrumentation.AddManagerAttributes(span, operation, "memory")
	return ctx, span
}

// recordOperation records metrics and span status for a manager operation
func (s *Store) recordOperation(ctx context.Context, span trace.Span, operation string, err error, start time.Time) {
	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordManagerOperation(ctx, operation,
			result, float64(time.Since(start).Milliseconds()))
	}
}

// safeTruncate returns the first n characters of the value for logging
func safeTruncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n]
}
