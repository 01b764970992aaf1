package valkey

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-core/managers"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if no Valkey is reachable. Each test gets a unique
// prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oidctest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func testToken(id, authorizationID string) *managers.Token {
	return &managers.Token{
		ID:              id,
		Type:            managers.TokenTypeRefreshToken,
		Status:          managers.TokenStatusValid,
		Subject:         "test-user",
		ClientID:        "test-client",
		AuthorizationID: authorizationID,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(time.Hour),
	}
}

func TestCreateAndFindByID(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testToken("tok-1", "authz-1")
	require.NoError(t, store.Create(ctx, token))

	found, err := store.FindByID(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, token.ID, found.ID)
	assert.Equal(t, token.Type, found.Type)
	assert.Equal(t, managers.TokenStatusValid, found.Status)
	assert.Equal(t, token.Subject, found.Subject)
	assert.Equal(t, token.ClientID, found.ClientID)
	assert.Equal(t, token.AuthorizationID, found.AuthorizationID)
	assert.WithinDuration(t, token.ExpiresAt, found.ExpiresAt, time.Second)
}

func TestFindByIDNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.FindByID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, managers.ErrTokenNotFound)
}

func TestFindByAuthorizationID(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testToken("tok-a", "authz-shared")))
	require.NoError(t, store.Create(ctx, testToken("tok-b", "authz-shared")))
	require.NoError(t, store.Create(ctx, testToken("tok-c", "authz-other")))

	tokens, err := store.FindByAuthorizationID(ctx, "authz-shared")
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	tokens, err = store.FindByAuthorizationID(ctx, "authz-none")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestIsValid(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testToken("tok-valid", "")
	require.NoError(t, store.Create(ctx, token))

	valid, err := store.IsValid(ctx, token)
	require.NoError(t, err)
	assert.True(t, valid)

	// A redeemed record is no longer valid
	ok, err := store.TryRedeem(ctx, token.ID)
	require.NoError(t, err)
	require.True(t, ok)

	valid, err = store.IsValid(ctx, token)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTryRedeemSingleUse(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testToken("tok-once", "")))

	ok, err := store.TryRedeem(ctx, "tok-once")
	require.NoError(t, err)
	assert.True(t, ok, "first redemption should win")

	ok, err = store.TryRedeem(ctx, "tok-once")
	require.NoError(t, err)
	assert.False(t, ok, "second redemption should lose")

	found, err := store.FindByID(ctx, "tok-once")
	require.NoError(t, err)
	assert.Equal(t, managers.TokenStatusRedeemed, found.Status)
}

func TestTryRedeemConcurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testToken("tok-race", "")))

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryRedeem(ctx, "tok-race")
			if err != nil {
				t.Errorf("TryRedeem failed: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent redemption must succeed")
}

func TestTryRevoke(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testToken("tok-revoke", "")))

	ok, err := store.TryRevoke(ctx, "tok-revoke")
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := store.FindByID(ctx, "tok-revoke")
	require.NoError(t, err)
	assert.Equal(t, managers.TokenStatusRevoked, found.Status)

	// A revoked record cannot be redeemed
	ok, err = store.TryRedeem(ctx, "tok-revoke")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryRevokeMissing(t *testing.T) {
	store := testStore(t)

	ok, err := store.TryRevoke(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryRedeemMissing(t *testing.T) {
	store := testStore(t)

	// A missing record is reported distinctly from a lost race
	ok, err := store.TryRedeem(context.Background(), "missing")
	assert.False(t, ok)
	require.ErrorIs(t, err, managers.ErrTokenNotFound)
}

func TestTryExtend(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testToken("tok-extend", "")
	require.NoError(t, store.Create(ctx, token))

	newExpiry := time.Now().Add(48 * time.Hour)
	ok, err := store.TryExtend(ctx, token.ID, newExpiry)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := store.FindByID(ctx, token.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, newExpiry, found.ExpiresAt, time.Second)
}

func TestTryExtendNotValid(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testToken("tok-extend-redeemed", "")
	require.NoError(t, store.Create(ctx, token))

	ok, err := store.TryRedeem(ctx, token.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.TryExtend(ctx, token.ID, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "redeemed records must keep their expiration")
}

func TestCreateRejectsOversizedID(t *testing.T) {
	store := testStore(t)

	token := testToken("", "")
	for i := 0; i < MaxIDLength+1; i++ {
		token.ID += "x"
	}
	err := store.Create(context.Background(), token)
	require.Error(t, err)
}
