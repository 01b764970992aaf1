// Package testutil provides testing utilities and fixtures for the oidc-core library.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-core/managers"
)

// TestClientSecret is the plaintext client secret of the fixture applications
const TestClientSecret = "secret"

// TestClientSecretHash is the bcrypt hash of TestClientSecret, computed once
// at minimum cost and shared so fixtures do not pay the bcrypt cost each time.
var TestClientSecretHash = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("failed to hash test client secret: %v", err))
	}
	return string(hash)
}()

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GenerateTestApplication creates a confidential test application with all
// backchannel permissions.
func GenerateTestApplication() *managers.Application {
	return &managers.Application{
		ClientID:         "test-client-id",
		ClientSecretHash: TestClientSecretHash,
		Type:             managers.ApplicationTypeConfidential,
		DisplayName:      "Test Client",
		RedirectURIs:     []string{"https://example.com/callback"},
		Permissions: []string{
			managers.PermissionEndpointToken,
			managers.PermissionEndpointIntrospection,
			managers.PermissionEndpointRevocation,
			managers.PermissionGrantTypeAuthorizationCode,
			managers.PermissionGrantTypeRefreshToken,
		},
		CreatedAt: time.Now(),
	}
}

// GenerateTestPublicApplication creates a public test application
func GenerateTestPublicApplication() *managers.Application {
	app := GenerateTestApplication()
	app.ClientID = "test-public-client-id"
	app.ClientSecretHash = ""
	app.Type = managers.ApplicationTypePublic
	return app
}

// GenerateTestToken creates a valid token record of the given type
func GenerateTestToken(tokenType string) *managers.Token {
	return &managers.Token{
		ID:              GenerateRandomString(32),
		Type:            tokenType,
		Status:          managers.TokenStatusValid,
		Subject:         "test-user-123",
		ClientID:        "test-client-id",
		AuthorizationID: GenerateRandomString(16),
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(time.Hour),
	}
}
