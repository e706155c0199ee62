// Package auth resolves request credentials to a user identity. The chat
// service trusts an upstream session layer for signup; here API keys map
// directly to user ids.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"userId"`
}

// Authorizer validates an API key and resolves it to an identity.
type Authorizer interface {
	Authorize(ctx context.Context, apiKey string) (*Identity, error)
}

// StaticAuthorizer resolves keys from a fixed key-to-user table, loaded from
// configuration as "key=userId" pairs.
type StaticAuthorizer struct {
	keys map[string]string
}

// NewStaticAuthorizer parses "key=userId" pairs. Malformed pairs are skipped.
func NewStaticAuthorizer(pairs []string) *StaticAuthorizer {
	keys := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" || v == "" {
			continue
		}
		keys[k] = v
	}
	return &StaticAuthorizer{keys: keys}
}

func (a *StaticAuthorizer) Authorize(ctx context.Context, apiKey string) (*Identity, error) {
	for k, userID := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return &Identity{UserID: userID}, nil
		}
	}
	return nil, model.ErrUnauthenticated
}

// DevAPIKey authenticates as DevUserID when no keys are configured.
const (
	DevAPIKey = "sk_local_cruso_dev_key"
	DevUserID = "cruso-dev"
)

// MockAuthorizer recognizes only the hardcoded development key. Used when the
// deployment has no API keys configured outside production.
type MockAuthorizer struct{}

func NewMockAuthorizer() *MockAuthorizer { return &MockAuthorizer{} }

func (m *MockAuthorizer) Authorize(ctx context.Context, apiKey string) (*Identity, error) {
	if apiKey != DevAPIKey {
		return nil, model.ErrUnauthenticated
	}
	return &Identity{UserID: DevUserID}, nil
}

// ExtractAPIKey pulls the bearer token from the Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", model.ErrUnauthenticated
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", model.ErrUnauthenticated
	}
	return parts[1], nil
}
