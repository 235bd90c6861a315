package ssegateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key"

// newJWKSServer serves a one-key JWKS over an httptest server and returns
// the private key tokens must be signed with.
func newJWKSServer(t *testing.T) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(priv.Public())
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv, priv
}

func signToken(t *testing.T, priv *rsa.PrivateKey, subject, issuer string, expiresIn time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	})
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestJWKSValidatorAcceptsSignedToken(t *testing.T) {
	t.Parallel()

	srv, priv := newJWKSServer(t)
	v, err := NewJWKSValidator(context.Background(), srv.URL, "test-issuer")
	require.NoError(t, err)

	subject, err := v.Validate(context.Background(), signToken(t, priv, "alice", "test-issuer", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestJWKSValidatorRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	srv, priv := newJWKSServer(t)
	v, err := NewJWKSValidator(context.Background(), srv.URL, "test-issuer")
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), signToken(t, priv, "alice", "test-issuer", -time.Hour))
	assert.Error(t, err)
}

func TestJWKSValidatorRejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	srv, priv := newJWKSServer(t)
	v, err := NewJWKSValidator(context.Background(), srv.URL, "test-issuer")
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), signToken(t, priv, "alice", "someone-else", time.Hour))
	assert.Error(t, err)
}

func TestJWKSValidatorRejectsForeignKey(t *testing.T) {
	t.Parallel()

	srv, _ := newJWKSServer(t)
	v, err := NewJWKSValidator(context.Background(), srv.URL, "")
	require.NoError(t, err)

	foreign, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), signToken(t, foreign, "alice", "test-issuer", time.Hour))
	assert.Error(t, err)
}

// TestBearerOwnershipEnforced exercises the full HTTP path: the session
// creator gets through, any other authenticated user gets 403.
func TestBearerOwnershipEnforced(t *testing.T) {
	t.Parallel()

	srv, priv := newJWKSServer(t)
	v, err := NewJWKSValidator(context.Background(), srv.URL, "")
	require.NoError(t, err)

	tg := newTestGateway(t)
	tg.Gateway.validator = v
	tg.createSession(t, "s1", "alice")

	for _, tc := range []struct {
		subject string
		want    int
	}{
		{"alice", http.StatusOK},
		{"bob", http.StatusForbidden},
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sessions/s1/stop", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, priv, tc.subject, "", time.Hour))
		tg.handler.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "subject %s", tc.subject)
	}
}
