package ssegateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Claims is the minimal set of bearer-token claims the Gateway cares about.
// RegisteredClaims carries subject/expiry/issuer; Subject is the creator
// user id that session ownership checks compare against.
type Claims struct {
	jwt.RegisteredClaims
}

// JWKSValidator verifies bearer tokens against a JWKS fetched once and
// cached, per spec.md §4.9. The cache auto-refreshes on its own schedule so
// a key rotation on the identity provider side does not require a restart.
// Grounded on kadirpekel-hector/pkg/auth/jwt.go's jwk.Cache usage, with
// signature verification performed by golang-jwt/jwt/v5 (grounded on
// haasonsaas-nexus/internal/auth/jwt.go) via a Keyfunc that resolves the
// key by kid out of the cached set.
type JWKSValidator struct {
	jwksURL string
	cache   *jwk.Cache
	issuer  string
}

// NewJWKSValidator registers jwksURL for background refresh and performs an
// initial fetch so construction fails fast on misconfiguration.
func NewJWKSValidator(ctx context.Context, jwksURL, issuer string) (*JWKSValidator, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("ssegateway: register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("ssegateway: initial jwks fetch: %w", err)
	}
	return &JWKSValidator{jwksURL: jwksURL, cache: cache, issuer: issuer}, nil
}

// Validate parses and verifies a bearer token, returning the subject
// (creator user id) carried in its claims.
func (v *JWKSValidator) Validate(ctx context.Context, tokenString string) (string, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return "", fmt.Errorf("ssegateway: fetch jwks: %w", err)
	}

	claims := &Claims{}
	parserOpts := []jwt.ParserOption{jwt.WithIssuedAt()}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token missing kid header")
		}
		key, ok := keyset.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("no jwks key for kid %q", kid)
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("decode jwks key %q: %w", kid, err)
		}
		return raw, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("ssegateway: invalid bearer token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("ssegateway: bearer token missing subject")
	}
	return claims.Subject, nil
}

// identity is the authenticated caller resolved from one request: either
// an end user (bearer token) or a running agent container authenticating
// back into the Gateway (X-API-Key == session id).
type identity struct {
	userID       string
	protocolPeer bool
	peerSession  string
}

// authenticate resolves the caller's identity from the request, preferring
// the protocol-peer API key (used by the agent container calling back into
// tool-exposing endpoints during its own run) over the bearer token.
func (g *Gateway) authenticate(r *http.Request, sessionID string) (identity, error) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		if apiKey != sessionID {
			return identity{}, fmt.Errorf("ssegateway: api key does not match session")
		}
		return identity{protocolPeer: true, peerSession: sessionID}, nil
	}

	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || token == "" {
		return identity{}, fmt.Errorf("ssegateway: missing bearer token")
	}
	userID, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		return identity{}, err
	}
	return identity{userID: userID}, nil
}
