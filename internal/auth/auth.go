// Package auth verifies the HS256 bearer tokens issued by the identity provider.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/park285/cards-of-power/internal/apperr"
)

var (
	ErrMissingToken = apperr.New(apperr.Unauthenticated, "missing bearer token")
	ErrInvalidToken = apperr.New(apperr.Unauthenticated, "invalid token")
)

// Claims carries the user id in sub and a display name.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type TokenService struct {
	signingKey []byte
	issuer     string
	leeway     time.Duration
}

func NewTokenService(secret, issuer string) *TokenService {
	return &TokenService{signingKey: []byte(secret), issuer: strings.TrimSpace(issuer), leeway: 30 * time.Second}
}

// Issue signs a token for userID. Used by the CLI and tests; production
// tokens come from the identity provider with the same secret.
func (s *TokenService) Issue(userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) Verify(raw string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Name: strings.TrimSpace(claims.Name)}, nil
}

// FromRequest reads the bearer token from the Authorization header, or from
// the access_token query parameter for websocket upgrades.
func (s *TokenService) FromRequest(r *http.Request) (Identity, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return Identity{}, ErrInvalidToken
		}
		raw = strings.TrimSpace(token)
	} else {
		raw = r.URL.Query().Get("access_token")
	}
	if raw == "" {
		return Identity{}, ErrMissingToken
	}
	return s.Verify(raw)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}
