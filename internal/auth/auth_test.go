package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	s := NewTokenService("secret", "cards")
	tok, err := s.Issue("u1", "Yugi", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u1" || id.Name != "Yugi" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	s := NewTokenService("secret", "cards")
	expired, _ := s.Issue("u1", "Yugi", -time.Hour)
	foreign, _ := NewTokenService("other", "cards").Issue("u1", "Yugi", time.Minute)
	wrongIss, _ := NewTokenService("secret", "elsewhere").Issue("u1", "Yugi", time.Minute)
	noSub, _ := s.Issue("", "Yugi", time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"wrong issuer": wrongIss,
		"no subject":   noSub,
		"alg none":     none,
		"garbage":      "not-a-token",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Verify(tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestFromRequest(t *testing.T) {
	s := NewTokenService("secret", "")
	tok, _ := s.Issue("u1", "Yugi", time.Minute)

	r := httptest.NewRequest("POST", "/api/query/getBattle", nil)
	if _, err := s.FromRequest(r); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	r.Header.Set("Authorization", "Basic abc")
	if _, err := s.FromRequest(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	r.Header.Set("Authorization", "Bearer "+tok)
	id, err := s.FromRequest(r)
	if err != nil || id.UserID != "u1" {
		t.Fatalf("FromRequest: %v %+v", err, id)
	}

	ws := httptest.NewRequest("GET", "/api/subscribe/battle/b1?access_token="+tok, nil)
	if id, err := s.FromRequest(ws); err != nil || id.UserID != "u1" {
		t.Fatalf("query token: %v", err)
	}

	ctx := WithIdentity(context.Background(), id)
	if got, ok := IdentityFrom(ctx); !ok || got.UserID != "u1" {
		t.Fatalf("IdentityFrom = %+v %v", got, ok)
	}
	if _, ok := IdentityFrom(context.Background()); ok {
		t.Fatalf("empty context should have no identity")
	}
}
