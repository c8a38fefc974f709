package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTRoundTripCarriesIdentity(t *testing.T) {
	manager := NewJWTManager("secret", time.Minute)

	token, expiresAt, err := manager.GenerateAccessToken("user-1", "sid-1", "seller")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := manager.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.UserID != "user-1" || claims.SID != "sid-1" || claims.Role != "seller" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(expiresAt.Truncate(time.Second)) {
		t.Fatalf("unexpected expiry: %s vs %s", claims.ExpiresAt, expiresAt)
	}
}

func TestJWTRejectsForeignSecretAndExpiredTokens(t *testing.T) {
	issuer := NewJWTManager("secret-a", time.Minute)
	token, _, err := issuer.GenerateAccessToken("user-1", "sid-1", "")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := NewJWTManager("secret-b", time.Minute).ParseAccessToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign secret, got %v", err)
	}

	later := NewJWTManager("secret-a", time.Minute)
	later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := later.ParseAccessToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired token, got %v", err)
	}

	if _, err := issuer.ParseAccessToken("  "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty token, got %v", err)
	}
}

func TestGenerateAccessTokenValidatesPayload(t *testing.T) {
	manager := NewJWTManager("secret", time.Minute)
	if _, _, err := manager.GenerateAccessToken("", "sid", ""); err == nil {
		t.Fatalf("expected error for empty user id")
	}
	if _, _, err := NewJWTManager("", time.Minute).GenerateAccessToken("user", "sid", ""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
