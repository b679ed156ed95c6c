package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("u1", "u1@example.com", "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := ValidateToken(token, "secret")
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "u1@example.com" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, _ := GenerateToken("u1", "u1@example.com", "secret", time.Hour)

	if _, err := ValidateToken(token, "other-secret"); err == nil {
		t.Fatal("expected validation failure with wrong secret")
	}
}

func TestTokenExpired(t *testing.T) {
	token, _ := GenerateToken("u1", "u1@example.com", "secret", -time.Minute)

	if _, err := ValidateToken(token, "secret"); err == nil {
		t.Fatal("expected validation failure for expired token")
	}
}
