package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, userID, username string, expiresIn time.Duration) string {
	t.Helper()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "opcode",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-side-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestInspect(t *testing.T) {
	token := signedToken(t, "user-123", "deepan", time.Hour)

	claims, err := Inspect(token)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("expected user ID user-123, got %s", claims.UserID)
	}
	if claims.Username != "deepan" {
		t.Errorf("expected username deepan, got %s", claims.Username)
	}
	if claims.Expired(time.Now()) {
		t.Error("fresh token reported as expired")
	}
}

func TestInspectExpired(t *testing.T) {
	token := signedToken(t, "u1", "user", -time.Minute)

	claims, err := Inspect(token)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if !claims.Expired(time.Now()) {
		t.Fatal("expected token to report expired")
	}
}

func TestInspectOpaqueToken(t *testing.T) {
	// The original deployment hands out plain strings like "token6"; those
	// pass through untouched.
	_, err := Inspect("token6")
	if !errors.Is(err, ErrOpaqueToken) {
		t.Fatalf("expected ErrOpaqueToken, got %v", err)
	}
}

func TestInspectNoExpiry(t *testing.T) {
	claims := Claims{UserID: "u1"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	got, err := Inspect(token)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if got.Expired(time.Now()) {
		t.Fatal("token without expiry must never report expired")
	}
}
