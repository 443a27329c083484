package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier(testSecret)

	userID, err := v.Verify(signToken(t, testSecret, "user-42"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("expected user-42, got %q", userID)
	}
}

func TestVerify_Rejections(t *testing.T) {
	v := NewVerifier(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other-secret", "user-42")},
		{"no subject", signToken(t, testSecret, "")},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); err == nil {
				t.Error("expected verification to fail")
			}
		})
	}
}

func TestAuthenticate_TokenSources(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, testSecret, "user-42")

	t.Run("authorization header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		userID, err := v.Authenticate(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if userID != "user-42" {
			t.Errorf("expected user-42, got %q", userID)
		}
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token="+token, nil)

		userID, err := v.Authenticate(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if userID != "user-42" {
			t.Errorf("expected user-42, got %q", userID)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		if _, err := v.Authenticate(r); err == nil {
			t.Error("expected error for missing token")
		}
	})
}
