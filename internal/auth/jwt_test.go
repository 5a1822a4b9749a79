package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJWT_RoundTrip(t *testing.T) {
	userID := uuid.New()

	token, err := GenerateJWT("test-secret", userID, "dev-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ParseJWT("test-secret", token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != userID {
		t.Errorf("user_id = %s, want %s", claims.UserID, userID)
	}
	if claims.DeviceID != "dev-1" {
		t.Errorf("device_id = %s, want dev-1", claims.DeviceID)
	}
}

func TestJWT_WrongSecret(t *testing.T) {
	token, _ := GenerateJWT("secret-a", uuid.New(), "dev-1", time.Hour)
	if _, err := ParseJWT("secret-b", token); err == nil {
		t.Fatal("token parsed with wrong secret")
	}
}

func TestJWT_Expired(t *testing.T) {
	token, _ := GenerateJWT("test-secret", uuid.New(), "dev-1", -time.Minute)
	if _, err := ParseJWT("test-secret", token); err == nil {
		t.Fatal("expired token parsed")
	}
}
