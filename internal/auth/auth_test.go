package auth

import (
	"errors"
	"testing"
	"time"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	svc := NewService("test-secret", time.Hour, false)

	token, err := svc.Mint("u1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	userID, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if userID != "u1" {
		t.Errorf("Verify() = %q, want u1", userID)
	}
}

func TestVerifyExpired(t *testing.T) {
	svc := NewService("test-secret", -time.Minute, false)

	token, err := svc.Mint("u1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() of expired token error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	minter := NewService("secret-a", time.Hour, false)
	verifier := NewService("secret-b", time.Hour, false)

	token, _ := minter.Mint("u1")
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() with wrong secret error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	svc := NewService("test-secret", time.Hour, false)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestIdentifyGuestFallback(t *testing.T) {
	svc := NewService("test-secret", time.Hour, true)

	userID, err := svc.Identify("alice-7")
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if userID != "alice-7" {
		t.Errorf("Identify() = %q, want alice-7", userID)
	}

	// A signed token still wins over the fallback.
	token, _ := svc.Mint("u1")
	userID, err = svc.Identify(token)
	if err != nil {
		t.Fatalf("Identify(signed) error = %v", err)
	}
	if userID != "u1" {
		t.Errorf("Identify(signed) = %q, want u1", userID)
	}
}

func TestIdentifyGuestsDisabled(t *testing.T) {
	svc := NewService("test-secret", time.Hour, false)

	if _, err := svc.Identify("alice"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Identify() with guests disabled error = %v, want ErrInvalidToken", err)
	}
}

func TestIdentifyRejectsBadGuestIDs(t *testing.T) {
	svc := NewService("test-secret", time.Hour, true)

	bad := []string{
		"",
		"has space",
		"colon:inside",
		"dm-style/slash",
		"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", // 65 chars
	}
	for _, id := range bad {
		if _, err := svc.Identify(id); err == nil {
			t.Errorf("Identify(%q) should be rejected", id)
		}
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("HashPassword() returned the plaintext")
	}

	if err := CheckPassword(hash, "hunter2"); err != nil {
		t.Errorf("CheckPassword() with correct password error = %v", err)
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Error("CheckPassword() with wrong password should fail")
	}
}
