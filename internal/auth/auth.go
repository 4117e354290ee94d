// Package auth issues and verifies the tokens that bind a websocket or
// API request to a user identity.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Service signs HS256 tokens carrying a user_id claim. When guest tokens
// are allowed, a string that is not a JWT is accepted as a bare user id,
// which keeps throwaway clients and the loadtest tool out of the account
// system.
type Service struct {
	secret      []byte
	tokenTTL    time.Duration
	allowGuests bool
}

func NewService(secret string, ttl time.Duration, allowGuests bool) *Service {
	return &Service{
		secret:      []byte(secret),
		tokenTTL:    ttl,
		allowGuests: allowGuests,
	}
}

// Mint creates a signed token for userID.
func (s *Service) Mint(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(s.tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}
	return tokenString, nil
}

// Verify parses a signed token and returns the user id it carries.
func (s *Service) Verify(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok || int64(exp) < time.Now().Unix() {
		return "", ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Identify resolves the ?token= value of a connecting client to a user id.
// Signed tokens are tried first; the guest fallback takes the raw value as
// the id itself.
func (s *Service) Identify(raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalidToken
	}
	if userID, err := s.Verify(raw); err == nil {
		return userID, nil
	}
	if s.allowGuests && validGuestID(raw) {
		return raw, nil
	}
	return "", ErrInvalidToken
}

// validGuestID bounds what we accept as a bare identity: short,
// url-safe, no separators that collide with storage keys.
func validGuestID(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// HashPassword hashes a password for storage.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword compares a stored hash against a login attempt.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
