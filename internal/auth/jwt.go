package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStreamTokenTTL covers the gap between the webhook answering and the media stream connecting
const DefaultStreamTokenTTL = 5 * time.Minute

const streamRole = "media_stream"

// ErrCallMismatch is returned when a valid token was minted for another call
var ErrCallMismatch = errors.New("token was issued for a different call")

// StreamClaims represents the claims in a media stream token
type StreamClaims struct {
	CallSid string `json:"call_sid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// StreamAuth mints and checks the short lived tokens that tie a media stream to the call that asked for it
type StreamAuth struct {
	secret []byte
	ttl    time.Duration
}

// NewStreamAuth creates a token issuer. A zero ttl falls back to DefaultStreamTokenTTL.
func NewStreamAuth(secret string, ttl time.Duration) (*StreamAuth, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultStreamTokenTTL
	}
	return &StreamAuth{secret: []byte(secret), ttl: ttl}, nil
}

// GenerateStreamToken generates a JWT token for the media stream of callSid
func (a *StreamAuth) GenerateStreamToken(callSid string) (string, error) {
	now := time.Now()
	claims := &StreamClaims{
		CallSid: callSid,
		Role:    streamRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   callSid,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateStreamToken validates a token and checks it belongs to callSid
func (a *StreamAuth) ValidateStreamToken(tokenString, callSid string) (*StreamClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid stream token: %w", err)
	}

	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid || claims.Role != streamRole {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.CallSid != callSid {
		return nil, ErrCallMismatch
	}
	return claims, nil
}
