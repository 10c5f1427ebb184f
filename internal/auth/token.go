// ABOUTME: JWT tokens identifying a website visitor's contact session
// ABOUTME: Uses HS256 signing with the configured contact secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrEmptySecret  = errors.New("token secret must not be empty")
)

// agentClaim carries the agent the session was issued for.
const agentClaim = "agt"

// Claims is the identity carried by a contact session token.
type Claims struct {
	ContactSessionID string
	AgentID          string
}

// TokenSigner issues and verifies contact session tokens.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner creates a signer with the given HS256 secret.
func NewTokenSigner(secret []byte) (*TokenSigner, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &TokenSigner{secret: secret}, nil
}

// Verify validates the token and extracts the session and agent claims
func (s *TokenSigner) Verify(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	sub, ok := mapClaims["sub"].(string)
	if !ok || sub == "" {
		return Claims{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	agentID, ok := mapClaims[agentClaim].(string)
	if !ok || agentID == "" {
		return Claims{}, fmt.Errorf("%w: %s", ErrMissingClaim, agentClaim)
	}

	return Claims{ContactSessionID: sub, AgentID: agentID}, nil
}

// Generate signs a token for the claims that expires at expiresAt
func (s *TokenSigner) Generate(claims Claims, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      claims.ContactSessionID,
		agentClaim: claims.AgentID,
		"iat":      time.Now().Unix(),
		"exp":      expiresAt.Unix(),
	})
	return token.SignedString(s.secret)
}
