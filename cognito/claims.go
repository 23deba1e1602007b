package cognito

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrMalformedToken is returned when a token cannot be decoded at all
	ErrMalformedToken = errors.New("malformed token")
)

// Claims represents the claims carried by a Cognito ID token
type Claims struct {
	jwt.RegisteredClaims
	Email           string `json:"email"`
	EmailVerified   bool   `json:"email_verified"`
	Name            string `json:"name"`
	TokenUse        string `json:"token_use"`
	AuthTime        int64  `json:"auth_time"`
	CognitoUsername string `json:"cognito:username"`

	// Role is the custom attribute set at sign-up (manager or tenant)
	Role string `json:"custom:role"`
}

// ParsedClaims represents decoded provider claims
type ParsedClaims struct {
	Issuer        string
	Subject       string
	Email         string
	Name          string
	Role          string
	Username      string
	EmailVerified bool
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// ExtractClaims decodes a provider token WITHOUT verifying its signature or
// validating its registered claims. Callers that accept the result are trusting
// the token's contents as presented.
func ExtractClaims(tokenString string) (*ParsedClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	return parseClaims(claims)
}

// ExtractClaimsFromValidatedToken extracts claims from an already validated jwt.Token
func ExtractClaimsFromValidatedToken(token *jwt.Token) (*ParsedClaims, error) {
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return parseClaims(claims)
}

func parseClaims(claims *Claims) (*ParsedClaims, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	parsed := &ParsedClaims{
		Issuer:        claims.Issuer,
		Subject:       claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		Role:          claims.Role,
		Username:      claims.CognitoUsername,
		EmailVerified: claims.EmailVerified,
	}

	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}

	return parsed, nil
}
