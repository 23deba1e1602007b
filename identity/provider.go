package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/rentiful/backend/cognito"
)

// ProviderStrategyName identifies the Cognito strategy in logs and metrics
const ProviderStrategyName = "provider"

// ProviderTokenValidator verifies provider tokens cryptographically
type ProviderTokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*cognito.ParsedClaims, error)
}

// ProviderStrategy accepts Cognito ID tokens. With a validator the token is
// verified against the user pool JWKS. Without one the token is only decoded;
// its expiry is still enforced and the local issuer is refused, but every
// other claim is trusted as presented.
type ProviderStrategy struct {
	validator   ProviderTokenValidator
	localIssuer string
	now         func() time.Time
}

// NewProviderStrategy creates the provider strategy. A nil validator selects
// unverified decoding. localIssuer is the issuer of locally signed
// credentials; unverified tokens claiming it are rejected.
func NewProviderStrategy(validator ProviderTokenValidator, localIssuer string) *ProviderStrategy {
	return &ProviderStrategy{
		validator:   validator,
		localIssuer: localIssuer,
		now:         time.Now,
	}
}

func (s *ProviderStrategy) Name() string {
	return ProviderStrategyName
}

// Verified reports whether provider signatures are checked
func (s *ProviderStrategy) Verified() bool {
	return s.validator != nil
}

// Verify decodes raw and maps sub and custom:role to an Identity
func (s *ProviderStrategy) Verify(ctx context.Context, raw string) (*Identity, error) {
	var (
		claims *cognito.ParsedClaims
		err    error
	)
	if s.validator != nil {
		claims, err = s.validator.ValidateToken(ctx, raw)
	} else {
		claims, err = cognito.ExtractClaims(raw)
		if err == nil {
			err = s.checkUnverified(claims)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidCredential)
	}

	role, ok := ParseRole(claims.Role)
	if !ok {
		return nil, ErrNoRole
	}

	return &Identity{
		SubjectID: claims.Subject,
		Role:      role,
		Email:     claims.Email,
		Name:      claims.Name,
		Username:  claims.Username,
		Source:    SourceProvider,
	}, nil
}

// checkUnverified applies the claim checks that do not need the pool key.
// A local credential whose signature failed must not pass as a provider token.
func (s *ProviderStrategy) checkUnverified(claims *cognito.ParsedClaims) error {
	if s.localIssuer != "" && claims.Issuer == s.localIssuer {
		return fmt.Errorf("issuer %q belongs to local credentials", claims.Issuer)
	}
	if claims.ExpiresAt.IsZero() {
		return fmt.Errorf("token has no expiry")
	}
	if !s.now().Before(claims.ExpiresAt) {
		return fmt.Errorf("token expired at %s", claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}
