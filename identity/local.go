package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// LocalStrategyName identifies the HS256 strategy in logs and metrics
const LocalStrategyName = "local"

// SubjectClaim is a subject identifier that may be encoded as a JSON string or number
type SubjectClaim string

// UnmarshalJSON accepts "abc", 42 and null
func (s *SubjectClaim) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SubjectClaim(str)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("subject must be a string or number: %w", err)
	}
	id, err := n.Int64()
	if err != nil {
		return fmt.Errorf("subject must be an integer: %w", err)
	}
	*s = SubjectClaim(strconv.FormatInt(id, 10))
	return nil
}

// LocalClaims is the claim set of locally issued credentials. The role is
// written under both names so clients that only read the provider claim name
// see the same value.
type LocalClaims struct {
	jwt.RegisteredClaims
	UserID     SubjectClaim `json:"userId,omitempty"`
	Email      string       `json:"email,omitempty"`
	Name       string       `json:"name,omitempty"`
	Role       string       `json:"role,omitempty"`
	CustomRole string       `json:"custom:role,omitempty"`
}

// LocalStrategy verifies credentials signed with the shared HS256 secret
type LocalStrategy struct {
	secret []byte
	issuer string
}

// NewLocalStrategy creates the strategy for locally issued credentials.
// An empty issuer disables the issuer check.
func NewLocalStrategy(secret, issuer string) *LocalStrategy {
	return &LocalStrategy{secret: []byte(secret), issuer: issuer}
}

func (s *LocalStrategy) Name() string {
	return LocalStrategyName
}

// Verify checks signature, expiry and issuer. Tokens this strategy cannot
// verify (other algorithm, other key, undecodable) are reported as
// ErrNotApplicable. Once the signature verifies, every later failure is
// terminal, so an expired local credential never reaches another strategy.
func (s *LocalStrategy) Verify(_ context.Context, raw string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &LocalClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenInvalidClaims) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrNotApplicable, err)
	}

	subject := string(claims.UserID)
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidCredential)
	}

	roleClaim := claims.CustomRole
	if roleClaim == "" {
		roleClaim = claims.Role
	}
	role, ok := ParseRole(roleClaim)
	if !ok {
		return nil, ErrNoRole
	}

	return &Identity{
		SubjectID: subject,
		Role:      role,
		Email:     claims.Email,
		Name:      claims.Name,
		Source:    SourceLocal,
	}, nil
}

// Issuer mints locally signed credentials
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer signing with secret for ttl
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a credential for id and returns it with its expiry
func (i *Issuer) Issue(id Identity) (string, time.Time, error) {
	if id.SubjectID == "" {
		return "", time.Time{}, errors.New("cannot issue credential without subject")
	}
	role, ok := ParseRole(string(id.Role))
	if !ok {
		return "", time.Time{}, fmt.Errorf("cannot issue credential for role %q", id.Role)
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := LocalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   id.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:     SubjectClaim(id.SubjectID),
		Email:      id.Email,
		Name:       id.Name,
		Role:       string(role),
		CustomRole: string(role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, expiresAt, nil
}
