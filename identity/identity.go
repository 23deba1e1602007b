// Package identity turns bearer credentials into a canonical (subject, role) pair.
//
// Two issuers are accepted: credentials signed locally with the shared HS256
// secret, and ID tokens minted by the Cognito user pool. A Verifier runs an
// ordered chain of strategies; the first strategy that recognizes the
// credential decides the outcome.
package identity

import (
	"errors"
	"strings"
)

// Role is the account variant a credential grants access as
type Role string

const (
	RoleManager Role = "manager"
	RoleTenant  Role = "tenant"
)

// Roles lists every valid role
var Roles = []Role{RoleManager, RoleTenant}

// ParseRole normalizes a claim value to a Role. Matching is case-insensitive
// and surrounding whitespace is ignored. There is no default role.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleManager:
		return RoleManager, true
	case RoleTenant:
		return RoleTenant, true
	default:
		return "", false
	}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

func (r Role) String() string {
	return string(r)
}

// Source records which issuer produced the credential
type Source string

const (
	SourceLocal    Source = "local"
	SourceProvider Source = "provider"
)

// Identity is the verified result of a credential. It is rebuilt from the
// credential on every request and never persisted.
type Identity struct {
	SubjectID string `json:"subjectId"`
	Role      Role   `json:"role"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Username  string `json:"username,omitempty"`
	Source    Source `json:"source"`
}

// HasRole reports whether the identity's role is one of allowed (case-insensitive)
func (i *Identity) HasRole(allowed ...Role) bool {
	for _, role := range allowed {
		if strings.EqualFold(string(i.Role), string(role)) {
			return true
		}
	}
	return false
}

var (
	// ErrNoCredential means no credential was presented
	ErrNoCredential = errors.New("no credential")

	// ErrInvalidCredential means the credential could not be decoded, failed
	// verification, or carries no subject
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrNoRole means the credential was accepted but resolves to no known role
	ErrNoRole = errors.New("credential carries no role")
)
