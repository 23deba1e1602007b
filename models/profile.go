package models

import (
	"strings"
	"time"

	"github.com/upb/rentiful/backend/identity"
)

// Profile is the persisted business record behind a subject: a Manager or a
// Tenant. The variant is fixed by the table the row lives in.
type Profile struct {
	ID           int64         `json:"id" db:"id"`
	SubjectID    string        `json:"subjectId" db:"cognito_id"`
	Role         identity.Role `json:"role" db:"-"`
	Name         string        `json:"name" db:"name"`
	Email        string        `json:"email" db:"email"`
	PhoneNumber  string        `json:"phoneNumber" db:"phone_number"`
	PasswordHash string        `json:"-" db:"password_hash"`
	CreatedAt    time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time     `json:"updatedAt" db:"updated_at"`
}

// TableName returns the table holding profiles of the given role
func TableName(role identity.Role) (string, bool) {
	switch role {
	case identity.RoleManager:
		return "managers", true
	case identity.RoleTenant:
		return "tenants", true
	default:
		return "", false
	}
}

// NewProfile creates a new Profile instance. Email is normalized to lower case.
func NewProfile(role identity.Role, subjectID, name, email string) *Profile {
	now := time.Now().UTC()
	return &Profile{
		SubjectID: subjectID,
		Role:      role,
		Name:      name,
		Email:     NormalizeEmail(email),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasPassword reports whether the profile can log in with a local password.
// Profiles provisioned from provider credentials have none.
func (p *Profile) HasPassword() bool {
	return p.PasswordHash != ""
}

// Identity returns the identity a credential for this profile asserts
func (p *Profile) Identity() identity.Identity {
	return identity.Identity{
		SubjectID: p.SubjectID,
		Role:      p.Role,
		Email:     p.Email,
		Name:      p.Name,
		Source:    identity.SourceLocal,
	}
}

// Summary is the client-facing view of a profile, stored by clients under the "user" key
type Summary struct {
	ID        int64         `json:"id"`
	SubjectID string        `json:"subjectId"`
	Email     string        `json:"email"`
	Name      string        `json:"name"`
	Role      identity.Role `json:"role"`
}

// Summary returns the client-facing view of p
func (p *Profile) Summary() Summary {
	return Summary{
		ID:        p.ID,
		SubjectID: p.SubjectID,
		Email:     p.Email,
		Name:      p.Name,
		Role:      p.Role,
	}
}
