package services

import (
	"context"
	"errors"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/repositories"
)

// RegisteredRole returns the role other than except under which subjectID
// already has a profile, or "" when it has none. A subject holds at most one
// profile, in the table of the role it was first created with.
func RegisteredRole(ctx context.Context, profiles repositories.ProfileRepository, subjectID string, except identity.Role) (identity.Role, error) {
	for _, role := range identity.Roles {
		if role == except {
			continue
		}
		_, err := profiles.GetBySubjectID(ctx, role, subjectID)
		switch {
		case err == nil:
			return role, nil
		case !errors.Is(err, repositories.ErrNotFound):
			return "", err
		}
	}
	return "", nil
}
