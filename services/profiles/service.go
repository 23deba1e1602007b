// Package profiles reads and edits the manager and tenant profiles behind
// the /managers and /tenants routes.
package profiles

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/internal/observability"
	"github.com/upb/rentiful/backend/models"
	"github.com/upb/rentiful/backend/repositories"
	"github.com/upb/rentiful/backend/services"
)

// Input carries the editable profile fields
type Input struct {
	Name        string `json:"name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email,max=255"`
	PhoneNumber string `json:"phoneNumber" validate:"max=50"`
}

// Service handles profile business logic
type Service struct {
	profiles repositories.ProfileRepository
	logger   *zap.Logger
}

// NewService creates a new profile service
func NewService(profiles repositories.ProfileRepository, logger *zap.Logger) *Service {
	return &Service{
		profiles: profiles,
		logger:   logger,
	}
}

// Get returns the profile of subjectID in role's table
func (s *Service) Get(ctx context.Context, role identity.Role, subjectID string) (*models.Profile, error) {
	profile, err := s.profiles.GetBySubjectID(ctx, role, subjectID)
	if err != nil {
		return nil, s.translate(ctx, "get", err)
	}
	return profile, nil
}

// Create inserts a profile for subjectID. An existing profile for the
// subject or email is a conflict.
func (s *Service) Create(ctx context.Context, role identity.Role, subjectID string, input Input) (*models.Profile, error) {
	profile := models.NewProfile(role, subjectID, input.Name, input.Email)
	profile.PhoneNumber = input.PhoneNumber

	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, s.translate(ctx, "create", err)
	}

	observability.WithContext(ctx, s.logger).Info("profile created",
		zap.String("subject_id", subjectID),
		zap.String("role", role.String()))
	return profile, nil
}

// Update replaces name, email and phone number of subjectID's profile
func (s *Service) Update(ctx context.Context, role identity.Role, subjectID string, input Input) (*models.Profile, error) {
	profile, err := s.profiles.GetBySubjectID(ctx, role, subjectID)
	if err != nil {
		return nil, s.translate(ctx, "update", err)
	}

	profile.Name = input.Name
	profile.Email = models.NormalizeEmail(input.Email)
	profile.PhoneNumber = input.PhoneNumber

	if err := s.profiles.Update(ctx, profile); err != nil {
		return nil, s.translate(ctx, "update", err)
	}
	return profile, nil
}

func (s *Service) translate(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return services.ErrProfileNotFound
	case errors.Is(err, repositories.ErrDuplicate):
		return services.NewDomainError(services.ErrorTypeConflict, "profile or email already exists", err)
	default:
		observability.WithContext(ctx, s.logger).Error("profile operation failed",
			zap.String("operation", op), zap.Error(err))
		return services.WrapInternal("profile operation failed", err)
	}
}
