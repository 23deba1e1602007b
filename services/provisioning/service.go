// Package provisioning resolves a verified identity to its backing profile,
// creating a minimal profile the first time a subject is seen.
package provisioning

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/upb/rentiful/backend/cognito"
	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/internal/observability"
	"github.com/upb/rentiful/backend/models"
	"github.com/upb/rentiful/backend/repositories"
	"github.com/upb/rentiful/backend/services"
	"github.com/upb/rentiful/backend/services/audit"
)

// placeholderEmailDomain fills the email of provider profiles whose
// credential and user info both lack one. The .invalid TLD never resolves.
const placeholderEmailDomain = "provider.invalid"

// UserInfoFetcher looks up provider attributes with a provider access token
type UserInfoFetcher interface {
	GetUserInfo(ctx context.Context, accessToken string) (*cognito.UserInfo, error)
}

// Metrics receives provisioning outcomes
type Metrics interface {
	RecordProvisioning(role, outcome string)
}

// Result is the outcome of ResolveOrCreate
type Result struct {
	Profile *models.Profile
	Created bool
}

// Service implements resolve-or-create for verified identities
type Service struct {
	profiles repositories.ProfileRepository
	userInfo UserInfoFetcher
	recorder audit.Recorder
	metrics  Metrics
	logger   *zap.Logger
	group    singleflight.Group
}

// NewService creates a new provisioning service. userInfo, recorder and
// metrics may be nil.
func NewService(
	profiles repositories.ProfileRepository,
	userInfo UserInfoFetcher,
	recorder audit.Recorder,
	metrics Metrics,
	logger *zap.Logger,
) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{
		profiles: profiles,
		userInfo: userInfo,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
	}
}

// ResolveOrCreate returns the profile for (id.Role, id.SubjectID), creating
// it when absent. accessToken is only used for the user-info fallback; an
// empty value skips the lookup.
//
// Concurrent calls for the same subject within this process share one
// lookup and at most one create. A create that loses a race against another
// process returns the winner's profile, or a retryable conflict when it cannot
// be read back. A subject already provisioned under the other role is refused.
func (s *Service) ResolveOrCreate(ctx context.Context, id identity.Identity, accessToken string) (*Result, error) {
	if !id.Role.Valid() {
		return nil, services.ErrNoRole
	}
	if id.SubjectID == "" {
		return nil, services.ErrInvalidCredential
	}

	key := string(id.Role) + "|" + id.SubjectID
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.resolve(context.WithoutCancel(ctx), id, accessToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) resolve(ctx context.Context, id identity.Identity, accessToken string) (*Result, error) {
	log := observability.WithContext(ctx, s.logger).With(
		zap.String("subject_id", id.SubjectID),
		zap.String("role", id.Role.String()),
	)

	profile, err := s.profiles.GetBySubjectID(ctx, id.Role, id.SubjectID)
	if err == nil {
		return &Result{Profile: profile}, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		log.Error("profile lookup failed", zap.Error(err))
		s.record(id.Role, "lookup_failed")
		return nil, services.NewResolutionFailure("could not load profile", err)
	}

	registered, err := services.RegisteredRole(ctx, s.profiles, id.SubjectID, id.Role)
	if err != nil {
		log.Error("profile lookup failed", zap.Error(err))
		s.record(id.Role, "lookup_failed")
		return nil, services.NewResolutionFailure("could not load profile", err)
	}
	if registered != "" {
		log.Warn("subject already has a profile under another role",
			zap.String("registered_role", registered.String()))
		s.record(id.Role, "role_mismatch")
		return nil, services.NewRoleMismatch(registered)
	}

	profile = s.synthesize(ctx, log, id, accessToken)
	if err := s.profiles.Create(ctx, profile); err != nil {
		return s.createFailed(ctx, log, id, err)
	}

	s.record(id.Role, "created")
	s.recorder.Record(ctx, models.NewAuthEvent(models.AuthActionProfileProvisioned, models.AuthOutcomeSuccess).
		WithSubject(id.Role, profile.SubjectID, profile.Email).
		WithDetails(map[string]string{"source": string(id.Source)}))
	log.Info("profile provisioned", zap.Int64("profile_id", profile.ID))

	return &Result{Profile: profile, Created: true}, nil
}

// createFailed handles a failed create. A subject collision means another
// process won the race, so the stored profile is returned when it can be read.
// An email collision is permanent.
func (s *Service) createFailed(ctx context.Context, log *zap.Logger, id identity.Identity, err error) (*Result, error) {
	switch {
	case errors.Is(err, repositories.ErrDuplicateEmail):
		log.Warn("provider email belongs to another profile", zap.Error(err))
		s.record(id.Role, "email_conflict")
		return nil, services.NewEmailConflict(err)

	case errors.Is(err, repositories.ErrDuplicate):
		existing, getErr := s.profiles.GetBySubjectID(ctx, id.Role, id.SubjectID)
		if getErr == nil {
			log.Info("profile created concurrently, using stored profile")
			s.record(id.Role, "found")
			return &Result{Profile: existing}, nil
		}
		log.Warn("profile created concurrently", zap.Error(err), zap.NamedError("reread_error", getErr))
		s.record(id.Role, "conflict")
		return nil, services.NewProfileConflict(err)

	default:
		log.Error("profile create failed", zap.Error(err))
		s.record(id.Role, "create_failed")
		return nil, services.NewResolutionFailure("could not create profile", err)
	}
}

// synthesize builds the minimal profile for a first access
func (s *Service) synthesize(ctx context.Context, log *zap.Logger, id identity.Identity, accessToken string) *models.Profile {
	name, email, username := id.Name, id.Email, id.Username

	if (name == "" || email == "") && s.userInfo != nil && accessToken != "" {
		info, err := s.userInfo.GetUserInfo(ctx, accessToken)
		if err != nil {
			log.Warn("user info lookup failed, using credential claims", zap.Error(err))
		} else {
			name = firstNonEmpty(name, info.Name)
			email = firstNonEmpty(email, info.Email)
			username = firstNonEmpty(username, info.Username)
		}
	}

	email = models.NormalizeEmail(email)
	name = firstNonEmpty(name, username, localPart(email), id.SubjectID)
	if email == "" {
		email = strings.ToLower(id.SubjectID) + "@" + placeholderEmailDomain
	}

	return models.NewProfile(id.Role, id.SubjectID, name, email)
}

func (s *Service) record(role identity.Role, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordProvisioning(role.String(), outcome)
	}
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
