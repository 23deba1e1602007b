// Package accounts implements local email/password registration and login.
// Both operations end by minting a locally signed credential.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/internal/observability"
	"github.com/upb/rentiful/backend/models"
	"github.com/upb/rentiful/backend/repositories"
	"github.com/upb/rentiful/backend/services"
	"github.com/upb/rentiful/backend/services/audit"
)

// SubjectPrefix marks subject ids minted for locally registered accounts
const SubjectPrefix = "local-"

// loginOrder is the table order searched by Login
var loginOrder = []identity.Role{identity.RoleManager, identity.RoleTenant}

// TokenIssuer mints credentials for an identity
type TokenIssuer interface {
	Issue(id identity.Identity) (string, time.Time, error)
}

// Metrics receives local auth outcomes
type Metrics interface {
	RecordLocalAuth(action, outcome string)
}

// RegisterInput is the body of a registration request
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
	Name     string `json:"name" validate:"required,max=255"`
	Role     string `json:"role" validate:"required,role"`
}

// LoginInput is the body of a local login request
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Session is returned by Register and Login
type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      models.Summary `json:"user"`
}

// Service handles local account business logic
type Service struct {
	profiles   repositories.ProfileRepository
	txManager  repositories.TransactionManager
	issuer     TokenIssuer
	recorder   audit.Recorder
	metrics    Metrics
	bcryptCost int
	logger     *zap.Logger

	// dummyHash stands in for the stored hash when Login finds no account
	dummyHash []byte
}

// Config holds the accounts service settings
type Config struct {
	BcryptCost int
}

// NewService creates a new accounts service. recorder and metrics may be nil.
func NewService(
	profiles repositories.ProfileRepository,
	txManager repositories.TransactionManager,
	issuer TokenIssuer,
	recorder audit.Recorder,
	metrics Metrics,
	logger *zap.Logger,
	cfg Config,
) (*Service, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cfg.BcryptCost)
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare password hasher: %w", err)
	}

	return &Service{
		profiles:   profiles,
		txManager:  txManager,
		issuer:     issuer,
		recorder:   recorder,
		metrics:    metrics,
		bcryptCost: cfg.BcryptCost,
		logger:     logger,
		dummyHash:  dummy,
	}, nil
}

// Register creates a local account in the role's table and signs the caller in
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	role, ok := identity.ParseRole(input.Role)
	if !ok {
		s.record("register", false)
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			"invalid role, must be 'manager' or 'tenant'", nil).
			WithDetail("role", input.Role)
	}

	email := models.NormalizeEmail(input.Email)
	log := observability.WithContext(ctx, s.logger).With(
		zap.String("role", role.String()),
		zap.String("email", email),
	)

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		s.record("register", false)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, services.NewDomainError(services.ErrorTypeValidation, "password is too long", nil)
		}
		return nil, services.WrapInternal("failed to hash password", err)
	}

	profile, err := services.WithTransactionResult(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) (*models.Profile, error) {
		_, err := s.profiles.GetByEmail(ctx, role, email)
		switch {
		case err == nil:
			return nil, services.ErrEmailTaken
		case !errors.Is(err, repositories.ErrNotFound):
			return nil, services.WrapInternal("failed to check existing account", err)
		}

		profile := models.NewProfile(role, SubjectPrefix+uuid.NewString(), input.Name, email)
		profile.PasswordHash = string(hash)
		if err := s.profiles.Create(ctx, profile); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return nil, services.ErrEmailTaken
			}
			return nil, services.WrapInternal("failed to create account", err)
		}
		return profile, nil
	})
	if err != nil {
		s.record("register", false)
		if services.IsConflictError(err) {
			log.Info("registration rejected, email already registered")
			return nil, err
		}
		log.Error("registration failed", zap.Error(err))
		return nil, err
	}

	session, err := s.issue(profile)
	if err != nil {
		s.record("register", false)
		log.Error("failed to issue credential", zap.Error(err))
		return nil, err
	}

	s.record("register", true)
	s.recorder.Record(ctx, models.NewAuthEvent(models.AuthActionRegistered, models.AuthOutcomeSuccess).
		WithSubject(role, profile.SubjectID, profile.Email))
	log.Info("account registered", zap.String("subject_id", profile.SubjectID))

	return session, nil
}

// Login checks email and password against the manager table, then the
// tenant table. Unknown emails, provider-only accounts and wrong passwords
// all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, input LoginInput) (*Session, error) {
	email := models.NormalizeEmail(input.Email)
	log := observability.WithContext(ctx, s.logger).With(zap.String("email", email))

	profile, err := s.findByEmail(ctx, email)
	if err != nil {
		s.record("login", false)
		log.Error("login lookup failed", zap.Error(err))
		return nil, err
	}

	hash := s.dummyHash
	if profile != nil && profile.HasPassword() {
		hash = []byte(profile.PasswordHash)
	}
	compareErr := bcrypt.CompareHashAndPassword(hash, []byte(input.Password))

	if profile == nil || !profile.HasPassword() || compareErr != nil {
		s.record("login", false)
		event := models.NewAuthEvent(models.AuthActionLoginFailed, models.AuthOutcomeFailure)
		reason := "unknown_email"
		if profile != nil {
			event.WithSubject(profile.Role, profile.SubjectID, profile.Email)
			reason = "password_mismatch"
			if !profile.HasPassword() {
				reason = "provider_account"
			}
		}
		s.recorder.Record(ctx, event.WithDetails(map[string]string{"reason": reason}))
		log.Info("login rejected", zap.String("reason", reason))
		return nil, services.ErrInvalidCredentials
	}

	session, err := s.issue(profile)
	if err != nil {
		s.record("login", false)
		log.Error("failed to issue credential", zap.Error(err))
		return nil, err
	}

	s.record("login", true)
	s.recorder.Record(ctx, models.NewAuthEvent(models.AuthActionLoginSucceeded, models.AuthOutcomeSuccess).
		WithSubject(profile.Role, profile.SubjectID, profile.Email))
	log.Info("login succeeded",
		zap.String("subject_id", profile.SubjectID),
		zap.String("role", profile.Role.String()))

	return session, nil
}

// findByEmail returns nil, nil when no table has the email
func (s *Service) findByEmail(ctx context.Context, email string) (*models.Profile, error) {
	for _, role := range loginOrder {
		profile, err := s.profiles.GetByEmail(ctx, role, email)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, services.WrapInternal("failed to look up account", err)
		}
	}
	return nil, nil
}

func (s *Service) issue(profile *models.Profile) (*Session, error) {
	token, expiresAt, err := s.issuer.Issue(profile.Identity())
	if err != nil {
		return nil, services.WrapInternal("failed to issue credential", err)
	}
	return &Session{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      profile.Summary(),
	}, nil
}

func (s *Service) record(action string, ok bool) {
	if s.metrics == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	s.metrics.RecordLocalAuth(action, outcome)
}
