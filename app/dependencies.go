package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/upb/rentiful/backend/cognito"
	"github.com/upb/rentiful/backend/config"
	"github.com/upb/rentiful/backend/handlers"
	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/internal/observability"
	"github.com/upb/rentiful/backend/middleware"
	"github.com/upb/rentiful/backend/repositories"
	"github.com/upb/rentiful/backend/repositories/postgres"
	"github.com/upb/rentiful/backend/services/accounts"
	"github.com/upb/rentiful/backend/services/audit"
	"github.com/upb/rentiful/backend/services/profiles"
	"github.com/upb/rentiful/backend/services/provisioning"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repositories
	RepoFactory *postgres.RepositoryFactory
	Profiles    repositories.ProfileRepository
	AuthEvents  repositories.AuthEventRepository
	TxManager   repositories.TransactionManager

	// Identity
	Verifier *identity.Verifier
	Issuer   *identity.Issuer

	// Services
	Audit        *audit.Service
	Accounts     *accounts.Service
	Provisioning *provisioning.Service
	ProfileSvc   *profiles.Service

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
	AuthHandler    *handlers.AuthHandler
	Managers       *handlers.ProfileHandler
	Tenants        *handlers.ProfileHandler
	Health         *handlers.HealthHandler

	stopBackground context.CancelFunc
}

// NewDependencies opens the database and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesWithDB(ctx, cfg, factory.GetDB(), logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithDB wires dependencies over an open connection pool
func NewDependenciesWithDB(ctx context.Context, cfg *config.Config, db *postgres.DB, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		DB:      db,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if cfg.Database.InitSchema {
		if err := db.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	deps.initRepositories()

	if err := deps.initServices(cfg); err != nil {
		_ = deps.stopAudit()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.RepoFactory = postgres.NewRepositoryFactoryWithDB(d.DB, d.Logger)
	repos := d.RepoFactory.NewRepositories()

	d.Profiles = repos.Profiles
	d.AuthEvents = repos.AuthEvents
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	var recorder audit.Recorder = audit.Nop{}
	if cfg.Audit.Enabled {
		d.Audit = audit.NewService(d.AuthEvents, d.Logger, d.Metrics, audit.Config{
			BufferSize:  cfg.Audit.BufferSize,
			WorkerCount: cfg.Audit.WorkerCount,
		})
		if err := d.Audit.Start(); err != nil {
			return fmt.Errorf("failed to start audit service: %w", err)
		}
		recorder = d.Audit
	}

	d.Issuer = identity.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	d.Verifier = identity.NewVerifier(d.Logger, d.Metrics,
		identity.NewLocalStrategy(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		d.providerStrategy(cfg),
	)

	accountSvc, err := accounts.NewService(d.Profiles, d.TxManager, d.Issuer, recorder, d.Metrics, d.Logger,
		accounts.Config{BcryptCost: cfg.Auth.BcryptCost})
	if err != nil {
		return err
	}
	d.Accounts = accountSvc

	var userInfo provisioning.UserInfoFetcher
	if client := cognito.NewUserInfoClient(cfg.Cognito.Domain, cfg.Cognito.HTTPTimeout); client != nil {
		userInfo = client
	}
	d.Provisioning = provisioning.NewService(d.Profiles, userInfo, recorder, d.Metrics, d.Logger)
	d.ProfileSvc = profiles.NewService(d.Profiles, d.Logger)

	return nil
}

// providerStrategy builds the Cognito strategy. Signature verification is
// opt-in; without it provider claims are trusted as presented.
func (d *Dependencies) providerStrategy(cfg *config.Config) *identity.ProviderStrategy {
	if !cfg.Cognito.VerifySignature {
		d.Logger.Warn("provider credentials are accepted without signature verification",
			zap.String("hint", "set COGNITO_VERIFY_SIGNATURE=true"))
		return identity.NewProviderStrategy(nil, cfg.Auth.Issuer)
	}

	validator := cognito.NewCognitoValidator(cognito.Config{
		Region:      cfg.Cognito.Region,
		UserPoolID:  cfg.Cognito.UserPoolID,
		ClientID:    cfg.Cognito.ClientID,
		CacheTTL:    cfg.Cognito.JWKSCacheTTL,
		HTTPTimeout: cfg.Cognito.HTTPTimeout,
	})
	d.Logger.Info("provider signature verification enabled",
		zap.String("user_pool_id", cfg.Cognito.UserPoolID))
	return identity.NewProviderStrategy(validator, cfg.Auth.Issuer)
}

func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Verifier, d.Metrics, d.Logger)

	if cfg.RateLimit.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		d.stopBackground = cancel
		d.RateLimiter = middleware.NewRateLimiter(ctx, rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	d.AuthHandler = handlers.NewAuthHandler(d.Accounts, d.Provisioning, d.Logger)
	d.Managers = handlers.NewProfileHandler(identity.RoleManager, d.ProfileSvc, d.Logger)
	d.Tenants = handlers.NewProfileHandler(identity.RoleTenant, d.ProfileSvc, d.Logger)
	d.Health = handlers.NewHealthHandler(d.DB, d.Logger)
}

func (d *Dependencies) stopAudit() error {
	if d.Audit == nil || !d.Audit.Stats().Running {
		return nil
	}
	timeout := d.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return d.Audit.Stop(timeout)
}

// Close gracefully shuts down all dependencies. Pending audit events are
// flushed before the database closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopBackground != nil {
		d.stopBackground()
	}

	if err := d.stopAudit(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
