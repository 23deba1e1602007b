package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/internal/observability"
	"github.com/upb/rentiful/backend/middleware"
	"github.com/upb/rentiful/backend/models"
	"github.com/upb/rentiful/backend/services"
	"github.com/upb/rentiful/backend/services/accounts"
	"github.com/upb/rentiful/backend/services/provisioning"
	"github.com/upb/rentiful/backend/utils"
)

// AccountService registers and logs in local accounts
type AccountService interface {
	Register(ctx context.Context, input accounts.RegisterInput) (*accounts.Session, error)
	Login(ctx context.Context, input accounts.LoginInput) (*accounts.Session, error)
}

// ProviderAccessTokenHeader carries the provider access token on GET
// /auth/me. The bearer credential is an ID token, which the provider's
// user-info endpoint does not accept.
const ProviderAccessTokenHeader = "X-Provider-Access-Token"

// ProfileResolver maps a verified identity to its profile, creating it on first sight
type ProfileResolver interface {
	ResolveOrCreate(ctx context.Context, id identity.Identity, accessToken string) (*provisioning.Result, error)
}

// MeResponse is the body of GET /auth/me
type MeResponse struct {
	User    models.Summary `json:"user"`
	Role    identity.Role  `json:"role"`
	Created bool           `json:"created"`
}

// AuthHandler serves the credential endpoints
type AuthHandler struct {
	accounts AccountService
	resolver ProfileResolver
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(accounts AccountService, resolver ProfileResolver, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		resolver: resolver,
		logger:   logger,
	}
}

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	log := observability.WithContext(r.Context(), h.logger)

	var input accounts.RegisterInput
	if !decodeAndValidate(w, r, &input, log) {
		return
	}

	session, err := h.accounts.Register(r.Context(), input)
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}

	if err := utils.WriteCreated(w, session); err != nil {
		log.Error("failed to write register response", zap.Error(err))
	}
}

// HandleLoginLocal handles POST /auth/login-local
func (h *AuthHandler) HandleLoginLocal(w http.ResponseWriter, r *http.Request) {
	log := observability.WithContext(r.Context(), h.logger)

	var input accounts.LoginInput
	if !decodeAndValidate(w, r, &input, log) {
		return
	}

	session, err := h.accounts.Login(r.Context(), input)
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}

	if err := utils.WriteOK(w, session); err != nil {
		log.Error("failed to write login response", zap.Error(err))
	}
}

// HandleMe handles GET /auth/me. It runs behind the access guard and
// provisions a profile for provider identities seen for the first time.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.WithContext(ctx, h.logger)

	id := middleware.IdentityFromContext(ctx)
	if id == nil {
		HandleServiceError(w, services.ErrNoCredential, log)
		return
	}

	accessToken := strings.TrimSpace(r.Header.Get(ProviderAccessTokenHeader))
	result, err := h.resolver.ResolveOrCreate(ctx, *id, accessToken)
	if err != nil {
		HandleServiceError(w, err, log.With(zap.String("subject_id", id.SubjectID)))
		return
	}

	if err := utils.WriteOK(w, MeResponse{
		User:    result.Profile.Summary(),
		Role:    result.Profile.Role,
		Created: result.Created,
	}); err != nil {
		log.Error("failed to write me response", zap.Error(err))
	}
}
