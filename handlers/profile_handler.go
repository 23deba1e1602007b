package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/internal/observability"
	"github.com/upb/rentiful/backend/middleware"
	"github.com/upb/rentiful/backend/models"
	"github.com/upb/rentiful/backend/services"
	"github.com/upb/rentiful/backend/services/profiles"
	"github.com/upb/rentiful/backend/utils"
)

// ProfileService reads and edits profiles of one role
type ProfileService interface {
	Get(ctx context.Context, role identity.Role, subjectID string) (*models.Profile, error)
	Create(ctx context.Context, role identity.Role, subjectID string, input profiles.Input) (*models.Profile, error)
	Update(ctx context.Context, role identity.Role, subjectID string, input profiles.Input) (*models.Profile, error)
}

// CreateProfileRequest is the body of POST /managers and POST /tenants.
// SubjectID defaults to the caller; cognitoId is accepted as an alias.
type CreateProfileRequest struct {
	profiles.Input
	SubjectID string `json:"subjectId"`
	CognitoID string `json:"cognitoId"`
}

// ProfileHandler serves /managers or /tenants for a single role. Callers
// only ever see and edit their own profile.
type ProfileHandler struct {
	role    identity.Role
	service ProfileService
	logger  *zap.Logger
}

// NewProfileHandler creates a handler for profiles of role
func NewProfileHandler(role identity.Role, service ProfileService, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{
		role:    role,
		service: service,
		logger:  logger.With(zap.String("role", role.String())),
	}
}

// HandleGet handles GET /{subjectId}
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	log := observability.WithContext(r.Context(), h.logger)

	subjectID, ok := h.ownSubject(w, r, chi.URLParam(r, "subjectId"), log)
	if !ok {
		return
	}

	profile, err := h.service.Get(r.Context(), h.role, subjectID)
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}

	if err := utils.WriteOK(w, profile); err != nil {
		log.Error("failed to write profile response", zap.Error(err))
	}
}

// HandleCreate handles POST /
func (h *ProfileHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	log := observability.WithContext(r.Context(), h.logger)

	var req CreateProfileRequest
	if !decodeAndValidate(w, r, &req, log) {
		return
	}

	requested := req.SubjectID
	if requested == "" {
		requested = req.CognitoID
	}
	subjectID, ok := h.ownSubject(w, r, requested, log)
	if !ok {
		return
	}

	profile, err := h.service.Create(r.Context(), h.role, subjectID, req.Input)
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}

	if err := utils.WriteCreated(w, profile); err != nil {
		log.Error("failed to write profile response", zap.Error(err))
	}
}

// HandleUpdate handles PUT /{subjectId}
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	log := observability.WithContext(r.Context(), h.logger)

	subjectID, ok := h.ownSubject(w, r, chi.URLParam(r, "subjectId"), log)
	if !ok {
		return
	}

	var input profiles.Input
	if !decodeAndValidate(w, r, &input, log) {
		return
	}

	profile, err := h.service.Update(r.Context(), h.role, subjectID, input)
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}

	if err := utils.WriteOK(w, profile); err != nil {
		log.Error("failed to write profile response", zap.Error(err))
	}
}

// ownSubject resolves the target subject. An empty request targets the
// caller; any other subject is forbidden.
func (h *ProfileHandler) ownSubject(w http.ResponseWriter, r *http.Request, requested string, log *zap.Logger) (string, bool) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		HandleServiceError(w, services.ErrNoCredential, log)
		return "", false
	}

	requested = strings.TrimSpace(requested)
	if requested != "" && requested != id.SubjectID {
		log.Warn("profile access denied",
			zap.String("subject_id", id.SubjectID),
			zap.String("requested_subject_id", requested))
		HandleServiceError(w, services.ErrForbidden, log)
		return "", false
	}
	return id.SubjectID, true
}
