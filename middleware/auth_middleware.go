package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/internal/observability"
	"github.com/upb/rentiful/backend/services"
	"github.com/upb/rentiful/backend/utils"
)

// Guard rejection reasons, used as metric labels
const (
	ReasonNoCredential      = string(services.ErrorTypeNoCredential)
	ReasonInvalidCredential = string(services.ErrorTypeInvalidCredential)
	ReasonNoRole            = string(services.ErrorTypeNoRole)
	ReasonForbidden         = string(services.ErrorTypeForbidden)
)

// CredentialVerifier resolves a raw credential to an identity
type CredentialVerifier interface {
	Verify(ctx context.Context, raw string) (*identity.Identity, error)
}

// GuardMetrics counts guard rejections
type GuardMetrics interface {
	RecordGuardRejection(reason string)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	verifier CredentialVerifier
	metrics  GuardMetrics
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. metrics may be nil.
func NewAuthMiddleware(verifier CredentialVerifier, metrics GuardMetrics, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// Authenticate verifies the request's bearer credential. Errors wrap
// identity.ErrNoCredential, identity.ErrInvalidCredential or identity.ErrNoRole.
func (m *AuthMiddleware) Authenticate(r *http.Request) (*identity.Identity, error) {
	token := extractBearerToken(r)
	if token == "" {
		return nil, identity.ErrNoCredential
	}
	return m.verifier.Verify(r.Context(), token)
}

// Guard admits requests whose verified role is in allowed; with no roles
// listed any verified identity is admitted. On success the identity is
// added to the request context.
func (m *AuthMiddleware) Guard(allowed ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := observability.WithContext(ctx, m.logger)
			if _, ok := observability.RequestMetaFrom(ctx); !ok {
				log = log.With(
					zap.String("request_id", GetRequestIDFromContext(ctx)),
					zap.String("route", r.URL.Path),
				)
			}

			id, err := m.Authenticate(r)
			if err != nil {
				rejected := services.FromIdentityError(err)
				m.reject(log, string(rejected.Type), zap.Error(err))
				writeRejection(w, rejected)
				return
			}

			if len(allowed) > 0 && !id.HasRole(allowed...) {
				m.reject(log, ReasonForbidden,
					zap.String("subject_id", id.SubjectID),
					zap.String("role", id.Role.String()))
				writeRejection(w, services.ErrForbidden)
				return
			}

			log.Debug("request authenticated",
				zap.String("subject_id", id.SubjectID),
				zap.String("role", id.Role.String()),
				zap.String("source", string(id.Source)))

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

func (m *AuthMiddleware) reject(log *zap.Logger, reason string, fields ...zap.Field) {
	log.Warn("request rejected by access guard", append(fields, zap.String("reason", reason))...)
	if m.metrics != nil {
		m.metrics.RecordGuardRejection(reason)
	}
}

// writeRejection writes a guard rejection with the status handlers use for
// the same domain error: 403 for role problems, 401 otherwise
func writeRejection(w http.ResponseWriter, err *services.DomainError) {
	message := services.PublicMessage(err)
	if services.IsForbiddenError(err) {
		_ = utils.WriteForbidden(w, message)
		return
	}
	_ = utils.WriteUnauthorized(w, message)
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(strings.TrimSpace(authHeader), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
