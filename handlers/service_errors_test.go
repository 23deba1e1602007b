package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/services"
	"github.com/upb/rentiful/backend/utils"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
		retryable      bool
	}{
		{name: "validation", err: services.NewDomainError(services.ErrorTypeValidation, "password is too long", nil), expectedStatus: http.StatusBadRequest, expectedError: "bad_request"},
		{name: "no credential", err: services.ErrNoCredential, expectedStatus: http.StatusUnauthorized, expectedError: "unauthorized"},
		{name: "invalid credential", err: services.ErrInvalidCredential, expectedStatus: http.StatusUnauthorized, expectedError: "unauthorized"},
		{name: "invalid email or password", err: services.ErrInvalidCredentials, expectedStatus: http.StatusUnauthorized, expectedError: "unauthorized"},
		{name: "no role", err: services.ErrNoRole, expectedStatus: http.StatusForbidden, expectedError: "forbidden"},
		{name: "forbidden", err: services.ErrForbidden, expectedStatus: http.StatusForbidden, expectedError: "forbidden"},
		{name: "not found", err: services.ErrProfileNotFound, expectedStatus: http.StatusNotFound, expectedError: "not_found"},
		{name: "email taken", err: services.ErrEmailTaken, expectedStatus: http.StatusConflict, expectedError: "conflict"},
		{name: "concurrent create", err: services.NewProfileConflict(errors.New("23505")), expectedStatus: http.StatusConflict, expectedError: "conflict", retryable: true},
		{name: "email held by another profile", err: services.NewEmailConflict(errors.New("23505")), expectedStatus: http.StatusConflict, expectedError: "conflict"},
		{name: "subject under another role", err: services.NewRoleMismatch(identity.RoleTenant), expectedStatus: http.StatusForbidden, expectedError: "forbidden"},
		{name: "rate limit", err: services.ErrRateLimitExceeded, expectedStatus: http.StatusTooManyRequests, expectedError: "rate_limit_exceeded"},
		{name: "resolution failure", err: services.NewResolutionFailure("could not load profile", errors.New("timeout")), expectedStatus: http.StatusServiceUnavailable, expectedError: "service_unavailable", retryable: true},
		{name: "internal", err: services.WrapInternal("db down", errors.New("dial tcp")), expectedStatus: http.StatusInternalServerError, expectedError: "internal_error"},
		{name: "plain error", err: errors.New("boom"), expectedStatus: http.StatusInternalServerError, expectedError: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			response := decodeError(t, w)
			assert.Equal(t, tt.expectedError, response.Error)
			assert.NotEmpty(t, response.Message)
			if tt.retryable {
				assert.Equal(t, true, response.Details["retryable"])
			} else {
				assert.NotEqual(t, true, response.Details["retryable"])
			}
		})
	}
}

func TestHandleServiceError_HidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, services.WrapInternal("lookup failed", errors.New("pq: password authentication failed for user rentiful")), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
	assert.NotContains(t, w.Body.String(), "password authentication")
}

func TestHandleServiceError_NilIsNoop(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, nil, zap.NewNop())
	assert.Equal(t, 0, w.Body.Len())
}

func TestHandleValidationError(t *testing.T) {
	type body struct {
		Email string `json:"email" validate:"required,email"`
	}

	t.Run("field errors become details", func(t *testing.T) {
		err := utils.ValidateStruct(body{Email: "nope"})
		require.Error(t, err)

		w := httptest.NewRecorder()
		HandleValidationError(w, err, zap.NewNop())

		assert.Equal(t, http.StatusBadRequest, w.Code)
		response := decodeError(t, w)
		assert.Equal(t, "Validation failed", response.Message)
		assert.Contains(t, response.Details, "email")
	})

	t.Run("decode errors keep their message", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
		w := httptest.NewRecorder()
		var dst body
		assert.False(t, decodeAndValidate(w, req, &dst, zap.NewNop()))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Message, "invalid JSON body")
	})
}
