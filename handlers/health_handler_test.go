package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/rentiful/backend/repositories/postgres"
)

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeHealth(t, w)
	assert.Equal(t, "ok", response.Status)
	assert.NotEmpty(t, response.Timestamp)
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		setup      func(sqlmock.Sqlmock)
		wantStatus int
		wantBody   string
		wantCheck  string
	}{
		{
			name: "ready when database answers",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectPing()
				m.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
			},
			wantStatus: http.StatusOK,
			wantBody:   "ready",
			wantCheck:  "healthy",
		},
		{
			name: "not ready when ping fails",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectPing().WillReturnError(sql.ErrConnDone)
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not_ready",
			wantCheck:  "unhealthy",
		},
		{
			name: "not ready when query fails",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectPing()
				m.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not_ready",
			wantCheck:  "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			require.NoError(t, err)
			defer db.Close()
			tt.setup(mock)

			handler := NewHealthHandler(postgres.Wrap(db, logger), logger)
			w := httptest.NewRecorder()
			handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			response := decodeHealth(t, w)
			assert.Equal(t, tt.wantBody, response.Status)
			assert.Equal(t, tt.wantCheck, response.Checks["database"])
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("not ready without a database", func(t *testing.T) {
		handler := NewHealthHandler(nil, logger)
		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "not_configured", decodeHealth(t, w).Checks["database"])
	})
}
