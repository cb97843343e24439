package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticKeySet bool

func (k staticKeySet) Warm() bool { return bool(k) }

func readiness(t *testing.T, h *HealthHandler) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.HandleReadiness(w, req)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response["data"].(map[string]interface{})
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		code, data := readiness(t, NewHealthHandler(db, logger))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		code, data := readiness(t, NewHealthHandler(db, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "unhealthy", checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		code, _ := readiness(t, NewHealthHandler(db, logger))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no database configured", func(t *testing.T) {
		code, data := readiness(t, NewHealthHandler(nil, logger))

		assert.Equal(t, http.StatusOK, code)
		assert.Nil(t, data["checks"])
	})

	t.Run("cold key set does not fail readiness", func(t *testing.T) {
		code, data := readiness(t, NewHealthHandler(nil, logger).WithKeySet(staticKeySet(false)))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "cold", data["checks"].(map[string]interface{})["signing_keys"])

		_, data = readiness(t, NewHealthHandler(nil, logger).WithKeySet(staticKeySet(true)))
		assert.Equal(t, "warm", data["checks"].(map[string]interface{})["signing_keys"])
	})

	t.Run("extra dependency checks", func(t *testing.T) {
		handler := NewHealthHandler(nil, logger).
			WithCheck("redis", func(context.Context) error { return errors.New("connection refused") }).
			WithCheck("other", func(context.Context) error { return nil })

		code, data := readiness(t, handler)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "unhealthy", checks["redis"])
		assert.Equal(t, "healthy", checks["other"])
	})
}
