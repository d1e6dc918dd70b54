package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/agentcoder/internal/apperror"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", apperror.ValidationFailed("requirement", "requirement is required"), http.StatusBadRequest, "validation_error"},
		{"unauthorized", apperror.Unauthorized("bad token"), http.StatusUnauthorized, "unauthorized"},
		{"forbidden", apperror.Forbidden("no"), http.StatusForbidden, "forbidden"},
		{"not found", apperror.NotFound("run", "abc"), http.StatusNotFound, "not_found"},
		{"wrapped not found", fmt.Errorf("service: getting run: %w", apperror.NotFound("run", "abc")), http.StatusNotFound, "not_found"},
		{"conflict", apperror.Conflict("run event", "abc/1"), http.StatusConflict, "conflict"},
		{"orchestration", apperror.Orchestration("generate", errors.New("status 500")), http.StatusBadGateway, "orchestration_failure"},
		{"malformed test set", apperror.MalformedTestSet("inputs and outputs differ"), http.StatusBadGateway, "malformed_test_set"},
		{"unavailable", apperror.Unavailable("shutting down", nil), http.StatusServiceUnavailable, "unavailable"},
		{"canceled", apperror.Canceled("execute", nil), http.StatusInternalServerError, "internal_error"},
		{"plain error", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.wantType, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, errors.New("sqlite: no such table: runs"))

	assert.NotContains(t, rr.Body.String(), "sqlite")
}

func TestWriteError_KeepsField(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, apperror.ValidationFailed("limit", "limit must be a non-negative integer"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "limit", body.Field)
}
