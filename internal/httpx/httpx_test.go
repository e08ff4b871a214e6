package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coursemarket/internal/apperr"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"validation", apperr.Invalid("price", "too low"), http.StatusUnprocessableEntity, `{"message":"Invalid fields","errors":{"price":["too low"]}}`},
		{"unauthorized", apperr.Unauthorized("bad_token", "token expired"), http.StatusForbidden, `{"message":"Forbidden for you"}`},
		{"not found", fmt.Errorf("wrapped: %w", apperr.NotFound("x", "missing")), http.StatusNotFound, `{"message":"Not found"}`},
		{"conflict", apperr.Conflict("capacity_exceeded", "full"), http.StatusConflict, `{"message":"full","code":"capacity_exceeded"}`},
		{"rate limited", &apperr.Error{Kind: apperr.ErrRateLimited, Code: "rl", Message: "slow down"}, http.StatusTooManyRequests, `{"message":"Too many requests"}`},
		{"internal", errors.New("pq: connection refused"), http.StatusInternalServerError, `{"message":"Internal error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	var v map[string]any
	err := Decode(req, &v)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUUIDParam(t *testing.T) {
	r := chi.NewRouter()
	var got error
	r.Get("/courses/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, got = UUIDParam(r, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/courses/42", nil))
	assert.ErrorIs(t, got, apperr.ErrNotFound)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/courses/5b0f6c1e-8a51-4f55-9a0c-8b3b0e1f2a3c", nil))
	assert.NoError(t, got)
}

func TestJSONContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]bool{"success": true})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["success"])
}
