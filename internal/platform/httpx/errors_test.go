package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("task: %w", ErrNotFound), http.StatusNotFound},
		{"duplicate", ErrDuplicate, http.StatusConflict},
		{"validation", fmt.Errorf("%w: title required", ErrValidation), http.StatusBadRequest},
		{"forbidden", fmt.Errorf("rbac: %w", ErrForbidden), http.StatusForbidden},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"unavailable", fmt.Errorf("rbac: %w", ErrUnavailable), http.StatusServiceUnavailable},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"deadline", fmt.Errorf("resolve: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"canceled", context.Canceled, StatusClientClosedRequest},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)

			var body ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
		})
	}
}

func TestRespondErrorUnavailableSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, ErrUnavailable)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestBindValidation(t *testing.T) {
	type payload struct {
		Title string `json:"title" validate:"required"`
	}
	v := validator.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":""}`))
	var p payload
	err := Bind(req, &p, v)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "title required")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	require.ErrorIs(t, Bind(req, &p, v), ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"ship it"}`))
	require.NoError(t, Bind(req, &p, v))
	assert.Equal(t, "ship it", p.Title)
}
