package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderClassification(t *testing.T) {
	err := NotFoundError("context not found").
		WithContext("level", "task").
		WithContext("context_id", "t-1").
		Build()

	require.True(t, IsClassified(err))
	assert.Equal(t, CategoryNotFound, err.Category())
	assert.Equal(t, SeverityError, err.Severity())

	id, ok := err.Context().GetString("context_id")
	require.True(t, ok)
	assert.Equal(t, "t-1", id)
}

func TestConflictErrorIsRefreshable(t *testing.T) {
	err := ConflictError("delete blocked by children").Build()
	assert.Equal(t, RetryRefresh, err.RetryStrategy())
	assert.True(t, err.CanRetry())
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(cause, CategoryStore, "persist context").Build()
	assert.ErrorIs(t, errors.Unwrap(err), cause)
}

func TestHTTPAdapterStatusCodes(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", ValidationError("empty id").Build(), http.StatusBadRequest},
		{"not_found", NotFoundError("missing").Build(), http.StatusNotFound},
		{"conflict", ConflictError("children exist").Build(), http.StatusConflict},
		{"timeout", TimeoutError("store deadline").Build(), http.StatusGatewayTimeout},
		{"transport", TransportError("send failed").Build(), http.StatusBadGateway},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
		{"nil", nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, adapter.StatusCodeFor(tc.err))
		})
	}
}

func TestFormatErrorResponseCarriesContext(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)
	err := NotFoundError("ancestor missing").
		WithContext("level", "branch").
		WithContext("action", "resolve").
		Build()

	resp := adapter.FormatErrorResponse(err)
	assert.Equal(t, "not_found", resp.Code)
	assert.Equal(t, "branch", resp.Details["level"])
	assert.Equal(t, "resolve", resp.Details["action"])
}
