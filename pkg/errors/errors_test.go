package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
}

func TestAppError_WithCause(t *testing.T) {
	original := errors.New("original error")
	err := WrapError(original, ErrCodeInternal, "wrapped error", http.StatusInternalServerError)

	assert.Same(t, original, err.Cause)
	assert.Contains(t, err.Error(), "original error")
	assert.ErrorIs(t, err, original)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewInvalidInputError("bad").WithContext("field", "name").WithContext("count", 2)
	assert.Equal(t, "name", err.Context["field"])
	assert.Equal(t, 2, err.Context["count"])
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("x"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("group"), ErrCodeNotFound, http.StatusNotFound},
		{NewUnauthorizedError("x"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewForbiddenError("x"), ErrCodeForbidden, http.StatusForbidden},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewInternalError("x"), ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.HTTPStatus)
	}
	assert.Equal(t, "group not found", NewNotFoundError("group").Message)
}

func TestGetAppError_Unwraps(t *testing.T) {
	app := NewNotFoundError("channel")
	wrapped := fmt.Errorf("loading: %w", app)

	assert.Same(t, app, GetAppError(wrapped))
	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

func TestTranslate(t *testing.T) {
	errMissing := errors.New("group not found")
	mappings := []Mapping{{Target: errMissing, Code: ErrCodeNotFound, Status: http.StatusNotFound}}

	got := Translate(fmt.Errorf("get g1: %w", errMissing), mappings...)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeNotFound, got.Code)
	assert.Equal(t, http.StatusNotFound, got.HTTPStatus)

	got = Translate(errors.New("boom"), mappings...)
	assert.Equal(t, ErrCodeInternal, got.Code)

	existing := NewForbiddenError("taken")
	assert.Same(t, existing, Translate(existing, mappings...))
	assert.Nil(t, Translate(nil))
}
