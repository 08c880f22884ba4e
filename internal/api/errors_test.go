package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/docsage-api/internal/content"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/service"
	"github.com/phrazzld/docsage-api/internal/service/auth"
	"github.com/phrazzld/docsage-api/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid token", auth.ErrInvalidToken, http.StatusUnauthorized},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"task not found", service.ErrTaskNotFound, http.StatusNotFound},
		{"wrapped store not found", fmt.Errorf("lookup: %w", store.ErrContentNotFound), http.StatusNotFound},
		{"already terminal", service.ErrAlreadyTerminal, http.StatusConflict},
		{"content in use", store.ErrContentInUse, http.StatusConflict},
		{"saturated", service.ErrQueueSaturated, http.StatusTooManyRequests},
		{"too large", fmt.Errorf("%w: 10 bytes", content.ErrContentTooLarge), http.StatusRequestEntityTooLarge},
		{"validation", domain.NewValidationError("type", "is invalid", domain.ErrInvalidTaskType), http.StatusBadRequest},
		{"invalid entity", store.ErrInvalidEntity, http.StatusBadRequest},
		{"storage", content.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessageDoesNotLeakDetails(t *testing.T) {
	err := fmt.Errorf("failed to query tasks: %w", errors.New(`pq: relation "tasks" at 10.0.0.5`))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(err))

	err = fmt.Errorf("%w: fingerprint abc at /var/data", content.ErrStorageUnavailable)
	assert.Equal(t, "Content storage is unavailable", GetSafeErrorMessage(err))

	err = domain.NewValidationError("options.question", "is required for qa tasks", domain.ErrValidation)
	assert.Equal(t, "Invalid options.question: is required for qa tasks", GetSafeErrorMessage(err))

	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}

func TestSanitizeValidationError(t *testing.T) {
	err := errors.New("Key: 'CreateTaskRequest.Type' Error:Field validation for 'Type' failed on the 'oneof' tag")
	assert.Equal(t, "Invalid Type: invalid value", SanitizeValidationError(err))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("something else")))
}
