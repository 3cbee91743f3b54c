package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/pipeline-monitor/internal/backend"
)

func TestErrRunNotFound(t *testing.T) {
	err := &ErrRunNotFound{RunID: "abc"}
	assert.Equal(t, "run not found: abc", err.Error())
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "tickers", Message: "is required"}
	assert.Equal(t, "validation error: tickers - is required", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "ErrRunNotFound",
			err:      &ErrRunNotFound{RunID: "x"},
			expected: http.StatusNotFound,
		},
		{
			name:     "wrapped ErrValidation",
			err:      fmt.Errorf("decode: %w", &ErrValidation{Field: "mode"}),
			expected: http.StatusBadRequest,
		},
		{
			name:     "backend rejected request",
			err:      &backend.Error{StatusCode: http.StatusUnprocessableEntity, Message: "bad tickers"},
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "backend unavailable",
			err:      &backend.Error{StatusCode: http.StatusServiceUnavailable},
			expected: http.StatusBadGateway,
		},
		{
			name:     "backend unreachable",
			err:      &backend.Error{Message: "HTTP request failed", Cause: errors.New("connection refused")},
			expected: http.StatusBadGateway,
		},
		{
			name:     "streaming unsupported",
			err:      &ErrStreamingUnsupported{},
			expected: http.StatusInternalServerError,
		},
		{
			name:     "generic error",
			err:      errors.New("boom"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
