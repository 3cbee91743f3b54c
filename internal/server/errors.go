// Package server provides the HTTP API for starting and watching pipeline runs.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/pipeline-monitor/internal/backend"
)

// ErrRunNotFound indicates no live run has the requested id
type ErrRunNotFound struct {
	RunID string
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrStreamingUnsupported indicates the response writer cannot flush
type ErrStreamingUnsupported struct{}

func (e *ErrStreamingUnsupported) Error() string {
	return "streaming not supported"
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		notFound   *ErrRunNotFound
		validation *ErrValidation
		backendErr *backend.Error
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &backendErr):
		if backendErr.StatusCode >= 400 && backendErr.StatusCode < 500 {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
