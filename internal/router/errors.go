package router

import (
	"errors"
	"fmt"
	"net/http"
)

// RouteError is a routing failure with an HTTP status the API layer
// can answer with directly.
type RouteError struct {
	Status int
	Detail string
	Err    error
}

func (e *RouteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *RouteError) Unwrap() error { return e.Err }

// badRequest is a client error: the request itself is unroutable.
func badRequest(detail string) *RouteError {
	return &RouteError{Status: http.StatusBadRequest, Detail: detail}
}

// internalError is a server-side failure: configuration or backend.
func internalError(detail string, err error) *RouteError {
	return &RouteError{Status: http.StatusInternalServerError, Detail: detail, Err: err}
}

// StatusFor returns the HTTP status for a routing error, defaulting to
// 500 for anything that is not a RouteError.
func StatusFor(err error) int {
	var re *RouteError
	if errors.As(err, &re) {
		return re.Status
	}
	return http.StatusInternalServerError
}

// DetailFor returns the client-facing detail string for an error.
func DetailFor(err error) string {
	var re *RouteError
	if errors.As(err, &re) {
		return re.Detail
	}
	return "internal server error"
}
