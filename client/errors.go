package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport means the request never produced an HTTP response.
	ErrTransport = errors.New("transport failure")
	// ErrValidation means the server rejected the payload (400/422).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means the task or project no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means the bearer token was missing or refused.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrServer covers 5xx responses.
	ErrServer = errors.New("server error")
)

// APIError is a non-2xx response from the collaborator.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("api %d: %s", e.Status, msg)
}

// Is maps status codes onto the sentinel taxonomy.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrServer:
		return e.Status >= http.StatusInternalServerError
	}
	return false
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
