package sdk

import (
	"errors"
	"fmt"
	"net/http"
)

// Common SDK errors that clients can check for specific error handling.
var (
	// ErrInvalidConfig indicates the client configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid client configuration")

	// ErrNoBaseURLs indicates no server URLs were provided.
	ErrNoBaseURLs = errors.New("no base URLs provided")

	// ErrAllInstancesFailed indicates every server URL was unreachable.
	ErrAllInstancesFailed = errors.New("all server instances failed")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrRateLimited indicates the request was rate limited by the server.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrServerError indicates an internal server error occurred.
	ErrServerError = errors.New("internal server error")

	// ErrBadRequest indicates the request was malformed or invalid.
	ErrBadRequest = errors.New("bad request")

	// ErrConflict indicates the request conflicts with the current topology,
	// including rejected upgrades, locked objects and missing requirements.
	ErrConflict = errors.New("conflict with current state")

	// ErrPayloadTooLarge indicates an uploaded bundle exceeds the server limit.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Code is the machine-readable error code (e.g., "upgrade_rejected").
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID identifies the request in server logs.
	RequestID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap maps the status code to one of the SDK sentinel errors.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return ErrBadRequest
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode == http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServerError
	}
	return nil
}
