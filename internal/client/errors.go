package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches any APIError carrying HTTP 401
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStreamConnection marks a failure to establish the event stream
	ErrStreamConnection = errors.New("event stream connection failed")
)

// APIError is a non-success HTTP response
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API request failed: %s", e.Status)
	}
	return fmt.Sprintf("API request failed: %s - %s", e.Status, e.Body)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// IsUnauthorized reports whether err carries an HTTP 401
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
